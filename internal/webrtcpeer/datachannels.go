package webrtcpeer

import (
	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the label clients use for the probe channel. The server
// echoes on every channel regardless of label.
const DataChannelLabel = "client-data"

// UnreliableDataChannelInit configures a channel that neither orders nor
// retransmits, so a lost probe never delays the ones sent after it.
func UnreliableDataChannelInit() *webrtc.DataChannelInit {
	ordered := false
	maxRetransmits := uint16(0)
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	}
}

// IsUnreliable reports whether dc was negotiated unordered with
// maxRetransmits=0.
func IsUnreliable(dc *webrtc.DataChannel) bool {
	if dc.Ordered() || dc.MaxPacketLifeTime() != nil {
		return false
	}
	maxRetransmits := dc.MaxRetransmits()
	return maxRetransmits != nil && *maxRetransmits == 0
}
