// Package rtcclient is the client half of session negotiation and the
// collection loop that drives a latency.Monitor over the negotiated channel.
package rtcclient

import (
	"github.com/pion/webrtc/v4"
)

// DataChannel is the part of a data channel the client uses.
// *webrtc.DataChannel satisfies it.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	SendText(s string) error
	Send(data []byte) error
	Close() error
}

// Transport is the peer connection a Negotiator drives. WrapPeerConnection
// adapts a pion PeerConnection.
type Transport interface {
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(init webrtc.ICECandidateInit) error
	// GatheringComplete is closed once candidate gathering finishes. It must
	// be requested before SetLocalDescription.
	GatheringComplete() <-chan struct{}
	Close() error
}

type peerConnection struct {
	*webrtc.PeerConnection
}

func WrapPeerConnection(pc *webrtc.PeerConnection) Transport {
	return peerConnection{PeerConnection: pc}
}

func (p peerConnection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error) {
	dc, err := p.PeerConnection.CreateDataChannel(label, init)
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (p peerConnection) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.PeerConnection)
}
