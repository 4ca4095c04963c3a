package webrtcpeer

import (
	"encoding/json"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/metrics"
)

// Welcome is sent once when a data channel opens. It is informational only;
// clients treat it as ordinary application data.
type Welcome struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	At          string `json:"at"`
	Connections string `json:"connections"`
}

const (
	WelcomeType    = "welcome"
	WelcomeMessage = "RTC channel established with server"
)

// echoChannel is the sending half of a data channel.
type echoChannel interface {
	Send(data []byte) error
	SendText(s string) error
}

// echo sends msg back unchanged, preserving its text/binary framing.
func echo(ch echoChannel, msg webrtc.DataChannelMessage) error {
	if msg.IsString {
		return ch.SendText(string(msg.Data))
	}
	// pion reuses the receive buffer.
	return ch.Send(append([]byte(nil), msg.Data...))
}

func (s *Session) handleDataChannel(dc *webrtc.DataChannel) {
	log := s.logger().With("label", dc.Label())
	if !IsUnreliable(dc) {
		log.Debug("data channel is ordered or reliable", "ordered", dc.Ordered())
	}

	dc.OnOpen(func() {
		s.cfg.Metrics.Inc(metrics.DataChannelsOpened)
		if s.cfg.OnChannelOpen != nil {
			s.cfg.OnChannelOpen()
		}
		log.Info("data channel open")
		s.sendWelcome(dc, log)
		s.logSelectedPair(log)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if err := echo(dc, msg); err != nil {
			s.cfg.Metrics.Inc(metrics.EchoSendErrors)
			log.Debug("echo failed", "err", err)
			return
		}
		s.cfg.Metrics.Inc(metrics.MessagesEchoed)
	})

	dc.OnClose(func() {
		log.Debug("data channel closed")
	})
}

func (s *Session) sendWelcome(dc *webrtc.DataChannel, log *slog.Logger) {
	if s.cfg.Welcome == nil {
		return
	}
	raw, err := json.Marshal(s.cfg.Welcome())
	if err == nil {
		err = dc.SendText(string(raw))
	}
	if err != nil {
		s.cfg.Metrics.Inc(metrics.WelcomeSendErrors)
		log.Warn("send welcome", "err", err)
	}
}

// logSelectedPair logs the remote address ICE settled on. Diagnostic only.
func (s *Session) logSelectedPair(log *slog.Logger) {
	sctp := s.pc.SCTP()
	if sctp == nil || sctp.Transport() == nil || sctp.Transport().ICETransport() == nil {
		log.Debug("no ice transport for selected pair")
		return
	}
	pair, err := sctp.Transport().ICETransport().GetSelectedCandidatePair()
	if err != nil {
		log.Info("get selected candidate pair", "err", err)
		return
	}
	if pair == nil || pair.Remote == nil {
		log.Debug("no selected candidate pair yet")
		return
	}
	log.Debug("remote candidate selected",
		"ip", pair.Remote.Address,
		"port", pair.Remote.Port,
		"type", pair.Remote.Typ.String(),
		"foundation", pair.Remote.Foundation,
	)
}
