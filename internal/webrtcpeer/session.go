package webrtcpeer

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/metrics"
	"github.com/richb-hanover/cutie/internal/registry"
)

type SessionConfig struct {
	// API defaults to webrtc.NewAPI().
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// OnChannelOpen runs once for every data channel that opens, before the
	// welcome message is sent.
	OnChannelOpen func()
	// Welcome builds the message sent when a data channel opens. nil sends
	// nothing.
	Welcome func() Welcome
}

// Session owns a server-side PeerConnection and echoes every data channel the
// client opens on it. It satisfies registry.Transport.
type Session struct {
	pc  *webrtc.PeerConnection
	cfg SessionConfig

	mu        sync.Mutex
	id        string
	log       *slog.Logger
	observers []func(reason string)
	terminal  string

	// notifyMu is held while observers run so Close returns only after they
	// have finished.
	notifyMu sync.Mutex

	connected     chan struct{}
	connectedOnce sync.Once
	closeOnce     sync.Once
	closeErr      error
}

var _ registry.Transport = (*Session)(nil)

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.API == nil {
		cfg.API = webrtc.NewAPI()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	pc, err := cfg.API.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, err
	}
	s := &Session{
		pc:        pc,
		cfg:       cfg,
		log:       cfg.Logger,
		connected: make(chan struct{}),
	}

	pc.OnDataChannel(s.handleDataChannel)

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.logger().Debug("ice connection state changed", "state", state.String())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger().Debug("connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.connectedOnce.Do(func() { close(s.connected) })
		case webrtc.PeerConnectionStateDisconnected:
			s.terminate(registry.ReasonDisconnected)
			// Close asynchronously so pion's state callback is never blocked
			// on its own teardown.
			go func() { _ = s.Close() }()
		case webrtc.PeerConnectionStateFailed:
			s.terminate(registry.ReasonFailed)
			go func() { _ = s.Close() }()
		case webrtc.PeerConnectionStateClosed:
			s.terminate(registry.ReasonClosed)
		}
	})

	return s, nil
}

// SetID attaches the registry id to the session's log lines.
func (s *Session) SetID(id string) {
	s.mu.Lock()
	s.id = id
	s.log = s.cfg.Logger.With("session_id", id)
	s.mu.Unlock()
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) logger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

func (s *Session) PeerConnection() *webrtc.PeerConnection {
	return s.pc
}

// Connected is closed once the peer connection first reaches the connected
// state.
func (s *Session) Connected() <-chan struct{} {
	return s.connected
}

// OnTerminalState registers fn to run with the reason of the first terminal
// state the connection reaches. If that already happened, fn runs now.
func (s *Session) OnTerminalState(fn func(reason string)) {
	s.mu.Lock()
	if s.terminal != "" {
		reason := s.terminal
		s.mu.Unlock()
		fn(reason)
		return
	}
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Session) terminate(reason string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.terminal != "" {
		s.mu.Unlock()
		return
	}
	s.terminal = reason
	observers := s.observers
	s.observers = nil
	s.mu.Unlock()

	for _, fn := range observers {
		fn(reason)
	}
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.pc.Close()
		if errors.Is(s.closeErr, webrtc.ErrConnectionClosed) {
			s.closeErr = nil
		}
		// pion does not always report the closed state for a connection that
		// never got past "new".
		s.terminate(registry.ReasonClosed)
	})
	return s.closeErr
}
