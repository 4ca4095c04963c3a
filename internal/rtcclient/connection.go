package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrConnectionFailed  = errors.New("rtcclient: peer connection failed")
	ErrDataChannelClosed = errors.New("rtcclient: data channel closed")
)

// Options configure Connect.
type Options struct {
	// SignalURL is the full signaling endpoint, e.g. http://host:8080/signal.
	SignalURL  string
	Negotiator *Negotiator

	// API and ICEServers build the default pion transport.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	// NewTransport overrides the pion transport.
	NewTransport func() (Transport, error)

	Label     string
	OnMessage func(dc DataChannel, msg webrtc.DataChannelMessage)
	OnOpen    func(dc DataChannel)
	// OnError reports ErrConnectionFailed or ErrDataChannelClosed after the
	// connection was established.
	OnError func(err error)

	Logger *slog.Logger
}

// Connection is an established session with the server.
type Connection struct {
	SessionID   string
	DataChannel DataChannel

	transport  Transport
	signalURL  string
	negotiator *Negotiator
	log        *slog.Logger

	closeOnce sync.Once
}

// Connect creates a transport, negotiates a session over it and returns once
// the data channel is open. The transport is closed if negotiation fails.
func Connect(ctx context.Context, opts Options) (*Connection, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	neg := opts.Negotiator
	if neg == nil {
		neg = &Negotiator{Logger: opts.Logger}
	}

	t, err := newTransport(opts)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	// Data channel closes during negotiation surface as Negotiate errors.
	var established atomic.Bool

	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		opts.Logger.Debug("connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed && opts.OnError != nil {
			opts.OnError(ErrConnectionFailed)
		}
	})

	h := Handlers{
		Label:     opts.Label,
		OnMessage: opts.OnMessage,
		OnOpen:    opts.OnOpen,
	}
	if opts.OnError != nil {
		h.OnClose = func(DataChannel) {
			if established.Load() {
				opts.OnError(ErrDataChannelClosed)
			}
		}
	}

	res, err := neg.Negotiate(ctx, t, opts.SignalURL, h)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	established.Store(true)

	opts.Logger.Info("connected", "session_id", res.SessionID, "label", res.DataChannel.Label())
	return &Connection{
		SessionID:   res.SessionID,
		DataChannel: res.DataChannel,
		transport:   t,
		signalURL:   opts.SignalURL,
		negotiator:  neg,
		log:         opts.Logger,
	}, nil
}

func newTransport(opts Options) (Transport, error) {
	if opts.NewTransport != nil {
		return opts.NewTransport()
	}
	api := opts.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opts.ICEServers})
	if err != nil {
		return nil, err
	}
	return WrapPeerConnection(pc), nil
}

// Close closes the data channel and transport and then asks the server to
// drop the session. Server errors are logged and ignored.
func (c *Connection) Close(ctx context.Context) {
	c.closeOnce.Do(func() {
		if err := c.DataChannel.Close(); err != nil {
			c.log.Debug("close data channel", "err", err)
		}
		if err := c.transport.Close(); err != nil {
			c.log.Debug("close peer connection", "err", err)
		}

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := deleteSession(ctx, c.negotiator.httpClient(), c.signalURL, c.SessionID); err != nil {
			c.log.Debug("close remote session", "session_id", c.SessionID, "err", err)
		}
	})
}
