package rtcclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/latency"
)

// StopReason says why a collection run ended.
type StopReason string

const (
	StopManual StopReason = "manual"
	// StopTimeout means the data channel closed underneath the run.
	StopTimeout StopReason = "timeout"
	StopError   StopReason = "error"
	StopAuto    StopReason = "auto"
)

// Message is the status line shown when a run ends.
func (r StopReason) Message(elapsed, limit time.Duration) string {
	switch r {
	case StopManual:
		return "Collection stopped manually"
	case StopTimeout:
		minutes := int(math.Ceil(elapsed.Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		if minutes == 1 {
			return "Collection stopped after 1 minute"
		}
		return fmt.Sprintf("Collection stopped after %d minutes", minutes)
	case StopAuto:
		return fmt.Sprintf("Collection stopped after %s.", limit)
	default:
		return "Collection stopped after an error"
	}
}

type CollectorConfig struct {
	Connect Options
	Monitor *latency.Monitor

	// Duration ends the run with StopAuto. 0 disables the limit.
	Duration time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// OnMessage receives data channel messages that are not probe replies.
	OnMessage func(msg webrtc.DataChannelMessage)
	// OnStop runs once, with the first stop reason.
	OnStop func(reason StopReason, err error)
}

// Collector runs one measurement session: it connects, probes the channel
// with a latency.Monitor once it opens and tears everything down on the first
// stop request. Later stop requests are ignored.
type Collector struct {
	cfg  CollectorConfig
	done chan struct{}

	mu        sync.Mutex
	cancel    context.CancelFunc
	conn      *Connection
	started   bool
	startedAt time.Time
	autoStop  *clock.Timer
	stopped   bool
	reason    StopReason
	err       error
}

func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Monitor == nil {
		cfg.Monitor = latency.NewMonitor(latency.Options{Clock: cfg.Clock, Logger: cfg.Logger})
	}
	if cfg.Connect.Logger == nil {
		cfg.Connect.Logger = cfg.Logger
	}
	return &Collector{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

func (c *Collector) Monitor() *latency.Monitor {
	return c.cfg.Monitor
}

// Run connects and collects until the run stops. Cancelling ctx stops it with
// StopManual. The returned error is set only for StopError.
func (c *Collector) Run(ctx context.Context) (StopReason, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return c.Result()
	}
	c.cancel = cancel
	c.mu.Unlock()

	opts := c.cfg.Connect
	opts.OnOpen = c.begin
	opts.OnMessage = c.handleMessage
	opts.OnError = func(err error) {
		reason := StopError
		if errors.Is(err, ErrDataChannelClosed) {
			reason = StopTimeout
		}
		c.Stop(reason, err)
	}

	conn, err := Connect(runCtx, opts)
	if err != nil {
		if ctx.Err() != nil {
			c.Stop(StopManual, nil)
		} else {
			c.Stop(StopError, err)
		}
		return c.Result()
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close(context.Background())
		return c.Result()
	}
	c.conn = conn
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		c.Stop(StopManual, nil)
	}
	return c.Result()
}

func (c *Collector) begin(dc DataChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.started {
		return
	}
	c.started = true
	c.startedAt = c.cfg.Clock.Now()
	if c.cfg.Duration > 0 {
		c.autoStop = c.cfg.Clock.AfterFunc(c.cfg.Duration, func() {
			c.Stop(StopAuto, nil)
		})
	}
	c.cfg.Monitor.Start(dc)
	c.cfg.Logger.Info("collection started", "label", dc.Label(), "max_duration", c.cfg.Duration)
}

func (c *Collector) handleMessage(_ DataChannel, msg webrtc.DataChannelMessage) {
	if c.cfg.Monitor.HandleMessage(msg.Data) {
		return
	}
	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(msg)
	}
}

// Stop ends the run. It returns false if the run had already stopped, in which
// case reason and err are discarded.
func (c *Collector) Stop(reason StopReason, err error) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.stopped = true
	c.reason = reason
	if reason == StopError {
		c.err = err
	}
	conn := c.conn
	cancel := c.cancel
	timer := c.autoStop
	c.autoStop = nil
	elapsed := c.elapsedLocked()
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	c.cfg.Monitor.Stop()
	if conn != nil {
		conn.Close(context.Background())
	}

	log := c.cfg.Logger.With("reason", string(reason), "elapsed", elapsed)
	if err != nil {
		log.Warn("collection stopped", "err", err)
	} else {
		log.Info("collection stopped")
	}
	if c.cfg.OnStop != nil {
		c.cfg.OnStop(reason, err)
	}
	close(c.done)
	return true
}

// Done is closed once the run has stopped.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) Result() (StopReason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason, c.err
}

// Elapsed is the time since the data channel opened.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *Collector) elapsedLocked() time.Duration {
	if !c.started {
		return 0
	}
	return c.cfg.Clock.Since(c.startedAt)
}

// SessionID returns the server session id once connected.
func (c *Collector) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.SessionID
}
