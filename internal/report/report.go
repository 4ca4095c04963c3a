// Package report keeps the server's process-wide counters and serves them as
// the /stats document, the data channel welcome message and a live stats
// stream.
package report

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/richb-hanover/cutie/internal/metrics"
	"github.com/richb-hanover/cutie/internal/registry"
	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

const DefaultStreamInterval = time.Second

type Options struct {
	Registry *registry.Registry
	Metrics  *metrics.Metrics

	Clock clock.Clock
	// Location is used for every formatted timestamp. Defaults to time.Local.
	Location *time.Location

	// StreamInterval is the push period of GET /stats/ws.
	StreamInterval time.Duration

	Logger *slog.Logger
}

// Runtime holds the server start time and the visitor and connection
// counters. It is safe for concurrent use.
type Runtime struct {
	opts      Options
	startedAt time.Time

	visitors    atomic.Uint64
	connections atomic.Uint64
}

func New(opts Options) *Runtime {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = DefaultStreamInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runtime{
		opts:      opts,
		startedAt: opts.Clock.Now(),
	}
}

func (r *Runtime) StartedAt() time.Time {
	return r.startedAt
}

// CountVisitor records a request for the landing page.
func (r *Runtime) CountVisitor() {
	r.visitors.Add(1)
	r.opts.Metrics.Inc(metrics.Visitors)
}

// CountConnection records an opened data channel. It is meant for
// signaling.Config.OnChannelOpen.
func (r *Runtime) CountConnection() {
	r.connections.Add(1)
}

func (r *Runtime) Visitors() uint64 {
	return r.visitors.Load()
}

func (r *Runtime) Connections() uint64 {
	return r.connections.Load()
}

// Welcome builds the message sent on every newly opened data channel.
func (r *Runtime) Welcome() webrtcpeer.Welcome {
	return webrtcpeer.Welcome{
		Type:    webrtcpeer.WelcomeType,
		Message: webrtcpeer.WelcomeMessage,
		At:      FormatDateTime(r.opts.Clock.Now().In(r.opts.Location)),
		Connections: fmt.Sprintf("Current: %d Total: %d since: %s",
			r.active(),
			r.Connections(),
			FormatDateTime(r.startedAt.In(r.opts.Location)),
		),
	}
}

func (r *Runtime) active() int {
	if r.opts.Registry == nil {
		return 0
	}
	return r.opts.Registry.ActiveCount()
}

func (r *Runtime) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", r.handleIndex)
	mux.HandleFunc("GET /stats", r.handleStats)
	mux.HandleFunc("GET /stats/ws", r.handleStream)
}

func (r *Runtime) handleIndex(w http.ResponseWriter, _ *http.Request) {
	r.CountVisitor()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "cutie latency server\nPOST /signal to open a session, GET /stats for counters.\n")
}

// FormatDuration renders d as "Nd Nh Nm Ns", truncated to whole seconds.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// FormatDateTime renders t as "YYYY-MM-DD HH:MM:SS" in t's location.
func FormatDateTime(t time.Time) string {
	return t.Format(time.DateTime)
}
