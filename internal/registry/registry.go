// Package registry tracks live peer sessions and keeps a short,
// most-recent-first history of the ones that ended.
package registry

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/richb-hanover/cutie/internal/metrics"
)

// DefaultHistorySize is the number of closed sessions retained.
const DefaultHistorySize = 10

// Termination reasons.
const (
	ReasonClosed         = "closed"
	ReasonFailed         = "failed"
	ReasonDisconnected   = "disconnected"
	ReasonClientRequest  = "client-request"
	ReasonConnectTimeout = "connect-timeout"
	ReasonShutdown       = "shutdown"
)

var (
	ErrTooManySessions = errors.New("too many sessions")
	ErrSessionNotFound = errors.New("session not found")
)

// Transport is the peer connection a session wraps. OnTerminalState must call
// fn (at least once) when the transport closes, fails or disconnects.
type Transport interface {
	OnTerminalState(fn func(reason string))
	Close() error
}

// Session describes an active session.
type Session struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// ClosedSession is produced exactly once per registered session.
type ClosedSession struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"startedAt"`
	EndedAt           time.Time `json:"endedAt"`
	DurationMs        int64     `json:"durationMs"`
	TerminationReason string    `json:"terminationReason"`
}

// Snapshot is a consistent view of the registry. Active is ordered by start
// time, Closed most recent first.
type Snapshot struct {
	Active []Session
	Closed []ClosedSession
}

type Options struct {
	Clock   clock.Clock
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// MaxSessions caps concurrent sessions. <= 0 means unlimited.
	MaxSessions int
	// HistorySize defaults to DefaultHistorySize.
	HistorySize int

	// NewID defaults to random UUIDs.
	NewID func() string
}

type entry struct {
	session   Session
	transport Transport
}

// Registry is safe for concurrent use.
type Registry struct {
	clock       clock.Clock
	metrics     *metrics.Metrics
	log         *slog.Logger
	maxSessions int
	historySize int
	newID       func() string

	mu      sync.Mutex
	active  map[string]*entry
	history []ClosedSession
}

func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		maxSessions: opts.MaxSessions,
		historySize: opts.HistorySize,
		newID:       opts.NewID,
		active:      make(map[string]*entry),
	}
}

// Register stores t under a fresh id and finalizes the session the first time
// t reports a terminal state.
func (r *Registry) Register(t Transport) (string, error) {
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.active) >= r.maxSessions {
		r.mu.Unlock()
		r.metrics.Inc(metrics.DropReasonTooManySessions)
		return "", ErrTooManySessions
	}
	id := r.newID()
	for r.active[id] != nil {
		id = r.newID()
	}
	r.active[id] = &entry{
		session:   Session{ID: id, StartedAt: r.clock.Now()},
		transport: t,
	}
	r.mu.Unlock()

	r.metrics.Inc(metrics.SessionsRegistered)
	r.log.Info("session registered", "session_id", id)

	t.OnTerminalState(func(reason string) {
		r.Finalize(id, reason)
	})
	return id, nil
}

// Finalize ends the session now. See FinalizeAt.
func (r *Registry) Finalize(id, reason string) bool {
	return r.FinalizeAt(id, reason, r.clock.Now())
}

// FinalizeAt moves an active session into the history ring. It returns false,
// and does nothing, when id is not active.
func (r *Registry) FinalizeAt(id, reason string, endedAt time.Time) bool {
	r.mu.Lock()
	e, ok := r.active[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.active, id)

	durationMs := endedAt.Sub(e.session.StartedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}
	closed := ClosedSession{
		ID:                id,
		StartedAt:         e.session.StartedAt,
		EndedAt:           endedAt,
		DurationMs:        durationMs,
		TerminationReason: reason,
	}
	r.history = append([]ClosedSession{closed}, r.history...)
	if len(r.history) > r.historySize {
		r.history = r.history[:r.historySize]
	}
	r.mu.Unlock()

	r.metrics.Inc(metrics.SessionsFinalized)
	r.log.Info("session finalized", "session_id", id, "reason", reason, "duration_ms", durationMs)
	return true
}

// Close finalizes the session with reason and then closes its transport, so
// the transport's own terminal notification is a no-op.
func (r *Registry) Close(id, reason string) error {
	r.mu.Lock()
	e, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if !r.Finalize(id, reason) {
		return ErrSessionNotFound
	}
	if err := e.transport.Close(); err != nil {
		r.log.Warn("close session transport", "session_id", id, "err", err)
	}
	return nil
}

// CloseAll closes every active session with reason.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Close(id, reason)
	}
}

func (r *Registry) Lookup(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[id]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) HistoryLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	active := make([]Session, 0, len(r.active))
	for _, e := range r.active {
		active = append(active, e.session)
	}
	closed := append([]ClosedSession(nil), r.history...)
	r.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].StartedAt.Equal(active[j].StartedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].StartedAt.Before(active[j].StartedAt)
	})
	return Snapshot{Active: active, Closed: closed}
}
