package metrics

import "sync"

// Event counter names.
const (
	SessionsRegistered     = "sessions_registered"
	SessionsFinalized      = "sessions_finalized"
	SessionsConnectTimeout = "sessions_connect_timeout"
	DataChannelsOpened     = "datachannels_opened"
	MessagesEchoed         = "messages_echoed"
	EchoSendErrors         = "echo_send_errors"
	WelcomeSendErrors      = "welcome_send_errors"
	SignalOffers           = "signal_offers"
	SignalOfferErrors      = "signal_offer_errors"
	SignalDeletes          = "signal_deletes"
	RemoteCandidateErrors  = "remote_candidate_errors"
	Visitors               = "visitors"
)

// Drop reasons.
const (
	DropReasonRateLimited     = "rate_limited"
	DropReasonTooManySessions = "too_many_sessions"
)

// Metrics is a minimal, concurrency-safe counter registry. It is exported to
// Prometheus through Collector.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
