// Package latency measures round-trip latency and jitter by sending
// sequence-numbered probes over a data channel whose peer echoes them back.
package latency

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
)

const (
	DefaultInterval          = 100 * time.Millisecond
	DefaultLossTimeout       = 2000 * time.Millisecond
	DefaultLossCheckInterval = 250 * time.Millisecond
	DefaultHistorySize       = 1000

	// jitterWeight is the EWMA divisor applied to absolute latency deltas.
	jitterWeight = 16
)

// Channel is the part of a data channel the monitor needs.
// *webrtc.DataChannel satisfies it.
type Channel interface {
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
}

type Options struct {
	Interval          time.Duration
	LossTimeout       time.Duration
	LossCheckInterval time.Duration
	HistorySize       int

	// DisableHistory stops samples from being appended to Stats.History.
	// Observers still receive them through OnSamples.
	DisableHistory bool

	OnStats         func(Stats)
	OnSamples       func([]Sample)
	OnProbeReceived func(ProbeRecord)

	// Clock defaults to the wall clock. Scheduler defaults to a
	// ClockScheduler on the same clock.
	Clock     clock.Clock
	Scheduler Scheduler

	// FormatTimestamp renders Sample.At. Defaults to local HH:MM:SS.
	FormatTimestamp func(time.Time) string

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.LossTimeout <= 0 {
		o.LossTimeout = DefaultLossTimeout
	}
	if o.LossCheckInterval <= 0 {
		o.LossCheckInterval = DefaultLossCheckInterval
	}
	if o.HistorySize <= 0 {
		o.HistorySize = DefaultHistorySize
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Scheduler == nil {
		o.Scheduler = ClockScheduler{Clock: o.Clock}
	}
	if o.FormatTimestamp == nil {
		o.FormatTimestamp = func(t time.Time) string { return t.Format("15:04:05") }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Monitor sends probes on a channel at a fixed interval, matches echoed
// replies by sequence number and declares probes lost after LossTimeout.
//
// All state is guarded by one mutex so timer ticks and inbound messages never
// interleave. Observers run after the mutex is released and may call Stats.
type Monitor struct {
	opts  Options
	epoch time.Time

	mu         sync.Mutex
	stats      Stats
	pending    map[uint64]float64
	nextSeq    uint64
	totalMs    float64
	jitterMs   float64
	channel    Channel
	active     bool
	generation uint64
	cancels    []func()
}

func NewMonitor(opts Options) *Monitor {
	opts = opts.withDefaults()
	return &Monitor{
		opts:    opts,
		epoch:   opts.Clock.Now(),
		pending: make(map[uint64]float64),
	}
}

// Start begins probing ch. Calling Start again with the channel that is
// already being probed does nothing; any other call stops the current run,
// clears statistics, sends one probe immediately and arms the send and
// loss-scan timers.
func (m *Monitor) Start(ch Channel) {
	m.mu.Lock()
	if m.active && m.channel == ch {
		m.mu.Unlock()
		return
	}
	previous := m.stopLocked()
	m.resetLocked()
	m.channel = ch
	m.active = true
	gen := m.generation
	m.mu.Unlock()

	for _, cancel := range previous {
		cancel()
	}
	m.emit()

	m.sendTick(gen)
	sendCancel := m.opts.Scheduler.Every(m.opts.Interval, func() { m.sendTick(gen) })
	lossCancel := m.opts.Scheduler.Every(m.opts.LossCheckInterval, func() { m.lossTick(gen) })

	m.mu.Lock()
	if m.generation != gen {
		// Stopped while the timers were being armed.
		m.mu.Unlock()
		sendCancel()
		lossCancel()
		return
	}
	m.cancels = append(m.cancels, sendCancel, lossCancel)
	m.mu.Unlock()
}

// Stop cancels both timers and abandons in-flight probes without counting
// them as lost. Accumulated statistics are kept.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancels := m.stopLocked()
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.emit()
}

// Reset clears statistics and pending probes and restarts sequence numbering
// at zero. It does not change whether the monitor is running.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	m.emit()
}

// Stats returns a copy of the current statistics.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.clone()
}

// Pending returns the number of probes awaiting a reply.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Active reports whether Start has been called without a later Stop.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// HandleMessage consumes an echoed probe. It returns false when payload is not
// a probe so the caller can treat it as application data. Replies for unknown
// sequence numbers (late, duplicate or foreign) are consumed and ignored.
func (m *Monitor) HandleMessage(payload []byte) bool {
	seq, seqOK, isProbe := decodeProbe(payload)
	if !isProbe {
		m.opts.Logger.Debug("ignoring non-probe message", "bytes", len(payload))
		return false
	}
	if !seqOK {
		m.opts.Logger.Debug("ignoring probe with invalid seq")
		return true
	}

	m.mu.Lock()
	sentAt, ok := m.pending[seq]
	if !ok {
		m.mu.Unlock()
		m.opts.Logger.Debug("ignoring probe reply for unknown seq", "seq", seq)
		return true
	}
	delete(m.pending, seq)
	rec := ProbeRecord{Seq: seq, SentAt: sentAt, ReceivedAt: m.nowMs()}
	sample, stats := m.applyReceiptLocked(rec)
	m.mu.Unlock()

	m.notifyReceipt(rec, sample, stats)
	return true
}

// InjectLatencyInfo replays captured round trips, in order, through the same
// update used for live replies. Each record also counts as sent. Records with
// non-finite timestamps are skipped.
func (m *Monitor) InjectLatencyInfo(records []ProbeRecord) {
	for _, rec := range records {
		if !finite(rec.SentAt) || !finite(rec.ReceivedAt) || !finite(rec.ReceivedAt-rec.SentAt) {
			continue
		}

		m.mu.Lock()
		m.stats.TotalSent++
		sample, stats := m.applyReceiptLocked(rec)
		m.mu.Unlock()

		m.notifyReceipt(rec, sample, stats)
	}
}

func (m *Monitor) applyReceiptLocked(rec ProbeRecord) (Sample, Stats) {
	latencyMs := rec.ReceivedAt - rec.SentAt
	m.totalMs += latencyMs
	m.stats.TotalReceived++

	var jitter float64
	if prev := m.stats.LastLatencyMs; prev != nil {
		m.jitterMs += (math.Abs(latencyMs-*prev) - m.jitterMs) / jitterWeight
		jitter = m.jitterMs
	} else {
		m.jitterMs = 0
	}

	sample := Sample{
		Seq:         rec.Seq,
		Status:      StatusReceived,
		LatencyMs:   ptr(latencyMs),
		JitterMs:    ptr(jitter),
		At:          m.opts.FormatTimestamp(m.opts.Clock.Now()),
		TimestampMs: rec.ReceivedAt,
	}

	m.stats.LastLatencyMs = ptr(latencyMs)
	m.stats.AverageLatencyMs = ptr(m.totalMs / float64(m.stats.TotalReceived))
	m.stats.JitterMs = ptr(jitter)
	m.appendHistoryLocked(sample)
	return sample, m.stats.clone()
}

func (m *Monitor) notifyReceipt(rec ProbeRecord, sample Sample, stats Stats) {
	if m.opts.OnSamples != nil {
		m.opts.OnSamples([]Sample{sample})
	}
	if m.opts.OnStats != nil {
		m.opts.OnStats(stats)
	}
	if m.opts.OnProbeReceived != nil {
		m.opts.OnProbeReceived(rec)
	}
}

func (m *Monitor) sendTick(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || !m.active || m.channel == nil {
		m.mu.Unlock()
		return
	}
	if m.channel.ReadyState() != webrtc.DataChannelStateOpen {
		m.mu.Unlock()
		return
	}

	seq := m.nextSeq
	sentAt := m.nowMs()
	payload, err := EncodeProbe(seq, sentAt)
	if err != nil {
		m.mu.Unlock()
		m.opts.Logger.Warn("encode probe", "seq", seq, "err", err)
		return
	}
	m.nextSeq++
	if err := m.channel.SendText(string(payload)); err != nil {
		m.mu.Unlock()
		m.opts.Logger.Info("send probe", "seq", seq, "err", err)
		return
	}
	m.pending[seq] = sentAt
	m.stats.TotalSent++
	stats := m.stats.clone()
	m.mu.Unlock()

	if m.opts.OnStats != nil {
		m.opts.OnStats(stats)
	}
}

func (m *Monitor) lossTick(gen uint64) {
	m.mu.Lock()
	if m.generation != gen || !m.active {
		m.mu.Unlock()
		return
	}

	now := m.nowMs()
	timeoutMs := float64(m.opts.LossTimeout) / float64(time.Millisecond)
	var lost []uint64
	for seq, sentAt := range m.pending {
		if now-sentAt > timeoutMs {
			lost = append(lost, seq)
		}
	}
	if len(lost) == 0 {
		m.mu.Unlock()
		return
	}
	sort.Slice(lost, func(i, j int) bool { return lost[i] < lost[j] })

	at := m.opts.FormatTimestamp(m.opts.Clock.Now())
	samples := make([]Sample, 0, len(lost))
	for _, seq := range lost {
		delete(m.pending, seq)
		samples = append(samples, Sample{
			Seq:         seq,
			Status:      StatusLost,
			At:          at,
			TimestampMs: now,
		})
	}
	m.stats.TotalLost += uint64(len(lost))
	m.appendHistoryLocked(samples...)
	stats := m.stats.clone()
	m.mu.Unlock()

	if m.opts.OnSamples != nil {
		m.opts.OnSamples(samples)
	}
	if m.opts.OnStats != nil {
		m.opts.OnStats(stats)
	}
}

func (m *Monitor) appendHistoryLocked(samples ...Sample) {
	if m.opts.DisableHistory {
		return
	}
	m.stats.History = append(m.stats.History, samples...)
	if over := len(m.stats.History) - m.opts.HistorySize; over > 0 {
		m.stats.History = m.stats.History[over:]
	}
}

// stopLocked detaches from the channel and returns the timer cancel funcs,
// which the caller runs after unlocking.
func (m *Monitor) stopLocked() []func() {
	cancels := m.cancels
	m.cancels = nil
	m.generation++
	m.active = false
	m.channel = nil
	clear(m.pending)
	return cancels
}

func (m *Monitor) resetLocked() {
	m.stats = Stats{}
	m.totalMs = 0
	m.jitterMs = 0
	m.nextSeq = 0
	clear(m.pending)
}

func (m *Monitor) emit() {
	if m.opts.OnStats != nil {
		m.opts.OnStats(m.Stats())
	}
}

func (m *Monitor) nowMs() float64 {
	return float64(m.opts.Clock.Since(m.epoch)) / float64(time.Millisecond)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
