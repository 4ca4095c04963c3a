package latency

// Status is the outcome recorded for one probe.
type Status string

const (
	StatusReceived Status = "received"
	StatusLost     Status = "lost"
)

// Sample is one history entry. LatencyMs and JitterMs are nil for lost probes.
type Sample struct {
	Seq         uint64   `json:"seq"`
	Status      Status   `json:"status"`
	LatencyMs   *float64 `json:"latencyMs"`
	JitterMs    *float64 `json:"jitterMs"`
	At          string   `json:"at"`
	TimestampMs float64  `json:"timestampMs"`
}

// Stats is a point-in-time view of a monitor's measurements. The pointer
// fields stay nil until the first probe is received.
type Stats struct {
	LastLatencyMs    *float64 `json:"lastLatencyMs"`
	AverageLatencyMs *float64 `json:"averageLatencyMs"`
	JitterMs         *float64 `json:"jitterMs"`
	TotalSent        uint64   `json:"totalSent"`
	TotalReceived    uint64   `json:"totalReceived"`
	TotalLost        uint64   `json:"totalLost"`
	History          []Sample `json:"history"`
}

// ProbeRecord is a completed round trip. Records captured through
// Options.OnProbeReceived can be replayed with Monitor.InjectLatencyInfo.
type ProbeRecord struct {
	Seq        uint64  `json:"seq"`
	SentAt     float64 `json:"sentAt"`
	ReceivedAt float64 `json:"receivedAt"`
}

func (s Stats) clone() Stats {
	out := s
	out.LastLatencyMs = copyFloat(s.LastLatencyMs)
	out.AverageLatencyMs = copyFloat(s.AverageLatencyMs)
	out.JitterMs = copyFloat(s.JitterMs)
	out.History = append([]Sample(nil), s.History...)
	return out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func ptr[T any](v T) *T { return &v }
