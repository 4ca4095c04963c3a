package report

import (
	"encoding/json"
	"net/http"
	"time"
)

// Stats is the GET /stats document. Timestamps and durations are
// preformatted strings.
type Stats struct {
	ServerStartTime    string       `json:"serverStartTime"`
	CurrentTime        string       `json:"currentTime"`
	RunningTime        string       `json:"runningTime"`
	TotalVisitors      uint64       `json:"totalVisitors"`
	CurrentConnections int          `json:"currentConnections"`
	TotalConnections   uint64       `json:"totalConnections"`
	ConnectionIDs      []string     `json:"connectionIds"`
	Connections        []Connection `json:"connections"`
	OldConnections     []Connection `json:"oldConnections"`
}

type Connection struct {
	ConnectionID string `json:"connectionId"`
	StartTime    string `json:"startTime"`
	Duration     string `json:"duration"`
}

// Stats snapshots the counters and the session registry. Active connections
// are ordered by start time, closed ones most recent first.
func (r *Runtime) Stats() Stats {
	now := r.opts.Clock.Now()
	loc := r.opts.Location

	out := Stats{
		ServerStartTime:  FormatDateTime(r.startedAt.In(loc)),
		CurrentTime:      FormatDateTime(now.In(loc)),
		RunningTime:      FormatDuration(now.Sub(r.startedAt)),
		TotalVisitors:    r.Visitors(),
		TotalConnections: r.Connections(),
		ConnectionIDs:    []string{},
		Connections:      []Connection{},
		OldConnections:   []Connection{},
	}
	if r.opts.Registry == nil {
		return out
	}

	snap := r.opts.Registry.Snapshot()
	out.CurrentConnections = len(snap.Active)
	for _, s := range snap.Active {
		out.ConnectionIDs = append(out.ConnectionIDs, s.ID)
		out.Connections = append(out.Connections, Connection{
			ConnectionID: s.ID,
			StartTime:    FormatDateTime(s.StartedAt.In(loc)),
			Duration:     FormatDuration(now.Sub(s.StartedAt)),
		})
	}
	for _, s := range snap.Closed {
		out.OldConnections = append(out.OldConnections, Connection{
			ConnectionID: s.ID,
			StartTime:    FormatDateTime(s.StartedAt.In(loc)),
			Duration:     FormatDuration(time.Duration(s.DurationMs) * time.Millisecond),
		})
	}
	return out
}

func (r *Runtime) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(r.Stats())
}
