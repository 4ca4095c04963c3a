package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/richb-hanover/cutie/internal/config"
	"github.com/richb-hanover/cutie/internal/latency"
	"github.com/richb-hanover/cutie/internal/probestore"
)

// replay rebuilds a recorded run's statistics from its stored round trips.
func replay(ctx context.Context, cfg config.ClientConfig, store *probestore.Store, w io.Writer, logger *slog.Logger) error {
	run, err := store.Get(ctx, cfg.ReplayRun)
	if err != nil {
		return fmt.Errorf("load run %s: %w", cfg.ReplayRun, err)
	}
	records, err := store.Probes(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("load probes for run %s: %w", run.ID, err)
	}

	m := latency.NewMonitor(latency.Options{
		HistorySize: cfg.HistorySize,
		Logger:      logger,
	})
	m.InjectLatencyInfo(records)

	// Probes that never came back are not stored; take the totals from the run.
	stats := m.Stats()
	if run.TotalSent > stats.TotalSent {
		stats.TotalSent = run.TotalSent
	}
	stats.TotalLost = run.TotalLost

	fmt.Fprintf(w, "run=%s\n", run.ID)
	if run.SessionID != "" {
		fmt.Fprintf(w, "session_id=%s\n", run.SessionID)
	}
	fmt.Fprintf(w, "started_at=%s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if run.StopReason != "" {
		fmt.Fprintf(w, "stop_reason=%s\n", run.StopReason)
	}
	writeSummary(w, stats)
	return nil
}
