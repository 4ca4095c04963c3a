package probestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/richb-hanover/cutie/internal/latency"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "probes.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func quietMonitor(onProbe func(latency.ProbeRecord)) *latency.Monitor {
	return latency.NewMonitor(latency.Options{
		OnProbeReceived: onProbe,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRecordAndReplayReproducesStats(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	started := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	runID, err := s.Create(ctx, Run{SignalURL: "http://127.0.0.1:8080/signal", StartedAt: started})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := s.Recorder(runID)
	live := quietMonitor(rec.Add)
	records := []latency.ProbeRecord{
		{Seq: 0, SentAt: 100, ReceivedAt: 112.5},
		{Seq: 1, SentAt: 200, ReceivedAt: 230.25},
		{Seq: 3, SentAt: 400, ReceivedAt: 409},
	}
	live.InjectLatencyInfo(records[:2])
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	live.InjectLatencyInfo(records[2:])
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if rec.Count() != 3 {
		t.Fatalf("Count=%d, want 3", rec.Count())
	}

	liveStats := live.Stats()
	if err := s.Finish(ctx, runID, "session-1", "manual", started.Add(time.Minute), liveStats); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	stored, err := s.Probes(ctx, runID)
	if err != nil {
		t.Fatalf("Probes: %v", err)
	}
	if len(stored) != len(records) {
		t.Fatalf("stored %d probes, want %d", len(stored), len(records))
	}
	for i := range records {
		if stored[i] != records[i] {
			t.Fatalf("probe[%d]=%+v, want %+v", i, stored[i], records[i])
		}
	}

	replay := quietMonitor(nil)
	replay.InjectLatencyInfo(stored)
	got := replay.Stats()
	if got.TotalReceived != liveStats.TotalReceived {
		t.Fatalf("TotalReceived=%d, want %d", got.TotalReceived, liveStats.TotalReceived)
	}
	if *got.AverageLatencyMs != *liveStats.AverageLatencyMs {
		t.Fatalf("AverageLatencyMs=%v, want %v", *got.AverageLatencyMs, *liveStats.AverageLatencyMs)
	}
	if *got.JitterMs != *liveStats.JitterMs {
		t.Fatalf("JitterMs=%v, want %v", *got.JitterMs, *liveStats.JitterMs)
	}

	run, err := s.Get(ctx, runID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if run.SessionID != "session-1" || run.StopReason != "manual" || run.Probes != 3 {
		t.Fatalf("run=%+v", run)
	}
	if !run.StartedAt.Equal(started) || !run.EndedAt.Equal(started.Add(time.Minute)) {
		t.Fatalf("run times=%s..%s", run.StartedAt, run.EndedAt)
	}
	if run.TotalReceived != 3 || run.AverageLatencyMs == nil || *run.AverageLatencyMs != *liveStats.AverageLatencyMs {
		t.Fatalf("run summary=%+v", run)
	}
}

func TestList_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Create(ctx, Run{StartedAt: base.Add(time.Duration(i) * time.Hour)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, id)
	}

	runs, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Fatalf("List=%+v, want the two newest runs", runs)
	}
	if runs[0].StopReason != "" || runs[0].AverageLatencyMs != nil || !runs[0].EndedAt.IsZero() {
		t.Fatalf("unfinished run=%+v", runs[0])
	}

	all, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List(0) returned %d runs, want 3", len(all))
	}
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Get err=%v, want ErrRunNotFound", err)
	}
	if _, err := s.Probes(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Probes err=%v, want ErrRunNotFound", err)
	}
	if err := s.Finish(ctx, "missing", "", "auto", time.Now(), latency.Stats{}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Finish err=%v, want ErrRunNotFound", err)
	}
}

func TestRecorder_EmptyFlushIsNoop(t *testing.T) {
	s := openTestStore(t)
	rec := s.Recorder("unused")
	if err := rec.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if rec.Count() != 0 {
		t.Fatalf("Count=%d, want 0", rec.Count())
	}
}
