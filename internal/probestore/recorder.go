package probestore

import (
	"context"
	"sync"

	"github.com/richb-hanover/cutie/internal/latency"
)

// Recorder buffers probe records for one run. Add is cheap enough to be used
// as latency.Options.OnProbeReceived; Flush writes the buffer out.
type Recorder struct {
	store *Store
	runID string

	// flushMu serializes Flush so batches are appended in order.
	flushMu sync.Mutex

	mu      sync.Mutex
	pending []latency.ProbeRecord
	flushed int
}

func (s *Store) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

func (r *Recorder) RunID() string {
	return r.runID
}

func (r *Recorder) Add(rec latency.ProbeRecord) {
	r.mu.Lock()
	r.pending = append(r.pending, rec)
	r.mu.Unlock()
}

// Flush appends buffered records to the store. Records are kept for the next
// Flush if the write fails.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := r.store.Append(ctx, r.runID, batch); err != nil {
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return err
	}
	r.mu.Lock()
	r.flushed += len(batch)
	r.mu.Unlock()
	return nil
}

// Count is the number of records flushed so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}
