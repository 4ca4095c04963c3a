// Package probestore persists completed probe round trips so a collection run
// can be replayed later through latency.Monitor.InjectLatencyInfo.
package probestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/richb-hanover/cutie/internal/latency"
)

var ErrRunNotFound = errors.New("probestore: run not found")

// Run is one stored collection run. The summary fields are filled in by
// Finish; a run that was never finished has an empty StopReason.
type Run struct {
	ID         string
	SessionID  string
	SignalURL  string
	StartedAt  time.Time
	EndedAt    time.Time
	StopReason string

	TotalSent        uint64
	TotalReceived    uint64
	TotalLost        uint64
	AverageLatencyMs *float64
	JitterMs         *float64
	Probes           int
}

type Store struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// modernc.org/sqlite takes PRAGMAs as statements.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		signal_url TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		stop_reason TEXT NOT NULL DEFAULT '',
		total_sent INTEGER NOT NULL DEFAULT 0,
		total_received INTEGER NOT NULL DEFAULT 0,
		total_lost INTEGER NOT NULL DEFAULT 0,
		average_latency_ms REAL,
		jitter_ms REAL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS probes (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		sent_at REAL NOT NULL,
		received_at REAL NOT NULL,
		PRIMARY KEY (run_id, ordinal)
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`)
	return err
}

// Create stores a new run and returns its id. r.ID is ignored.
func (s *Store) Create(ctx context.Context, r Run) (string, error) {
	id := uuid.NewString()
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, signal_url, started_at) VALUES (?, ?, ?, ?)`,
		id, r.SessionID, r.SignalURL, r.StartedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Append stores records after the ones already saved for the run, keeping
// their order.
func (s *Store) Append(ctx context.Context, runID string, records []latency.ProbeRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ordinal) + 1, 0) FROM probes WHERE run_id = ?`, runID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("next ordinal: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO probes (run_id, ordinal, seq, sent_at, received_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx, runID, next+int64(i), int64(rec.Seq), rec.SentAt, rec.ReceivedAt); err != nil {
			return fmt.Errorf("insert probe: %w", err)
		}
	}
	return tx.Commit()
}

// Finish records the outcome of a run.
func (s *Store) Finish(ctx context.Context, runID, sessionID, reason string, endedAt time.Time, stats latency.Stats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET session_id = CASE WHEN ? = '' THEN session_id ELSE ? END,
			ended_at = ?, stop_reason = ?, total_sent = ?, total_received = ?,
			total_lost = ?, average_latency_ms = ?, jitter_ms = ?
		WHERE id = ?`,
		sessionID, sessionID, endedAt.UTC(), reason,
		int64(stats.TotalSent), int64(stats.TotalReceived), int64(stats.TotalLost),
		nullFloat(stats.AverageLatencyMs), nullFloat(stats.JitterMs),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Probes returns a run's records in the order they were appended.
func (s *Store) Probes(ctx context.Context, runID string) ([]latency.ProbeRecord, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, sent_at, received_at FROM probes WHERE run_id = ? ORDER BY ordinal`, runID)
	if err != nil {
		return nil, fmt.Errorf("query probes: %w", err)
	}
	defer rows.Close()

	out := []latency.ProbeRecord{}
	for rows.Next() {
		var (
			seq int64
			rec latency.ProbeRecord
		)
		if err := rows.Scan(&seq, &rec.SentAt, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan probe: %w", err)
		}
		rec.Seq = uint64(seq)
		out = append(out, rec)
	}
	return out, rows.Err()
}

const runColumns = `r.id, r.session_id, r.signal_url, r.started_at, r.ended_at, r.stop_reason,
	r.total_sent, r.total_received, r.total_lost, r.average_latency_ms, r.jitter_ms,
	(SELECT COUNT(*) FROM probes p WHERE p.run_id = r.id)`

func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run: %w", err)
	}
	return r, nil
}

// List returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r                    Run
		endedAt              sql.NullTime
		sent, received, lost int64
		avg, jitter          sql.NullFloat64
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.SignalURL, &r.StartedAt, &endedAt, &r.StopReason,
		&sent, &received, &lost, &avg, &jitter, &r.Probes)
	if err != nil {
		return Run{}, err
	}
	if endedAt.Valid {
		r.EndedAt = endedAt.Time
	}
	r.TotalSent, r.TotalReceived, r.TotalLost = uint64(sent), uint64(received), uint64(lost)
	if avg.Valid {
		r.AverageLatencyMs = &avg.Float64
	}
	if jitter.Valid {
		r.JitterMs = &jitter.Float64
	}
	return r, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
