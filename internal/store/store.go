// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS afterburner_runs (
    id UUID PRIMARY KEY,
    host TEXT NOT NULL,
    browser TEXT NOT NULL,
    seed TEXT NOT NULL,
    passed INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    runtime_ms BIGINT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS afterburner_results (
    run_id UUID NOT NULL REFERENCES afterburner_runs (id) ON DELETE CASCADE,
    module TEXT NOT NULL,
    test TEXT NOT NULL,
    skipped BOOLEAN NOT NULL,
    passed INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    runtime_ms BIGINT NOT NULL,
    failure TEXT NOT NULL
);
`

const insertRunSQL = `
INSERT INTO afterburner_runs (id, host, browser, seed, passed, failed, runtime_ms, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`

const recentRunsSQL = `
SELECT id, host, browser, seed, passed, failed, runtime_ms, started_at
FROM afterburner_runs
ORDER BY started_at DESC
LIMIT $1;
`

var resultColumns = []string{"run_id", "module", "test", "skipped", "passed", "failed", "runtime_ms", "failure"}

// Run is one finished suite execution against a single browser.
type Run struct {
	ID        uuid.UUID
	Host      string
	Browser   string
	Seed      string
	Passed    int
	Failed    int
	Runtime   time.Duration
	StartedAt time.Time
	Tests     []TestRecord
}

// TestRecord is the outcome of one test within a Run.
type TestRecord struct {
	Module  string
	Name    string
	Skipped bool
	Passed  int
	Failed  int
	Runtime time.Duration
	// Failure holds the first failing assertion or the error that ended the test.
	Failure string
}

// Store persists run results to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the result tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistRun writes the run row and all of its test rows in one transaction.
// A zero ID is replaced with a fresh one, which is returned.
func (s *Store) PersistRun(ctx context.Context, run *Run) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		run.ID, run.Host, run.Browser, run.Seed,
		run.Passed, run.Failed, run.Runtime.Milliseconds(), run.StartedAt.UTC(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	if len(run.Tests) > 0 {
		if err := s.persistTests(ctx, tx, run); err != nil {
			return uuid.Nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted run", zap.Stringer("run_id", run.ID), zap.Int("tests", len(run.Tests)))
	return run.ID, nil
}

func (s *Store) persistTests(ctx context.Context, tx pgx.Tx, run *Run) error {
	rows := make([][]interface{}, len(run.Tests))
	for i, t := range run.Tests {
		rows[i] = []interface{}{
			run.ID, t.Module, t.Name, t.Skipped,
			t.Passed, t.Failed, t.Runtime.Milliseconds(), t.Failure,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"afterburner_results"}, resultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy test results: %w", err)
	}
	if int(copyCount) != len(run.Tests) {
		return fmt.Errorf("mismatch in copied test results count: expected %d, got %d", len(run.Tests), copyCount)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first. Tests are not loaded.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var runtimeMS int64
		if err := rows.Scan(&r.ID, &r.Host, &r.Browser, &r.Seed, &r.Passed, &r.Failed, &runtimeMS, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Runtime = time.Duration(runtimeMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
