// File: internal/store/store_test.go
package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	store, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return store, mockPool
}

func sampleRun() *Run {
	return &Run{
		ID:        uuid.New(),
		Host:      "http://localhost:4200",
		Browser:   "chrome",
		Seed:      "abc123xyz0",
		Passed:    3,
		Failed:    1,
		Runtime:   1500 * time.Millisecond,
		StartedAt: time.Now(),
		Tests: []TestRecord{
			{Module: "Acceptance | Home", Name: "loads", Passed: 2, Runtime: time.Second},
			{Module: "Acceptance | Home", Name: "links", Passed: 1, Failed: 1, Runtime: 500 * time.Millisecond, Failure: "FAILURE: a yielded 0 elements"},
		},
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	store, mockPool := newMockStore(t, zap.NewNop())

	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))

	ddlErr := errors.New("permission denied")
	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).WillReturnError(ddlErr)
	err := store.EnsureSchema(context.Background())
	assert.ErrorIs(t, err, ddlErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist a run and its tests without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		store, mockPool := newMockStore(t, zap.New(observedZapCore))
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(run.ID, run.Host, run.Browser, run.Seed, 3, 1, int64(1500), run.StartedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"afterburner_results"}, resultColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		id, err := store.PersistRun(ctx, run)
		require.NoError(t, err)
		assert.Equal(t, run.ID, id)
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should assign an id when none is set", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()
		run.ID = uuid.Nil
		run.Tests = nil

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(pgxmock.AnyArg(), run.Host, run.Browser, run.Seed, 3, 1, int64(1500), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		id, err := store.PersistRun(ctx, run)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, id)
		assert.Equal(t, id, run.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())

		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		_, err := store.PersistRun(ctx, sampleRun())
		require.Error(t, err)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if copying test results fails", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()

		copyErr := errors.New("copy from failed")
		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(run.ID, run.Host, run.Browser, run.Seed, 3, 1, int64(1500), run.StartedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"afterburner_results"}, resultColumns).
			WillReturnError(copyErr)
		mockPool.ExpectRollback()

		_, err := store.PersistRun(ctx, run)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on copy count mismatch", func(t *testing.T) {
		store, mockPool := newMockStore(t, zap.NewNop())
		run := sampleRun()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(run.ID, run.Host, run.Browser, run.Seed, 3, 1, int64(1500), run.StartedAt.UTC()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"afterburner_results"}, resultColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		_, err := store.PersistRun(ctx, run)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestRecentRuns(t *testing.T) {
	store, mockPool := newMockStore(t, zap.NewNop())

	id := uuid.New()
	started := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"id", "host", "browser", "seed", "passed", "failed", "runtime_ms", "started_at"}).
		AddRow(id, "http://localhost:4200", "firefox", "seed", 10, 0, int64(2500), started)

	mockPool.ExpectQuery(flexibleSQLMatcher(recentRunsSQL)).
		WithArgs(5).
		WillReturnRows(rows)

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "firefox", runs[0].Browser)
	assert.Equal(t, 2500*time.Millisecond, runs[0].Runtime)
	assert.True(t, runs[0].StartedAt.Equal(started))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
