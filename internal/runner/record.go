// File: internal/runner/record.go
package runner

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/store"
)

// Record converts the summary into its persisted form.
func (s *Summary) Record() *store.Run {
	run := &store.Run{
		Host:      s.Host,
		Browser:   s.Browser,
		Seed:      s.Seed,
		Passed:    s.Passed,
		Failed:    s.Failed,
		Runtime:   s.Runtime,
		StartedAt: s.StartedAt,
		Tests:     make([]store.TestRecord, 0, len(s.Tests)),
	}
	for _, t := range s.Tests {
		run.Tests = append(run.Tests, store.TestRecord{
			Module:  t.Module,
			Name:    t.Name,
			Skipped: t.Skipped,
			Passed:  t.Passed,
			Failed:  t.Failed,
			Runtime: t.Runtime,
			Failure: t.FirstFailure(),
		})
	}
	return run
}

// Persister stores finished runs.
type Persister interface {
	PersistRun(ctx context.Context, run *store.Run) (uuid.UUID, error)
}

// Persist saves every summary. Failures are logged and the first is returned;
// persistence never changes the outcome of a run.
func Persist(ctx context.Context, p Persister, sums []*Summary, logger *zap.Logger) error {
	var first error
	for _, s := range sums {
		id, err := p.PersistRun(ctx, s.Record())
		if err != nil {
			logger.Error("Failed to persist run results.", zap.String("browser", s.Browser), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("failed to persist %s run: %w", s.Browser, err)
			}
			continue
		}
		logger.Info("Persisted run results.", zap.String("browser", s.Browser), zap.Stringer("run_id", id))
	}
	return first
}
