// File: internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/assert"
	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/observability"
	"github.com/xkilldash9x/afterburner/internal/shelly"
)

// ErrNoAssertions fails a test that finished without pushing any result.
var ErrNoAssertions = errors.New("expected at least one assertion, but none were run")

var (
	styleSeed   = observability.Style{Emoji: "🌱"}
	styleHost   = observability.Style{Emoji: "🌐", Color: "violet"}
	styleFinish = observability.Style{Emoji: "🏁", FontWeight: "bold"}
)

// Options configures a Runner.
type Options struct {
	Host    string
	Browser string
	// Seed orders modules and tests. A random seed is generated when empty.
	Seed   string
	Filter string
	Params map[string]string
	Shell  shelly.Runner
	Book   *observability.LogBook
}

// TestResult is the outcome of one test.
type TestResult struct {
	Module  string
	Name    string
	Skipped bool
	Results []assert.Result
	Passed  int
	Failed  int
	Runtime time.Duration
}

// OK reports whether the test ran and every assertion passed.
func (r TestResult) OK() bool { return !r.Skipped && r.Failed == 0 }

// FirstFailure is the text of the first failed result, or "".
func (r TestResult) FirstFailure() string {
	for _, res := range r.Results {
		if !res.Passed {
			return res.Text()
		}
	}
	return ""
}

// Summary aggregates one run. Passed and Failed count assertions.
type Summary struct {
	Host      string
	Browser   string
	Seed      string
	StartedAt time.Time
	Runtime   time.Duration
	Tests     []TestResult
	Passed    int
	Failed    int
}

// Total is the number of assertions recorded.
func (s *Summary) Total() int { return s.Passed + s.Failed }

// OK reports whether no assertion failed.
func (s *Summary) OK() bool { return s.Failed == 0 }

func (s *Summary) add(r TestResult) {
	s.Tests = append(s.Tests, r)
	s.Passed += r.Passed
	s.Failed += r.Failed
}

// Runner executes a Suite against one browser through a Harness.
type Runner struct {
	h      *harness.Harness
	opts   Options
	logger *zap.Logger
}

// New creates a runner.
func New(h *harness.Harness, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{h: h, opts: opts, logger: logger.Named("runner")}
}

// Run executes the suite. Test failures are reported in the Summary; the
// returned error is reserved for a failed Begin hook or a cancelled context,
// in which case the partial Summary is still returned.
func (r *Runner) Run(ctx context.Context, suite *Suite) (*Summary, error) {
	seed := r.opts.Seed
	if seed == "" {
		seed = GenerateSeed()
	}
	sum := &Summary{Host: r.opts.Host, Browser: r.opts.Browser, Seed: seed, StartedAt: time.Now()}
	defer func() { sum.Runtime = time.Since(sum.StartedAt) }()

	r.logger.Info(fmt.Sprintf("Seed value: %s\n", seed), observability.Styled(styleSeed))
	r.logger.Info(fmt.Sprintf("Host: %s\n", r.opts.Host), observability.Styled(styleHost))

	// Results of suite and module level hooks are carried into the next test.
	var carry []assert.Result
	if suite.Begin != nil {
		a := r.newAssert()
		err := r.protect(ctx, suite.Begin, r.newT(a, "", ""))
		carry = append(carry, a.Results()...)
		if err != nil {
			return sum, fmt.Errorf("begin hook failed: %w", err)
		}
	}

	for _, pm := range plan(suite, r.opts.Filter, seed) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		carry = r.runModule(ctx, suite, pm, carry, sum)
	}

	sum.Runtime = time.Since(sum.StartedAt)
	r.logger.Info(fmt.Sprintf("Total: %d, Failed: %d, Passed: %d, Runtime: %.1fm\n\n\n",
		sum.Total(), sum.Failed, sum.Passed, sum.Runtime.Minutes()),
		observability.Styled(styleFinish))
	return sum, ctx.Err()
}

func (r *Runner) runModule(ctx context.Context, suite *Suite, pm plannedModule, carry []assert.Result, sum *Summary) []assert.Result {
	start := time.Now()
	first := len(sum.Tests)
	r.logger.Info(fmt.Sprintf("--- Starting module '%s' ---", pm.Name), observability.Styled(observability.StyleQuiet))

	a := r.newAssert()
	before := r.chain(suite.Lifecycle.Before, pm.Hooks.Before)
	if err := r.protect(ctx, before, r.newT(a, pm.Name, "")); err != nil {
		r.died(ctx, a, "before", err)
	}
	carry = append(carry, a.Results()...)

	for _, t := range pm.tests {
		if ctx.Err() != nil {
			break
		}
		res := r.runTest(ctx, suite, pm, t, carry)
		if !t.Skip {
			carry = nil
		}
		sum.add(res)
	}

	a = r.newAssert()
	after := r.chain(pm.Hooks.After, suite.Lifecycle.After)
	if err := r.protect(ctx, after, r.newT(a, pm.Name, "")); err != nil {
		r.died(ctx, a, "after", err)
	}
	if extra := a.Results(); len(extra) > 0 {
		if last := r.lastRun(sum, first); last != nil {
			last.Results = append(last.Results, extra...)
			p, f := count(extra)
			last.Passed += p
			last.Failed += f
			sum.Passed += p
			sum.Failed += f
		} else {
			carry = append(carry, extra...)
		}
	}

	var passed, failed int
	for _, tr := range sum.Tests[first:] {
		passed += tr.Passed
		failed += tr.Failed
	}
	r.logger.Info(fmt.Sprintf("--- Finished module '%s' - Total: %d, Failed: %d, Passed: %d, Runtime: %.1fs ---\n",
		pm.Name, passed+failed, failed, passed, time.Since(start).Seconds()),
		observability.Styled(observability.StyleQuiet))
	return carry
}

// lastRun is the last non-skipped test result recorded at or after index from.
func (r *Runner) lastRun(sum *Summary, from int) *TestResult {
	for i := len(sum.Tests) - 1; i >= from; i-- {
		if !sum.Tests[i].Skipped {
			return &sum.Tests[i]
		}
	}
	return nil
}

func (r *Runner) runTest(ctx context.Context, suite *Suite, pm plannedModule, test *Test, carry []assert.Result) TestResult {
	res := TestResult{Module: pm.Name, Name: test.Name}
	if test.Skip {
		res.Skipped = true
		r.logger.Info(fmt.Sprintf("--- Skipping test '%s' ---", test.Name), observability.Styled(observability.StyleQuiet))
		return res
	}

	start := time.Now()
	r.logger.Info(fmt.Sprintf("--- Starting test '%s' ---", test.Name), observability.Styled(observability.StyleQuiet))

	a := r.newAssert()
	t := r.newT(a, pm.Name, test.Name)

	if _, err := r.h.Frames().Create(ctx); err != nil {
		r.died(ctx, a, "frame", err)
	} else {
		beforeEach := r.chain(suite.Lifecycle.BeforeEach, pm.Hooks.BeforeEach)
		err := r.protect(ctx, beforeEach, t)
		if err != nil {
			r.died(ctx, a, "beforeEach", err)
		} else if err := r.protect(ctx, test.Fn, t); err != nil {
			r.died(ctx, a, "test", err)
		}

		afterEach := r.chain(pm.Hooks.AfterEach, suite.Lifecycle.AfterEach)
		if err := r.protect(ctx, afterEach, t); err != nil {
			r.died(ctx, a, "afterEach", err)
		}
		if err := r.h.Frames().Destroy(); err != nil {
			r.logger.Warn("Failed to destroy frame.", zap.String("test", test.Name), zap.Error(err))
		}
	}

	res.Results = append(append([]assert.Result(nil), carry...), a.Results()...)
	if len(res.Results) == 0 {
		a.Push(ctx, assert.Result{Message: ErrNoAssertions.Error()})
		res.Results = a.Results()
	}
	res.Passed, res.Failed = count(res.Results)
	res.Runtime = time.Since(start)

	r.logger.Info(fmt.Sprintf("--- Finished test '%s' - Total: %d, Failed: %d, Passed: %d, Runtime: %.1fs ---\n",
		test.Name, res.Passed+res.Failed, res.Failed, res.Passed, res.Runtime.Seconds()),
		observability.Styled(observability.StyleQuiet))
	return res
}

// died records err as a failed result for the named phase.
func (r *Runner) died(ctx context.Context, a *assert.Assert, phase string, err error) {
	a.Push(ctx, assert.Result{Message: fmt.Sprintf("%s died: %v", phase, err)})
}

// protect runs fn, turning a panic into an error.
func (r *Runner) protect(ctx context.Context, fn Func, t *T) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("Recovered test panic.", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx, t)
}

// chain runs the non-nil funcs in order, stopping at the first error.
func (r *Runner) chain(fns ...Func) Func {
	var live []Func
	for _, fn := range fns {
		if fn != nil {
			live = append(live, fn)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return func(ctx context.Context, t *T) error {
		for _, fn := range live {
			if err := fn(ctx, t); err != nil {
				return err
			}
		}
		return nil
	}
}

func (r *Runner) newAssert() *assert.Assert {
	return assert.New(r.h, r.logger, r.opts.Book)
}

func (r *Runner) newT(a *assert.Assert, module, name string) *T {
	return &T{
		Harness: r.h,
		Assert:  a,
		Shell:   r.opts.Shell,
		Params:  r.opts.Params,
		Logger:  r.logger,
		Module:  module,
		Name:    name,
	}
}

func count(results []assert.Result) (passed, failed int) {
	for _, res := range results {
		if res.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
