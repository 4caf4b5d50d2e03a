// File: internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/mocks"
)

var fastTimings = harness.Timings{
	NetworkGrace:    20 * time.Millisecond,
	NetworkIdle:     20 * time.Millisecond,
	NetworkPoll:     20 * time.Millisecond,
	ElementTimeout:  100 * time.Millisecond,
	ElementInterval: 10 * time.Millisecond,
}

type fixture struct {
	driver *mocks.FakeDriver
	h      *harness.Harness
	logger *zap.Logger
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	driver := mocks.NewFakeDriver()
	driver.Routes["/"] = &mocks.FakeDocument{
		HTML: "<html><body>hello world</body></html>",
		Elements: []mocks.FakeElement{
			{Selector: "body", Element: harness.Element{Tag: "body", Text: " hello world ", Visible: true}},
		},
	}
	frames := harness.NewFrameController(driver, logger)
	detector := harness.NewDetector(fastTimings, nil, nil, logger)
	h, err := harness.New(frames, detector, harness.Settings{BaseURL: "http://127.0.0.1:3000", ActionTimeout: 2 * time.Second}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = frames.Destroy() })

	return &fixture{driver: driver, h: h, logger: logger, logs: logs}
}

func (fx *fixture) runner(opts Options) *Runner {
	if opts.Seed == "" {
		opts.Seed = "fixedseed0"
	}
	return New(fx.h, opts, fx.logger)
}

func TestRun_CountsAndIsolation(t *testing.T) {
	fx := newFixture(t)
	suite := &Suite{}

	home := suite.Module("Acceptance | Home", Hooks{})
	home.Test("loads", func(ctx context.Context, t *T) error {
		if err := t.Visit(ctx, "/", harness.ActionOptions{}); err != nil {
			return err
		}
		t.Assert.OK(ctx, true, "visited")
		return t.Assert.DOM(ctx, harness.Sel("body")).Exists("")
	})
	home.Test("fails", func(ctx context.Context, t *T) error {
		t.Assert.OK(ctx, false, "expected failure")
		return nil
	})

	broken := suite.Module("Acceptance | Broken", Hooks{})
	broken.Test("panics", func(ctx context.Context, t *T) error {
		panic("boom")
	})
	broken.Test("asserts nothing", func(ctx context.Context, t *T) error { return nil })

	sum, err := fx.runner(Options{Host: "http://localhost:4200", Browser: "fake"}).Run(context.Background(), suite)
	require.NoError(t, err)

	assert.Len(t, sum.Tests, 4)
	assert.Equal(t, 2, sum.Passed)
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 5, sum.Total())
	assert.False(t, sum.OK())
	assert.Equal(t, "fixedseed0", sum.Seed)

	byName := map[string]TestResult{}
	for _, tr := range sum.Tests {
		byName[tr.Name] = tr
	}
	assert.True(t, byName["loads"].OK())
	assert.Equal(t, "FAILURE: test died: panic: boom", byName["panics"].FirstFailure())
	assert.Equal(t, "FAILURE: "+ErrNoAssertions.Error(), byName["asserts nothing"].FirstFailure())

	assert.Equal(t, 1, fx.logs.FilterMessageSnippet("Seed value: fixedseed0").Len())
	assert.Equal(t, 1, fx.logs.FilterMessageSnippet("Host: http://localhost:4200").Len())
	assert.Equal(t, 1, fx.logs.FilterMessageSnippet("--- Starting module 'Acceptance | Home' ---").Len())
	assert.Equal(t, 1, fx.logs.FilterMessageSnippet("--- Finished module 'Acceptance | Broken' - Total: 2, Failed: 2, Passed: 0").Len())
	assert.Equal(t, 1, fx.logs.FilterMessageSnippet("--- Finished test 'loads' - Total: 2, Failed: 0, Passed: 2").Len())
	assert.Equal(t, 1, fx.logs.FilterMessageSnippet("Total: 5, Failed: 3, Passed: 2, Runtime: ").Len())

	_, err = fx.h.Frames().Current()
	assert.ErrorIs(t, err, harness.ErrNoActiveFrame, "frames are torn down after every test")
	assert.Len(t, fx.driver.Pages(), 4, "every test gets a fresh frame")
}

func TestRun_HookOrderAndCarry(t *testing.T) {
	fx := newFixture(t)
	var calls []string
	record := func(name string) Func {
		return func(ctx context.Context, t *T) error {
			calls = append(calls, name)
			return nil
		}
	}

	var frameInBefore, frameInTest error
	suite := &Suite{
		Lifecycle: Hooks{
			Before:     record("L.before"),
			After:      record("L.after"),
			BeforeEach: record("L.beforeEach"),
			AfterEach:  record("L.afterEach"),
		},
	}
	m := suite.Module("Module", Hooks{
		Before: func(ctx context.Context, t *T) error {
			calls = append(calls, "M.before")
			_, frameInBefore = t.Frames().Current()
			t.Assert.OK(ctx, true, "module setup")
			return nil
		},
		After: func(ctx context.Context, t *T) error {
			calls = append(calls, "M.after")
			t.Assert.OK(ctx, true, "module teardown")
			return nil
		},
		BeforeEach: record("M.beforeEach"),
		AfterEach:  record("M.afterEach"),
	})
	body := func(ctx context.Context, t *T) error {
		calls = append(calls, "test")
		_, frameInTest = t.Frames().Current()
		t.Assert.OK(ctx, true, "ran")
		return nil
	}
	m.Test("one", body)
	m.Test("two", body)
	m.Skip("three", body)

	sum, err := fx.runner(Options{}).Run(context.Background(), suite)
	require.NoError(t, err)

	each := []string{"L.beforeEach", "M.beforeEach", "test", "M.afterEach", "L.afterEach"}
	want := []string{"L.before", "M.before"}
	want = append(want, each...)
	want = append(want, each...)
	want = append(want, "M.after", "L.after")
	assert.Equal(t, want, calls)

	assert.ErrorIs(t, frameInBefore, harness.ErrNoActiveFrame)
	assert.NoError(t, frameInTest)

	var ran []TestResult
	skipped := 0
	for _, tr := range sum.Tests {
		if tr.Skipped {
			skipped++
			continue
		}
		ran = append(ran, tr)
	}
	require.Len(t, ran, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 2, ran[0].Passed, "before hook results are carried into the first test")
	assert.Equal(t, 2, ran[1].Passed, "after hook results are appended to the last test")
	assert.Equal(t, 4, sum.Passed)
}

func TestRun_HookFailuresFailTheTest(t *testing.T) {
	fx := newFixture(t)
	suite := &Suite{}
	bodyRan := false
	m := suite.Module("Module", Hooks{
		BeforeEach: func(ctx context.Context, t *T) error { return errors.New("setup broke") },
	})
	m.Test("guarded", func(ctx context.Context, t *T) error {
		bodyRan = true
		return nil
	})

	sum, err := fx.runner(Options{}).Run(context.Background(), suite)
	require.NoError(t, err)
	require.Len(t, sum.Tests, 1)
	assert.False(t, bodyRan)
	assert.Equal(t, "FAILURE: beforeEach died: setup broke", sum.Tests[0].FirstFailure())
}

func TestRun_BeginFailure(t *testing.T) {
	fx := newFixture(t)
	suite := &Suite{Begin: func(ctx context.Context, t *T) error { return errors.New("no database") }}
	suite.Module("Module", Hooks{}).Test("never", func(ctx context.Context, t *T) error { return nil })

	sum, err := fx.runner(Options{}).Run(context.Background(), suite)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin hook failed: no database")
	assert.Empty(t, sum.Tests)
}

func TestRun_CancelledContext(t *testing.T) {
	fx := newFixture(t)
	suite := &Suite{}
	suite.Module("Module", Hooks{}).Test("never", func(ctx context.Context, t *T) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := fx.runner(Options{}).Run(ctx, suite)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sum.Tests)
}

func TestRun_GeneratesSeed(t *testing.T) {
	fx := newFixture(t)
	r := New(fx.h, Options{}, fx.logger)
	sum, err := r.Run(context.Background(), &Suite{})
	require.NoError(t, err)
	assert.Len(t, sum.Seed, SeedLength)
}
