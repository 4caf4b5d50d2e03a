// File: internal/harness/quiescence.go
package harness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xkilldash9x/afterburner/internal/config"
)

// HealthReport is the verdict of a HealthInspector on a freshly loaded page.
type HealthReport struct {
	Error      string
	PageLoaded bool
}

// HealthInspector decides whether the application under test loaded.
type HealthInspector interface {
	Inspect(ctx context.Context, f *Frame, opts ActionOptions) (HealthReport, error)
}

// ScriptInspector runs a user supplied expression in the page. The
// expression sees two variables, logErrors and isPerformanceTest, and must
// evaluate to an object with optional "error" and "pageLoaded" fields. Only
// an explicit pageLoaded of false fails the page.
type ScriptInspector struct {
	Script string
}

func (s ScriptInspector) Inspect(ctx context.Context, f *Frame, opts ActionOptions) (HealthReport, error) {
	expr := fmt.Sprintf("((logErrors, isPerformanceTest) => (%s))(%t, %t)", s.Script, !opts.SuppressErrorLog, opts.IsPerformanceTest)
	var raw struct {
		Error      any   `json:"error"`
		PageLoaded *bool `json:"pageLoaded"`
	}
	if err := f.Eval(ctx, expr, &raw); err != nil {
		return HealthReport{}, fmt.Errorf("health inspection failed: %w", err)
	}
	report := HealthReport{PageLoaded: raw.PageLoaded == nil || *raw.PageLoaded}
	if raw.Error != nil {
		report.Error = fmt.Sprint(raw.Error)
	}
	return report, nil
}

// QuiescenceChecker blocks until the application's own asynchronous work
// has drained.
type QuiescenceChecker interface {
	Wait(ctx context.Context, f *Frame) error
}

// NoopQuiescence treats every page as settled.
type NoopQuiescence struct{}

func (NoopQuiescence) Wait(context.Context, *Frame) error { return nil }

// ScriptQuiescence polls a JavaScript expression until it evaluates to true.
// Evaluation errors count as "not settled yet"; the surrounding action
// deadline bounds the wait.
type ScriptQuiescence struct {
	Script   string
	Interval time.Duration
}

func (q ScriptQuiescence) Wait(ctx context.Context, f *Frame) error {
	interval := q.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		var settled bool
		if err := f.Eval(ctx, q.Script, &settled); err == nil && settled {
			return nil
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// emberSettledScript is true when no Ember application is present, or when
// the run loop is idle, no timers are scheduled, the router is available and
// no route transition is active.
const emberSettledScript = `(() => {
  const w = window;
  if (!w.Ember) return true;
  const run = w.Ember.run;
  if (run.currentRunLoop || run.hasScheduledTimers()) return false;
  let router;
  try {
    const ns = w.Ember.A(w.Ember.Namespace.NAMESPACES).find(a => a.name !== 'DS');
    router = ns && ns._applicationInstances.values().next().value.router;
  } catch (e) {
    return false;
  }
  if (!router) return false;
  return !router._routerMicrolib.activeTransition;
})()`

// NewEmberQuiescence waits for an Ember application to settle.
func NewEmberQuiescence(interval time.Duration) ScriptQuiescence {
	return ScriptQuiescence{Script: emberSettledScript, Interval: interval}
}

// ChainQuiescence waits on each checker in order.
type ChainQuiescence []QuiescenceChecker

func (c ChainQuiescence) Wait(ctx context.Context, f *Frame) error {
	for _, q := range c {
		if err := q.Wait(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// QuiescenceFromConfig builds the checker for the configured environments
// plus an optional custom script.
func QuiescenceFromConfig(cfg config.SettleConfig) QuiescenceChecker {
	var chain ChainQuiescence
	for _, env := range cfg.Environments {
		if strings.EqualFold(env, "ember") {
			chain = append(chain, NewEmberQuiescence(cfg.QuiescencePoll))
		}
	}
	if cfg.QuiescenceScript != "" {
		chain = append(chain, ScriptQuiescence{Script: cfg.QuiescenceScript, Interval: cfg.QuiescencePoll})
	}
	if len(chain) == 0 {
		return NoopQuiescence{}
	}
	return chain
}

// HealthFromConfig returns the configured inspector, or nil when none is set.
func HealthFromConfig(cfg config.SettleConfig) HealthInspector {
	if cfg.HealthScript == "" {
		return nil
	}
	return ScriptInspector{Script: cfg.HealthScript}
}
