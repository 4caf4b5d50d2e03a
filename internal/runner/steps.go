// File: internal/runner/steps.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/assert"
	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/shelly"
)

// ErrNoShell is returned by executeCommand steps when no command runner is set.
var ErrNoShell = errors.New("command endpoint is not available")

// stepsFunc compiles a step list into a Func. An empty list yields nil.
func stepsFunc(steps []Step) Func {
	if len(steps) == 0 {
		return nil
	}
	return func(ctx context.Context, t *T) error {
		for i, s := range steps {
			if err := s.run(ctx, t); err != nil {
				return fmt.Errorf("step %d (%s): %w", i+1, strings.Join(s.actions(), ""), err)
			}
		}
		return nil
	}
}

func (o StepOptions) action() harness.ActionOptions {
	return harness.ActionOptions{
		WaitForAjax:       o.WaitForAjax,
		WaitForElements:   o.WaitForElements,
		Timeout:           o.Timeout,
		IsPerformanceTest: o.IsPerformanceTest,
		ExpectPageLoad:    o.ExpectPageLoad,
	}
}

func (s Step) run(ctx context.Context, t *T) error {
	opts := s.StepOptions.action()
	switch {
	case s.Visit != "":
		return t.Visit(ctx, s.Visit, opts)
	case s.Click != "":
		return t.Click(ctx, harness.Sel(s.Click), opts)
	case s.FillIn != nil:
		_, err := t.FillIn(ctx, harness.Sel(s.FillIn.Selector), s.FillIn.Value)
		return err
	case s.KeyPress != "":
		return t.KeyPress(ctx, harness.Sel(s.KeyPress))
	case s.Reload:
		return t.Reload(ctx, opts)
	case s.WaitForPageRedirect:
		return t.WaitForPageRedirect(ctx, opts)
	case s.SubmitForm:
		return t.SubmitForm(ctx, opts)
	case s.Pause > 0:
		return t.Pause(ctx, s.Pause)
	case s.Log != "":
		t.Logger.Info(s.Log)
		return nil
	case s.ExecuteCommand != nil:
		return s.ExecuteCommand.run(ctx, t)
	case s.RetryUntil != nil:
		return s.RetryUntil.run(ctx, t)
	case s.Assert != nil:
		return s.Assert.run(ctx, t)
	}
	return errors.New("empty step")
}

func (c *CommandStep) run(ctx context.Context, t *T) error {
	if t.Shell == nil {
		return ErrNoShell
	}
	res, err := t.Shell.ExecuteCommand(ctx, c.Command, shelly.CommandOptions{
		Dir:      c.Dir,
		Timeout:  c.Timeout,
		Detached: c.Detached,
	})
	if err != nil {
		return err
	}

	want := 0
	if c.ExitCode != nil {
		want = *c.ExitCode
	}
	t.Assert.Equal(ctx, res.ExitCode, want, fmt.Sprintf("'%s' exit code is %d", c.Command, want))
	if c.StdoutIncludes != "" {
		t.Assert.Push(ctx, assert.Result{
			Passed:   strings.Contains(res.Stdout, c.StdoutIncludes),
			Actual:   res.Stdout,
			Expected: c.StdoutIncludes,
			Message:  fmt.Sprintf("'%s' stdout includes '%s'", c.Command, c.StdoutIncludes),
		})
	}
	if c.StderrIncludes != "" {
		t.Assert.Push(ctx, assert.Result{
			Passed:   strings.Contains(res.Stderr, c.StderrIncludes),
			Actual:   res.Stderr,
			Expected: c.StderrIncludes,
			Message:  fmt.Sprintf("'%s' stderr includes '%s'", c.Command, c.StderrIncludes),
		})
	}
	return nil
}

func (r *RetryStep) run(ctx context.Context, t *T) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	desc := r.Description
	if desc == "" {
		desc = "waiting for condition"
	}
	err := t.Retry(ctx, harness.RetryOptions{Timeout: r.Timeout, Interval: interval, Description: desc},
		func(ctx context.Context) (bool, error) {
			ok, err := r.Until.probe(ctx, t)
			if err != nil {
				t.Logger.Debug("Retry probe failed.", zap.Error(err))
				return true, nil
			}
			return !ok, nil
		})
	if err != nil {
		return err
	}
	return r.Until.run(ctx, t)
}

func (a *AssertStep) textOptions() assert.TextOptions {
	return assert.TextOptions{DontTrim: a.DontTrim, RemoveLineBreaks: a.RemoveLineBreaks, Message: a.Message}
}

func (a *AssertStep) run(ctx context.Context, t *T) error {
	switch {
	case a.CurrentPage != "":
		return t.Assert.CurrentPageIs(ctx, a.CurrentPage, a.Message)
	case a.NotCurrentPage != "":
		return t.Assert.CurrentPageIsNot(ctx, a.NotCurrentPage, a.Message)
	}

	d := t.Assert.DOM(ctx, harness.Sel(a.DOM))
	switch {
	case a.Exists:
		return d.Exists(a.Message)
	case a.DoesNotExist:
		return d.DoesNotExist(a.Message)
	case a.Count != nil:
		return d.Count(*a.Count, a.Message)
	case a.HasText != nil:
		return d.HasText(*a.HasText, a.textOptions())
	case a.IncludesText != nil:
		return d.IncludesText(*a.IncludesText, a.textOptions())
	case a.DoesNotIncludeText != nil:
		return d.DoesNotIncludeText(*a.DoesNotIncludeText, a.textOptions())
	case a.HasClass != "":
		return d.HasClass(a.HasClass, a.Message)
	}
	switch a.Is {
	case "checked":
		return d.IsChecked(a.Message)
	case "notChecked":
		return d.IsNotChecked(a.Message)
	case "disabled":
		return d.IsDisabled(a.Message)
	case "enabled":
		return d.IsEnabled(a.Message)
	case "visible":
		return d.IsVisible(a.Message)
	case "notVisible":
		return d.IsNotVisible(a.Message)
	}
	return fmt.Errorf("assert on %s has no check", a.DOM)
}

// probe evaluates the check without recording a result.
func (a *AssertStep) probe(ctx context.Context, t *T) (bool, error) {
	switch {
	case a.CurrentPage != "":
		return t.CurrentPageIs(ctx, a.CurrentPage)
	case a.NotCurrentPage != "":
		on, err := t.CurrentPageIs(ctx, a.NotCurrentPage)
		return !on, err
	}

	els, err := t.FindAll(ctx, harness.Sel(a.DOM))
	if err != nil {
		return false, err
	}
	switch {
	case a.Exists:
		return len(els) > 0, nil
	case a.DoesNotExist:
		return len(els) == 0, nil
	case a.Count != nil:
		return len(els) == *a.Count, nil
	}
	if len(els) == 0 {
		return false, nil
	}
	el := els[0]
	text := a.textOptions().Normalize(el.Text)
	switch {
	case a.HasText != nil:
		return text == *a.HasText, nil
	case a.IncludesText != nil:
		return strings.Contains(text, *a.IncludesText), nil
	case a.DoesNotIncludeText != nil:
		return !strings.Contains(text, *a.DoesNotIncludeText), nil
	case a.HasClass != "":
		return el.HasClass(a.HasClass), nil
	}
	switch a.Is {
	case "checked":
		return el.Checked, nil
	case "notChecked":
		return !el.Checked, nil
	case "disabled":
		return el.Disabled, nil
	case "enabled":
		return !el.Disabled, nil
	case "visible":
		return el.Visible, nil
	case "notVisible":
		return !el.Visible, nil
	}
	return false, nil
}
