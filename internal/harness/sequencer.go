// File: internal/harness/sequencer.go
package harness

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ActionOptions tunes a single navigation or interaction.
type ActionOptions struct {
	// WaitForAjax waits for background requests to drain before resolving.
	WaitForAjax bool
	// WaitForElements are selectors that must be present and visible, in order.
	WaitForElements []string
	// Timeout overrides the default action deadline.
	Timeout time.Duration
	// IsPerformanceTest implies WaitForAjax and tags the load time log.
	IsPerformanceTest bool
	// ExpectPageLoad forces (true) or suppresses (false) the navigation wait
	// on click. When nil, anchors and submit controls wait for a load.
	ExpectPageLoad *bool
	// SuppressErrorLog keeps action failures out of the log.
	SuppressErrorLog bool
}

// Bool returns a pointer to b, for ActionOptions.ExpectPageLoad.
func Bool(b bool) *bool { return &b }

// Settings are the static parameters of a Harness.
type Settings struct {
	// BaseURL resolves relative navigation targets, normally the proxy origin.
	BaseURL       string
	ActionTimeout time.Duration
}

// Harness sequences navigations and interactions on the live frame and
// waits for each to settle.
type Harness struct {
	frames        *FrameController
	detector      *Detector
	base          *url.URL
	actionTimeout time.Duration
	logger        *zap.Logger
}

// New creates a Harness.
func New(frames *FrameController, detector *Detector, settings Settings, logger *zap.Logger) (*Harness, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(settings.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", settings.BaseURL, err)
	}
	timeout := settings.ActionTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Harness{
		frames:        frames,
		detector:      detector,
		base:          base,
		actionTimeout: timeout,
		logger:        logger.Named("harness"),
	}, nil
}

// Frames exposes the frame controller.
func (h *Harness) Frames() *FrameController { return h.frames }

// Logger is the harness logger.
func (h *Harness) Logger() *zap.Logger { return h.logger }

// ResolveURL resolves target against the base URL.
func (h *Harness) ResolveURL(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	return h.base.ResolveReference(ref).String(), nil
}

// act runs fn as the single in-flight action on the live frame, bounded by
// the action deadline. The frame is released only after fn has returned.
func (h *Harness) act(ctx context.Context, action string, opts ActionOptions, fn func(actx context.Context, f *Frame, start time.Time) error) error {
	f, err := h.frames.Current()
	if err != nil {
		return err
	}
	release, err := f.begin()
	if err != nil {
		return err
	}
	defer release()

	budget := h.budget(opts)
	actx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	return h.finish(ctx, actx, action, opts, start, budget, fn(actx, f, start))
}

// navigate runs trigger and then a full settlement cycle on the live frame
// under a single deadline.
func (h *Harness) navigate(ctx context.Context, action string, opts ActionOptions, trigger func(ctx context.Context, f *Frame) (string, error)) error {
	return h.act(ctx, action, opts, func(actx context.Context, f *Frame, start time.Time) error {
		return h.settleNavigation(actx, f, opts, start, trigger)
	})
}

// settleNavigation arms the frame for its next load, runs trigger and waits
// for the detector. trigger returns the outer HTML of a clicked element, if
// any. The detector honours actx, so it has stopped touching the frame by
// the time this returns.
func (h *Harness) settleNavigation(actx context.Context, f *Frame, opts ActionOptions, start time.Time, trigger func(ctx context.Context, f *Frame) (string, error)) error {
	req := settleRequest{frame: f, after: f.LoadSeq(), opts: opts, start: start}
	if trigger != nil {
		clicked, err := trigger(actx, f)
		if err != nil {
			return err
		}
		req.clicked = clicked
	}
	_, err := h.detector.settle(actx, req)
	return err
}

func (h *Harness) budget(opts ActionOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return h.actionTimeout
}

// finish maps a deadline on the action context to a TimeoutError, records
// metrics and logs the failure.
func (h *Harness) finish(parent, actx context.Context, action string, opts ActionOptions, start time.Time, budget time.Duration, err error) error {
	if err != nil && parent.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Budget: budget}
	}
	settleDuration.WithLabelValues(action, outcomeLabel(err)).Observe(time.Since(start).Seconds())
	if err != nil && !opts.SuppressErrorLog {
		h.logger.Error(fmt.Sprintf("%s failed: %s", action, err.Error()))
	}
	return err
}

// Visit navigates the frame to target and waits for the page to settle.
// Relative targets resolve against the base URL.
func (h *Harness) Visit(ctx context.Context, target string, opts ActionOptions) error {
	dest, err := h.ResolveURL(target)
	if err != nil {
		return err
	}
	return h.navigate(ctx, "visit", opts, func(ctx context.Context, f *Frame) (string, error) {
		h.logger.Debug("Navigating.", zap.String("url", dest))
		return "", f.Navigate(ctx, dest)
	})
}

// Reload re-navigates to the frame's current URL.
func (h *Harness) Reload(ctx context.Context, opts ActionOptions) error {
	f, err := h.frames.Current()
	if err != nil {
		return err
	}
	current, err := f.CurrentURL(ctx)
	if err != nil {
		return fmt.Errorf("reading current url: %w", err)
	}
	return h.navigate(ctx, "reload", opts, func(ctx context.Context, f *Frame) (string, error) {
		return "", f.Navigate(ctx, current)
	})
}

// WaitForPageRedirect waits for a navigation the application starts on its
// own, such as a scripted redirect.
func (h *Harness) WaitForPageRedirect(ctx context.Context, opts ActionOptions) error {
	return h.navigate(ctx, "redirect", opts, nil)
}

// Click clicks the first element matching target. Anchors and submit
// controls wait for the next page to settle unless opts says otherwise;
// everything else waits for quiescence and required elements in place.
func (h *Harness) Click(ctx context.Context, target Target, opts ActionOptions) error {
	loc := target.Locator()
	return h.act(ctx, "click", opts, func(actx context.Context, f *Frame, start time.Time) error {
		els, err := f.dom.Query(actx, loc.first())
		if err != nil {
			return fmt.Errorf("resolving %s: %w", loc.Selector, err)
		}
		if len(els) == 0 {
			return h.notFound(actx, f, loc)
		}
		el := els[0]
		el.Selector = loc.Selector

		navigates := el.Tag == "A" || el.Type == "submit"
		if opts.ExpectPageLoad != nil {
			navigates = *opts.ExpectPageLoad
		}

		if navigates {
			return h.settleNavigation(actx, f, opts, start, func(ctx context.Context, f *Frame) (string, error) {
				found, err := f.dom.Click(ctx, el.Locator())
				switch {
				case errors.Is(err, ErrDocumentReplaced):
					// The click navigated before the script returned.
					return el.OuterHTML, nil
				case err != nil:
					return "", fmt.Errorf("clicking %s: %w", loc.Selector, err)
				case !found:
					return "", h.notFound(ctx, f, loc)
				}
				return el.OuterHTML, nil
			})
		}

		found, err := f.dom.Click(actx, el.Locator())
		if err != nil {
			return fmt.Errorf("clicking %s: %w", loc.Selector, err)
		}
		if !found {
			return h.notFound(actx, f, loc)
		}
		return h.detector.settleInPlace(actx, f, opts)
	})
}

// SubmitForm clicks the first [type="submit"] element and waits for the
// resulting page.
func (h *Harness) SubmitForm(ctx context.Context, opts ActionOptions) error {
	return h.Click(ctx, Sel(`[type="submit"]`), opts)
}

// FillIn sets the value of every enabled element matching target and
// returns how many changed. Checkboxes are toggled to the truthiness of
// value; other elements are only touched when their value differs.
func (h *Harness) FillIn(ctx context.Context, target Target, value any) (int, error) {
	f, err := h.frames.Current()
	if err != nil {
		return 0, err
	}
	return f.dom.FillIn(ctx, target.Locator(), value)
}

// KeyPress dispatches a key press on the first element matching target.
func (h *Harness) KeyPress(ctx context.Context, target Target) error {
	f, err := h.frames.Current()
	if err != nil {
		return err
	}
	loc := target.Locator()
	found, err := f.dom.KeyPress(ctx, loc)
	if err != nil {
		return err
	}
	if !found {
		return h.notFound(ctx, f, loc)
	}
	return nil
}

// Pause sleeps for d or until ctx is done.
func (h *Harness) Pause(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

// Hang blocks until ctx is done. Useful while writing or debugging a test.
func (h *Harness) Hang(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// Retry runs the polling engine with the harness logger.
func (h *Harness) Retry(ctx context.Context, opts RetryOptions, pred Predicate) error {
	return Retry(ctx, h.logger, opts, pred)
}

func (h *Harness) notFound(ctx context.Context, f *Frame, loc Locator) error {
	nf := &ElementNotFoundError{Selector: loc.Selector}
	doc, err := f.CurrentDocument(ctx)
	if err != nil {
		return errors.Join(nf, fmt.Errorf("reading current page: %w", err))
	}
	nf.Page = doc.Path
	return nf
}
