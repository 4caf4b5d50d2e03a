// File: internal/browser/playwright.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/harness"
)

const launchTimeout = 60 * time.Second

// PlaywrightDriver drives Firefox, WebKit or Chromium through Playwright.
type PlaywrightDriver struct {
	name    string
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "firefox":
		return pw.Firefox, nil
	case "webkit":
		return pw.WebKit, nil
	case "chrome", "chromium":
		return pw.Chromium, nil
	default:
		return nil, fmt.Errorf("unsupported playwright browser %q", name)
	}
}

func launchOptions(cfg config.BrowserConfig) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     cfg.Args,
		Timeout:  playwright.Float(float64(launchTimeout.Milliseconds())),
	}
	if cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(config.ExpandPath(cfg.ExecPath))
	}
	return opts
}

// NewPlaywrightDriver starts the Playwright driver and launches name.
func NewPlaywrightDriver(ctx context.Context, name string, cfg config.BrowserConfig, logger *zap.Logger) (*PlaywrightDriver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}
	bt, err := browserType(pw, name)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}
	b, err := bt.Launch(launchOptions(cfg))
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}

	d := &PlaywrightDriver{
		name:    name,
		pw:      pw,
		browser: b,
		logger:  logger.Named("playwright").With(zap.String("browser", name)),
	}
	d.logger.Info("Browser launched.", zap.String("browser_version", b.Version()))
	return d, nil
}

func (d *PlaywrightDriver) Name() string { return d.name }

func (d *PlaywrightDriver) NewPage(ctx context.Context) (harness.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%s driver is closed", d.name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pg, err := d.browser.NewPage(playwright.BrowserNewPageOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	p := &playwrightPage{
		page:   pg,
		events: make(chan harness.PageEvent, eventBuffer),
		done:   make(chan struct{}),
	}
	pg.OnLoad(func(playwright.Page) {
		p.emit(harness.PageEvent{Kind: harness.EventLoad, Time: time.Now()})
	})
	pg.OnRequest(func(r playwright.Request) {
		if isPlaywrightAjax(r) {
			p.emit(harness.PageEvent{Kind: harness.EventAjaxStart, RequestID: requestID(r), URL: r.URL(), Time: time.Now()})
		}
	})
	pg.OnRequestFinished(func(r playwright.Request) {
		if isPlaywrightAjax(r) {
			p.emit(harness.PageEvent{Kind: harness.EventAjaxFinish, RequestID: requestID(r), Status: "status: OK", Time: time.Now()})
		}
	})
	pg.OnRequestFailed(func(r playwright.Request) {
		if isPlaywrightAjax(r) {
			p.emit(harness.PageEvent{Kind: harness.EventAjaxFinish, RequestID: requestID(r), Status: "status: failed", Time: time.Now()})
		}
	})
	return p, nil
}

func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.browser.Close(); err != nil {
		d.logger.Warn("Error closing browser.", zap.Error(err))
	}
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	d.logger.Info("Browser closed.")
	return nil
}

func isPlaywrightAjax(r playwright.Request) bool {
	rt := r.ResourceType()
	return rt == "xhr" || rt == "fetch"
}

// requestID relies on Playwright handing out one Request object per request.
func requestID(r playwright.Request) string {
	return fmt.Sprintf("%p", r)
}

type playwrightPage struct {
	page   playwright.Page
	events chan harness.PageEvent
	done   chan struct{}
	once   sync.Once
}

func (p *playwrightPage) emit(ev harness.PageEvent) {
	select {
	case <-p.done:
	case p.events <- ev:
	}
}

func (p *playwrightPage) Events() <-chan harness.PageEvent { return p.events }

// Navigate returns once the navigation commits; the load is observed
// through events.
func (p *playwrightPage) Navigate(ctx context.Context, url string) error {
	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateCommit}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = playwright.Float(float64(time.Until(deadline).Milliseconds()))
	}
	_, err := p.page.Goto(url, opts)
	return err
}

func (p *playwrightPage) Eval(ctx context.Context, expression string, out any) error {
	type result struct {
		v   interface{}
		err error
	}
	// Buffered so the goroutine can finish once playwright returns, even
	// after ctx gave up on it.
	ch := make(chan result, 1)
	go func() {
		v, err := p.page.Evaluate(expression)
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-ch:
		if r.err != nil || out == nil {
			return evalError(r.err)
		}
		raw, err := json.Marshal(r.v)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
}

// BringToFront implements harness.Revealer.
func (p *playwrightPage) BringToFront(context.Context) error {
	return p.page.BringToFront()
}

func (p *playwrightPage) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.page.Close()
	})
	return err
}
