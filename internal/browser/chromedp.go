// File: internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/harness"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// eventBuffer is the capacity of each page's event channel.
const eventBuffer = 1024

// ChromeDriver drives Chrome or Chromium over the DevTools protocol.
type ChromeDriver struct {
	name   string
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	pages  map[*chromePage]struct{}
	closed bool
}

// allocatorOptions translates the browser config into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExpandPath(cfg.ExecPath)))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewChromeDriver starts a browser process. It lives until Close.
func NewChromeDriver(ctx context.Context, name string, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run on the root context launches the process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}

	d := &ChromeDriver{
		name:          name,
		logger:        logger.Named("chromedp").With(zap.String("browser", name)),
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		pages:         make(map[*chromePage]struct{}),
	}
	d.logger.Info("Browser launched.")
	return d, nil
}

func (d *ChromeDriver) Name() string { return d.name }

// NewPage opens a new tab and starts forwarding its load and ajax events.
func (d *ChromeDriver) NewPage(ctx context.Context) (harness.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("%s driver is closed", d.name)
	}

	tabCtx, cancel := chromedp.NewContext(d.browserCtx)
	p := &chromePage{
		ctx:    tabCtx,
		cancel: cancel,
		events: make(chan harness.PageEvent, eventBuffer),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	p.onClose = func() {
		d.mu.Lock()
		delete(d.pages, p)
		d.mu.Unlock()
	}
	d.pages[p] = struct{}{}
	return p, nil
}

// Close closes every tab and then the browser.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pages := make([]*chromePage, 0, len(d.pages))
	for p := range d.pages {
		pages = append(pages, p)
	}
	d.mu.Unlock()

	for _, p := range pages {
		_ = p.Close()
	}
	d.browserCancel()
	d.allocCancel()
	d.logger.Info("Browser closed.")
	return nil
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan harness.PageEvent
	done    chan struct{}
	once    sync.Once
	onClose func()
	logger  *zap.Logger
}

func isAjax(t network.ResourceType) bool {
	return t == network.ResourceTypeXHR || t == network.ResourceTypeFetch
}

// onEvent runs on chromedp's event loop.
func (p *chromePage) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventLoadEventFired:
		p.emit(harness.PageEvent{Kind: harness.EventLoad, Time: time.Now()})
	case *network.EventRequestWillBeSent:
		if isAjax(e.Type) && e.Request != nil {
			p.emit(harness.PageEvent{Kind: harness.EventAjaxStart, RequestID: string(e.RequestID), URL: e.Request.URL, Time: time.Now()})
		}
	case *network.EventLoadingFinished:
		p.emit(harness.PageEvent{Kind: harness.EventAjaxFinish, RequestID: string(e.RequestID), Status: "status: OK", Time: time.Now()})
	case *network.EventLoadingFailed:
		if isAjax(e.Type) {
			p.emit(harness.PageEvent{Kind: harness.EventAjaxFinish, RequestID: string(e.RequestID), Status: "status: " + e.ErrorText, Time: time.Now()})
		}
	}
}

func (p *chromePage) emit(ev harness.PageEvent) {
	select {
	case <-p.done:
	case p.events <- ev:
	}
}

func (p *chromePage) Events() <-chan harness.PageEvent { return p.events }

// Navigate assigns the location from inside the page, so the call returns
// as soon as navigation starts and the load is observed through events.
func (p *chromePage) Navigate(ctx context.Context, url string) error {
	quoted, err := json.MarshalToString(url)
	if err != nil {
		return err
	}
	return p.Eval(ctx, fmt.Sprintf("(() => { window.location.assign(%s); return true; })()", quoted), nil)
}

func (p *chromePage) Eval(ctx context.Context, expression string, out any) error {
	var raw []byte
	if err := p.run(ctx, chromedp.Evaluate(expression, &raw)); err != nil {
		return evalError(err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// BringToFront implements harness.Revealer.
func (p *chromePage) BringToFront(ctx context.Context) error {
	return p.run(ctx, page.BringToFront())
}

// run executes actions on the tab, bounded by both ctx and the tab lifetime.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *chromePage) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.cancel()
		if p.onClose != nil {
			p.onClose()
		}
	})
	return nil
}
