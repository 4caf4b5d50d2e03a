// File: internal/harness/frame.go
package harness

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/observability"
)

var (
	styleAjaxSend     = observability.Style{Color: "grey", Emoji: "➡️", FontStyle: "italic"}
	styleAjaxComplete = observability.Style{Color: "grey", Emoji: "⬅️", FontStyle: "italic"}
)

// Frame is the single browsing context tests drive. It owns the page, the
// ajax counter for whatever document is loaded, and the load sequence used
// to wait for the next native load signal.
type Frame struct {
	id     string
	page   Page
	dom    DOM
	ajax   *AjaxCounter
	logger *zap.Logger

	mu       sync.Mutex
	loadSeq  uint64
	loadCh   chan struct{}
	lastLoad time.Time
	closed   bool

	busy    atomic.Bool
	visible atomic.Bool
	cycles  atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

func newFrame(page Page, logger *zap.Logger) *Frame {
	f := &Frame{
		id:     uuid.NewString(),
		page:   page,
		dom:    newDOM(page),
		ajax:   NewAjaxCounter(),
		loadCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	f.logger = logger.With(zap.String("frame_id", f.id))
	f.wg.Add(1)
	go f.pump()
	return f
}

// pump consumes page events until the page closes or the frame is destroyed.
func (f *Frame) pump() {
	defer f.wg.Done()
	events := f.page.Events()
	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			f.handle(ev)
		}
	}
}

func (f *Frame) handle(ev PageEvent) {
	switch ev.Kind {
	case EventLoad:
		at := ev.Time
		if at.IsZero() {
			at = time.Now()
		}
		f.ajax.Reset()
		f.mu.Lock()
		f.loadSeq++
		f.lastLoad = at
		close(f.loadCh)
		f.loadCh = make(chan struct{})
		f.mu.Unlock()
	case EventAjaxStart:
		if f.ajax.Start(ev.RequestID, ev.URL) {
			ajaxRequests.Inc()
			f.logger.Debug(fmt.Sprintf("ajaxSend: %s", ev.URL), observability.Styled(styleAjaxSend))
		}
	case EventAjaxFinish:
		if url, ok := f.ajax.Finish(ev.RequestID); ok {
			msg := fmt.Sprintf("ajaxComplete: %s", url)
			if ev.Status != "" {
				msg += " -- " + ev.Status
			}
			f.logger.Debug(msg, observability.Styled(styleAjaxComplete))
		}
	}
}

// ID is the unique identifier of this frame.
func (f *Frame) ID() string { return f.id }

// Ajax exposes the counter for the currently loaded document.
func (f *Frame) Ajax() *AjaxCounter { return f.ajax }

// LoadSeq is the number of native load signals seen so far.
func (f *Frame) LoadSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadSeq
}

// SettleCycles is the number of full settlement cycles run on this frame.
func (f *Frame) SettleCycles() int64 { return f.cycles.Load() }

// Visible reports whether the frame is shown in debug mode.
func (f *Frame) Visible() bool { return f.visible.Load() }

func (f *Frame) setVisible(ctx context.Context, visible bool) error {
	f.visible.Store(visible)
	if !visible {
		return nil
	}
	if r, ok := f.page.(Revealer); ok {
		return r.BringToFront(ctx)
	}
	return nil
}

// awaitLoad blocks until a load with a sequence number greater than after
// has been observed and returns that sequence and the time it fired.
func (f *Frame) awaitLoad(ctx context.Context, after uint64) (uint64, time.Time, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, time.Time{}, ErrNoActiveFrame
		}
		seq, at, ch := f.loadSeq, f.lastLoad, f.loadCh
		f.mu.Unlock()
		if seq > after {
			return seq, at, nil
		}
		select {
		case <-ctx.Done():
			return 0, time.Time{}, ctx.Err()
		case <-f.done:
			return 0, time.Time{}, ErrNoActiveFrame
		case <-ch:
		}
	}
}

// begin marks an action as in flight. The returned func releases it.
func (f *Frame) begin() (func(), error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	if !f.busy.CompareAndSwap(false, true) {
		return nil, ErrActionInFlight
	}
	return func() { f.busy.Store(false) }, nil
}

func (f *Frame) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrNoActiveFrame
	}
	return nil
}

// Navigate points the frame at url.
func (f *Frame) Navigate(ctx context.Context, url string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.page.Navigate(ctx, url)
}

// Eval evaluates expression in the loaded document.
func (f *Frame) Eval(ctx context.Context, expression string, out any) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.dom.Eval(ctx, expression, out)
}

// CurrentDocument describes the loaded document.
func (f *Frame) CurrentDocument(ctx context.Context) (Document, error) {
	if err := f.check(); err != nil {
		return Document{}, err
	}
	return f.dom.Document(ctx)
}

// CurrentURL is the absolute URL of the loaded document.
func (f *Frame) CurrentURL(ctx context.Context) (string, error) {
	doc, err := f.CurrentDocument(ctx)
	return doc.URL, err
}

// OuterHTML is the serialized document element.
func (f *Frame) OuterHTML(ctx context.Context) (string, error) {
	if err := f.check(); err != nil {
		return "", err
	}
	return f.dom.OuterHTML(ctx)
}

func (f *Frame) destroy() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	close(f.done)
	err := f.page.Close()
	f.wg.Wait()
	return err
}

// FrameController owns the lifecycle of the single live Frame.
type FrameController struct {
	driver Driver
	logger *zap.Logger

	mu      sync.Mutex
	current *Frame
	visible bool
}

// NewFrameController creates a controller opening pages on driver.
func NewFrameController(driver Driver, logger *zap.Logger) *FrameController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameController{driver: driver, logger: logger.Named("frame")}
}

// Create opens a fresh frame. Any frame still alive is destroyed first, so
// at most one frame exists at a time.
func (c *FrameController) Create(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		if err := c.current.destroy(); err != nil {
			c.logger.Warn("Error closing previous frame.", zap.Error(err))
		}
		c.current = nil
	}

	page, err := c.driver.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page on %s: %w", c.driver.Name(), err)
	}
	f := newFrame(page, c.logger)
	c.current = f
	if c.visible {
		if err := f.setVisible(ctx, true); err != nil {
			c.logger.Debug("Could not reveal frame.", zap.Error(err))
		}
	}
	c.logger.Debug("Frame created.", zap.String("frame_id", f.id))
	return f, nil
}

// Current returns the live frame or ErrNoActiveFrame.
func (c *FrameController) Current() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveFrame
	}
	return c.current, nil
}

// Destroy tears down the live frame. It is a no-op when none exists.
func (c *FrameController) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	err := c.current.destroy()
	c.current = nil
	return err
}

// SetVisible shows or hides frames. It applies to the live frame, if any,
// and to every frame created afterwards. Hidden is the default.
func (c *FrameController) SetVisible(ctx context.Context, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = visible
	if c.current == nil {
		return nil
	}
	return c.current.setVisible(ctx, visible)
}
