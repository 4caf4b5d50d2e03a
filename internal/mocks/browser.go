// File: internal/mocks/browser.go
package mocks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/afterburner/internal/harness"
)

// FakeElement is one element of a FakeDocument. Selector is matched
// verbatim against query locators.
type FakeElement struct {
	harness.Element
	Selector string
	// Href navigates the page when the element is clicked.
	Href string
	// OnClick runs when the element is clicked.
	OnClick func(p *FakePage)
	// ClickErr is returned by Click after the click took effect.
	ClickErr error
}

// FakeAjax is a background request a document issues after it loads.
type FakeAjax struct {
	ID       string
	URL      string
	Delay    time.Duration
	Duration time.Duration
	Status   string
}

// FakeDocument is what a FakePage serves for one path.
type FakeDocument struct {
	ContentType string
	Text        string
	HTML        string
	Elements    []FakeElement
	Ajax        []FakeAjax
	// LoadDelay postpones the load event after navigation.
	LoadDelay time.Duration
	// NoLoad suppresses the load event entirely.
	NoLoad bool
}

// FakeDriver hands out FakePages serving Routes.
type FakeDriver struct {
	mu     sync.Mutex
	Routes map[string]*FakeDocument
	// EvalFunc answers page script evaluations. When nil, bool targets
	// receive true and everything else is left untouched.
	EvalFunc   func(expression string) (any, error)
	NewPageErr error
	docErr     error
	pages      []*FakePage
	closed     bool
}

// NewFakeDriver creates a driver with an empty route table.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{Routes: make(map[string]*FakeDocument)}
}

func (d *FakeDriver) Name() string { return "fake" }

func (d *FakeDriver) NewPage(context.Context) (harness.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NewPageErr != nil {
		return nil, d.NewPageErr
	}
	p := &FakePage{
		driver: d,
		events: make(chan harness.PageEvent, 256),
		done:   make(chan struct{}),
	}
	d.pages = append(d.pages, p)
	return p, nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Pages returns every page opened so far.
func (d *FakeDriver) Pages() []*FakePage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakePage(nil), d.pages...)
}

// LastPage is the most recently opened page, or nil.
func (d *FakeDriver) LastPage() *FakePage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pages) == 0 {
		return nil
	}
	return d.pages[len(d.pages)-1]
}

// SetDocumentErr makes every page fail to describe its document.
func (d *FakeDriver) SetDocumentErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docErr = err
}

func (d *FakeDriver) documentErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.docErr
}

func (d *FakeDriver) route(path string) *FakeDocument {
	d.mu.Lock()
	defer d.mu.Unlock()
	if doc, ok := d.Routes[path]; ok {
		return doc
	}
	return &FakeDocument{ContentType: "text/html", HTML: "<html><body>not found</body></html>"}
}

// FakePage is an in-memory page implementing harness.Page and harness.DOM.
type FakePage struct {
	driver *FakeDriver

	mu        sync.Mutex
	url       *url.URL
	doc       *FakeDocument
	elements  []FakeElement
	clicks    []string
	keys      []string
	popups    int
	reveals   int
	navigated []string
	closed    bool

	events chan harness.PageEvent
	done   chan struct{}
	timers []*time.Timer
}

// Navigate loads the route for rawURL and schedules its events.
func (p *FakePage) Navigate(_ context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	doc := p.driver.route(u.Path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("page closed")
	}
	p.url = u
	p.doc = doc
	p.elements = append([]FakeElement(nil), doc.Elements...)
	p.navigated = append(p.navigated, rawURL)

	if doc.NoLoad {
		return nil
	}
	p.after(doc.LoadDelay, func() {
		p.Emit(harness.PageEvent{Kind: harness.EventLoad, URL: rawURL, Time: time.Now()})
		for _, a := range doc.Ajax {
			a := a
			p.mu.Lock()
			p.after(a.Delay, func() {
				p.Emit(harness.PageEvent{Kind: harness.EventAjaxStart, RequestID: a.ID, URL: a.URL, Time: time.Now()})
				p.mu.Lock()
				p.after(a.Duration, func() {
					p.Emit(harness.PageEvent{Kind: harness.EventAjaxFinish, RequestID: a.ID, URL: a.URL, Status: a.Status, Time: time.Now()})
				})
				p.mu.Unlock()
			})
			p.mu.Unlock()
		}
	})
	return nil
}

// after schedules fn. p.mu must be held.
func (p *FakePage) after(d time.Duration, fn func()) {
	p.timers = append(p.timers, time.AfterFunc(d, fn))
}

// Emit delivers an event unless the page is closed.
func (p *FakePage) Emit(ev harness.PageEvent) {
	select {
	case <-p.done:
	case p.events <- ev:
	}
}

func (p *FakePage) Events() <-chan harness.PageEvent { return p.events }

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.timers {
		t.Stop()
	}
	close(p.done)
	return nil
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Clicks lists the selectors clicked, in order.
func (p *FakePage) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Navigations lists every URL navigated to.
func (p *FakePage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// PopupSuppressions counts SuppressPopups calls.
func (p *FakePage) PopupSuppressions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.popups
}

// BringToFront implements harness.Revealer.
func (p *FakePage) BringToFront(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reveals++
	return nil
}

// Reveals counts BringToFront calls.
func (p *FakePage) Reveals() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reveals
}

// SetElements replaces the elements of the current document.
func (p *FakePage) SetElements(els ...FakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = els
}

func (p *FakePage) Document(context.Context) (harness.Document, error) {
	if err := p.driver.documentErr(); err != nil {
		return harness.Document{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == nil {
		return harness.Document{URL: "about:blank", ContentType: "text/html"}, nil
	}
	doc := harness.Document{URL: p.url.String(), Path: p.url.Path, ContentType: p.doc.ContentType}
	if p.url.RawQuery != "" {
		doc.Search = "?" + p.url.RawQuery
	}
	if doc.ContentType == "" {
		doc.ContentType = "text/html"
	}
	if doc.ContentType == "text/plain" {
		doc.Text = p.doc.Text
	}
	return doc, nil
}

// matches returns the indexes into p.elements addressed by loc. p.mu must be held.
func (p *FakePage) matches(loc harness.Locator) []int {
	var all []int
	for i, el := range p.elements {
		if el.Selector == loc.Selector {
			all = append(all, i)
		}
	}
	if loc.Index < 0 {
		return all
	}
	if loc.Index < len(all) {
		return []int{all[loc.Index]}
	}
	return nil
}

func (p *FakePage) Query(_ context.Context, loc harness.Locator) ([]harness.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []harness.Element
	for n, i := range p.matches(loc) {
		el := p.elements[i].Element
		el.Selector = loc.Selector
		el.Index = loc.Index
		if loc.Index < 0 {
			el.Index = n
		}
		out = append(out, el)
	}
	return out, nil
}

func (p *FakePage) Click(ctx context.Context, loc harness.Locator) (bool, error) {
	if loc.Index < 0 {
		loc.Index = 0
	}
	p.mu.Lock()
	idx := p.matches(loc)
	if len(idx) == 0 {
		p.mu.Unlock()
		return false, nil
	}
	el := p.elements[idx[0]]
	p.clicks = append(p.clicks, loc.Selector)
	if el.Type == "checkbox" {
		p.elements[idx[0]].Checked = !el.Checked
	}
	base := p.url
	p.mu.Unlock()

	if el.OnClick != nil {
		el.OnClick(p)
	}
	if el.Href != "" {
		target := el.Href
		if base != nil {
			if ref, err := url.Parse(el.Href); err == nil {
				target = base.ResolveReference(ref).String()
			}
		}
		if err := p.Navigate(ctx, target); err != nil {
			return true, err
		}
	}
	return true, el.ClickErr
}

func (p *FakePage) KeyPress(_ context.Context, loc harness.Locator) (bool, error) {
	if loc.Index < 0 {
		loc.Index = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.matches(loc)) == 0 {
		return false, nil
	}
	p.keys = append(p.keys, loc.Selector)
	return true, nil
}

func (p *FakePage) FillIn(_ context.Context, loc harness.Locator, value any) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, i := range p.matches(loc) {
		el := &p.elements[i]
		if el.Disabled {
			continue
		}
		if el.Type == "checkbox" {
			if truthy(value) != el.Checked {
				el.Checked = !el.Checked
				n++
			}
			continue
		}
		if s := fmt.Sprint(value); s != el.Value {
			el.Value = s
			n++
		}
	}
	return n, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func (p *FakePage) OuterHTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	return p.doc.HTML, nil
}

func (p *FakePage) SuppressPopups(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.popups++
	return nil
}

func (p *FakePage) Eval(_ context.Context, expression string, out any) error {
	if p.driver.EvalFunc == nil {
		if b, ok := out.(*bool); ok {
			*b = true
		}
		return nil
	}
	v, err := p.driver.EvalFunc(expression)
	if err != nil || out == nil {
		return err
	}
	raw, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(raw, out)
}
