// File: internal/harness/dom.go
package harness

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Locator addresses elements in the current document. An Index below zero
// addresses every match of Selector.
type Locator struct {
	Selector string
	Index    int
}

// Locator implements Target.
func (l Locator) Locator() Locator { return l }

func (l Locator) first() Locator {
	if l.Index < 0 {
		return Locator{Selector: l.Selector, Index: 0}
	}
	return l
}

// Target is anything that can be resolved to elements: a Sel, an Element
// returned by a query, or a Locator.
type Target interface {
	Locator() Locator
}

// Sel is a CSS selector addressing all of its matches.
type Sel string

// Locator implements Target.
func (s Sel) Locator() Locator { return Locator{Selector: string(s), Index: -1} }

// Element is a snapshot of one DOM element taken at query time.
type Element struct {
	Selector  string   `json:"-"`
	Index     int      `json:"index"`
	Tag       string   `json:"tag"`
	Type      string   `json:"type"`
	Text      string   `json:"text"`
	Value     string   `json:"value"`
	Checked   bool     `json:"checked"`
	Disabled  bool     `json:"disabled"`
	Visible   bool     `json:"visible"`
	Classes   []string `json:"classes"`
	OuterHTML string   `json:"html"`
}

// Locator implements Target and re-addresses exactly this element.
func (e Element) Locator() Locator { return Locator{Selector: e.Selector, Index: e.Index} }

// HasClass reports whether the element carried class c when it was queried.
func (e Element) HasClass(c string) bool {
	for _, have := range e.Classes {
		if have == c {
			return true
		}
	}
	return false
}

// Document describes the document currently loaded in a frame. Text is only
// populated for text/plain documents.
type Document struct {
	URL         string `json:"url"`
	Path        string `json:"path"`
	Search      string `json:"search"`
	ContentType string `json:"contentType"`
	Text        string `json:"text"`
}

// DOM is the set of document operations the harness performs. Pages that
// implement DOM themselves are used directly; any other Page is driven
// through injected scripts.
type DOM interface {
	Document(ctx context.Context) (Document, error)
	Query(ctx context.Context, loc Locator) ([]Element, error)
	// Click dispatches mousedown, mouseup and click on the first match and
	// reports whether an element was found.
	Click(ctx context.Context, loc Locator) (bool, error)
	// KeyPress dispatches keydown, keypress and keyup on the first match.
	KeyPress(ctx context.Context, loc Locator) (bool, error)
	// FillIn sets the value of every enabled match and returns how many
	// elements were changed.
	FillIn(ctx context.Context, loc Locator, value any) (int, error)
	OuterHTML(ctx context.Context) (string, error)
	// SuppressPopups replaces window.open with a stub.
	SuppressPopups(ctx context.Context) error
	Eval(ctx context.Context, expression string, out any) error
}

func newDOM(p Page) DOM {
	if d, ok := p.(DOM); ok {
		return d
	}
	return &scriptDOM{page: p}
}

// scriptDOM implements DOM by evaluating JavaScript in the page.
type scriptDOM struct {
	page Page
}

const jsFind = `const __find = (s, i) => { const all = Array.from(document.querySelectorAll(s)); return i < 0 ? all : (all[i] ? [all[i]] : []); };`

const jsMouse = `const __click = e => { const o = { bubbles: true, button: 0 }; e.dispatchEvent(new MouseEvent('mousedown', o)); e.dispatchEvent(new MouseEvent('mouseup', o)); e.dispatchEvent(new MouseEvent('click', o)); };`

const jsKeys = `const __keys = e => { e.dispatchEvent(new KeyboardEvent('keydown')); e.dispatchEvent(new KeyboardEvent('keypress')); e.dispatchEvent(new KeyboardEvent('keyup')); };`

const documentScript = `(() => {
  const d = document;
  const plain = d.contentType === 'text/plain';
  return {
    url: location.href,
    path: location.pathname,
    search: location.search,
    contentType: d.contentType || '',
    text: plain && d.documentElement ? d.documentElement.textContent : ''
  };
})()`

const popupScript = `(() => {
  window.open = function(...args) { console.log('window.open() was called with args: ' + JSON.stringify(args)); return null; };
  return true;
})()`

// script wraps body in an IIFE with the helper prelude and the locator bound to s and i.
func script(loc Locator, body string, extra ...string) string {
	sel, _ := json.MarshalToString(loc.Selector)
	pre := jsFind
	for _, e := range extra {
		pre += "\n" + e
	}
	return fmt.Sprintf("(() => {\n%s\nconst s = %s, i = %d;\n%s\n})()", pre, sel, loc.Index, body)
}

func queryScript(loc Locator) string {
	return script(loc, `const vis = e => Boolean(e.offsetWidth || e.offsetHeight || e.getClientRects().length);
return __find(s, i).map((e, n) => ({
  index: i < 0 ? n : i,
  tag: e.nodeName,
  type: e.getAttribute('type') || '',
  text: e.textContent || '',
  value: e.value === undefined || e.value === null ? '' : String(e.value),
  checked: Boolean(e.checked),
  disabled: Boolean(e.disabled),
  visible: vis(e),
  classes: Array.from(e.classList || []),
  html: e.outerHTML
}));`)
}

func clickScript(loc Locator) string {
	return script(loc.first(), `const [e] = __find(s, i); if (!e) return false; __click(e); return true;`, jsMouse)
}

func keyPressScript(loc Locator) string {
	return script(loc.first(), `const [e] = __find(s, i); if (!e) return false; __keys(e); return true;`, jsKeys)
}

func fillInScript(loc Locator, value any) (string, error) {
	v, err := json.MarshalToString(value)
	if err != nil {
		return "", fmt.Errorf("encoding fill-in value: %w", err)
	}
	body := fmt.Sprintf(`const v = %s; let n = 0;
for (const e of __find(s, i)) {
  if (!(e instanceof HTMLElement) || e.disabled) continue;
  if (e instanceof HTMLInputElement && e.getAttribute('type') === 'checkbox') {
    if (Boolean(v) !== e.checked) { __click(e); e.dispatchEvent(new Event('change')); n++; }
  } else if (e.value != v) {
    e.value = v; __keys(e); e.dispatchEvent(new Event('change')); n++;
  }
}
return n;`, v)
	return script(loc, body, jsMouse, jsKeys), nil
}

func (d *scriptDOM) Document(ctx context.Context) (Document, error) {
	var doc Document
	err := d.page.Eval(ctx, documentScript, &doc)
	return doc, err
}

func (d *scriptDOM) Query(ctx context.Context, loc Locator) ([]Element, error) {
	var els []Element
	if err := d.page.Eval(ctx, queryScript(loc), &els); err != nil {
		return nil, err
	}
	for i := range els {
		els[i].Selector = loc.Selector
	}
	return els, nil
}

func (d *scriptDOM) Click(ctx context.Context, loc Locator) (bool, error) {
	var found bool
	err := d.page.Eval(ctx, clickScript(loc), &found)
	return found, err
}

func (d *scriptDOM) KeyPress(ctx context.Context, loc Locator) (bool, error) {
	var found bool
	err := d.page.Eval(ctx, keyPressScript(loc), &found)
	return found, err
}

func (d *scriptDOM) FillIn(ctx context.Context, loc Locator, value any) (int, error) {
	src, err := fillInScript(loc, value)
	if err != nil {
		return 0, err
	}
	var n int
	err = d.page.Eval(ctx, src, &n)
	return n, err
}

func (d *scriptDOM) OuterHTML(ctx context.Context) (string, error) {
	var html string
	err := d.page.Eval(ctx, `document.documentElement ? document.documentElement.outerHTML : ''`, &html)
	return html, err
}

func (d *scriptDOM) SuppressPopups(ctx context.Context) error {
	return d.page.Eval(ctx, popupScript, nil)
}

func (d *scriptDOM) Eval(ctx context.Context, expression string, out any) error {
	return d.page.Eval(ctx, expression, out)
}
