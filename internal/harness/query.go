// File: internal/harness/query.go
package harness

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/url"
	"strings"
)

// FindAll returns snapshots of every element matching target.
func (h *Harness) FindAll(ctx context.Context, target Target) ([]Element, error) {
	f, err := h.frames.Current()
	if err != nil {
		return nil, err
	}
	loc := target.Locator()
	els, err := f.dom.Query(ctx, loc)
	if err != nil {
		return nil, err
	}
	for i := range els {
		els[i].Selector = loc.Selector
	}
	return els, nil
}

// Find returns the first element matching target.
func (h *Harness) Find(ctx context.Context, target Target) (Element, bool, error) {
	f, err := h.frames.Current()
	if err != nil {
		return Element{}, false, err
	}
	loc := target.Locator()
	els, err := f.dom.Query(ctx, loc.first())
	if err != nil || len(els) == 0 {
		return Element{}, false, err
	}
	el := els[0]
	el.Selector = loc.Selector
	return el, true, nil
}

// GetText returns the text content of the first match.
func (h *Harness) GetText(ctx context.Context, target Target) (string, error) {
	el, err := h.mustFind(ctx, target)
	return el.Text, err
}

// GetValue returns the value of the first match.
func (h *Harness) GetValue(ctx context.Context, target Target) (string, error) {
	el, err := h.mustFind(ctx, target)
	return el.Value, err
}

// ElementIsVisible reports whether the first match exists and has a
// rendered box.
func (h *Harness) ElementIsVisible(ctx context.Context, target Target) (bool, error) {
	el, ok, err := h.Find(ctx, target)
	return ok && el.Visible, err
}

// GetElementByText returns the first match whose trimmed text contains text.
func (h *Harness) GetElementByText(ctx context.Context, target Target, text string) (Element, bool, error) {
	els, err := h.FindAll(ctx, target)
	if err != nil {
		return Element{}, false, err
	}
	for _, el := range els {
		if strings.Contains(strings.TrimSpace(el.Text), text) {
			return el, true, nil
		}
	}
	return Element{}, false, nil
}

// GetRandomElement returns a random match.
func (h *Harness) GetRandomElement(ctx context.Context, target Target) (Element, bool, error) {
	els, err := h.FindAll(ctx, target)
	if err != nil || len(els) == 0 {
		return Element{}, false, err
	}
	return els[rand.IntN(len(els))], true, nil
}

// CurrentPage is the path of the loaded document.
func (h *Harness) CurrentPage(ctx context.Context) (string, error) {
	f, err := h.frames.Current()
	if err != nil {
		return "", err
	}
	doc, err := f.CurrentDocument(ctx)
	return doc.Path, err
}

// CurrentPageIs reports whether the current path contains expected.
func (h *Harness) CurrentPageIs(ctx context.Context, expected string) (bool, error) {
	if expected == "" {
		return false, errors.New("expected page is undefined")
	}
	page, err := h.CurrentPage(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(page, expected), nil
}

// CurrentPageSearchParams parses the query string of the loaded document.
func (h *Harness) CurrentPageSearchParams(ctx context.Context) (url.Values, error) {
	f, err := h.frames.Current()
	if err != nil {
		return nil, err
	}
	doc, err := f.CurrentDocument(ctx)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(strings.TrimPrefix(doc.Search, "?"))
}

// DOMSnapshot is the serialized document element of the loaded page.
func (h *Harness) DOMSnapshot(ctx context.Context) (string, error) {
	f, err := h.frames.Current()
	if err != nil {
		return "", err
	}
	return f.OuterHTML(ctx)
}

// Eval evaluates a JavaScript expression in the loaded page.
func (h *Harness) Eval(ctx context.Context, expression string, out any) error {
	f, err := h.frames.Current()
	if err != nil {
		return err
	}
	return f.Eval(ctx, expression, out)
}

func (h *Harness) mustFind(ctx context.Context, target Target) (Element, error) {
	el, ok, err := h.Find(ctx, target)
	if err != nil {
		return Element{}, err
	}
	if !ok {
		f, ferr := h.frames.Current()
		if ferr != nil {
			return Element{}, ferr
		}
		return Element{}, h.notFound(ctx, f, target.Locator())
	}
	return el, nil
}
