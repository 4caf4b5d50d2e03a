// File: internal/assert/dom.go
package assert

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/afterburner/internal/harness"
)

// DOMAssertion checks the elements a selector resolved to when DOM was called.
type DOMAssertion struct {
	a        *Assert
	ctx      context.Context
	selector string
	els      []harness.Element
	err      error
}

// DOM resolves target once; every check on the returned value inspects that
// snapshot. Checks return an error only for malformed input; failed checks
// are recorded results.
func (a *Assert) DOM(ctx context.Context, target harness.Target) *DOMAssertion {
	d := &DOMAssertion{a: a, ctx: ctx, selector: target.Locator().Selector}
	if d.selector == "" {
		d.err = ErrEmptySelector
		return d
	}
	els, err := a.page.FindAll(ctx, target)
	if err != nil {
		d.err = fmt.Errorf("could not resolve %s: %w", d.selector, err)
	}
	d.els = els
	return d
}

func (d *DOMAssertion) push(passed bool, actual, expected any, message string) {
	d.a.Push(d.ctx, Result{Passed: passed, Actual: actual, Expected: expected, Message: message})
}

// first returns the first element. Single element checks against an empty
// match are malformed.
func (d *DOMAssertion) first() (harness.Element, error) {
	if d.err != nil {
		return harness.Element{}, d.err
	}
	if len(d.els) == 0 {
		page, _ := d.a.page.CurrentPage(d.ctx)
		return harness.Element{}, &harness.ElementNotFoundError{Selector: d.selector, Page: page}
	}
	return d.els[0], nil
}

func (d *DOMAssertion) yielded(message string) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("%s yielded %d elements", d.selector, len(d.els))
}

// Exists passes when the selector matched at least one element.
func (d *DOMAssertion) Exists(message string) error {
	if d.err != nil {
		return d.err
	}
	n := len(d.els)
	d.push(n > 0, n, "> 0", d.yielded(message))
	return nil
}

// Count passes when the selector matched exactly count elements.
func (d *DOMAssertion) Count(count int, message string) error {
	if d.err != nil {
		return d.err
	}
	n := len(d.els)
	d.push(n == count, n, count, d.yielded(message))
	return nil
}

// DoesNotExist passes when the selector matched nothing.
func (d *DOMAssertion) DoesNotExist(message string) error {
	if d.err != nil {
		return d.err
	}
	n := len(d.els)
	d.push(n == 0, n, 0, d.yielded(message))
	return nil
}

// TextOptions controls text comparisons. By default the element text is trimmed.
type TextOptions struct {
	DontTrim         bool
	RemoveLineBreaks bool
	Message          string
}

// Normalize applies the trimming rules to an element's text.
func (o TextOptions) Normalize(text string) string {
	switch {
	case o.DontTrim:
		return text
	case o.RemoveLineBreaks:
		return harness.TrimAndRemoveLineBreaks(text)
	default:
		return strings.TrimSpace(text)
	}
}

// HasText passes when the first element's text equals expected.
func (d *DOMAssertion) HasText(expected string, opts TextOptions) error {
	return d.text(expected, opts, func(text string) bool { return text == expected })
}

// IncludesText passes when the first element's text contains expected.
func (d *DOMAssertion) IncludesText(expected string, opts TextOptions) error {
	return d.text(expected, opts, func(text string) bool { return strings.Contains(text, expected) })
}

// DoesNotIncludeText passes when the first element's text does not contain expected.
func (d *DOMAssertion) DoesNotIncludeText(expected string, opts TextOptions) error {
	return d.text(expected, opts, func(text string) bool { return !strings.Contains(text, expected) })
}

func (d *DOMAssertion) text(expected string, opts TextOptions, check func(string) bool) error {
	el, err := d.first()
	if err != nil {
		return err
	}
	text := opts.Normalize(el.Text)
	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("%s has text '%s'", d.selector, text)
	}
	d.push(check(text), text, expected, message)
	return nil
}

// HasClass passes when the first element carries cssClass.
func (d *DOMAssertion) HasClass(cssClass, message string) error {
	el, err := d.first()
	if err != nil {
		return err
	}
	actual := strings.Join(el.Classes, " ")
	if message == "" {
		message = fmt.Sprintf("%s has class %s", d.selector, actual)
	}
	d.push(el.HasClass(cssClass), actual, cssClass, message)
	return nil
}

func (d *DOMAssertion) flag(name string, value func(harness.Element) bool, inverse bool, message string) error {
	el, err := d.first()
	if err != nil {
		return err
	}
	result := value(el)
	if inverse {
		result = !result
	}
	if message == "" {
		message = fmt.Sprintf("%s is %s: %t", d.selector, name, result)
	}
	d.push(result, result, true, message)
	return nil
}

func checked(e harness.Element) bool  { return e.Checked }
func disabled(e harness.Element) bool { return e.Disabled }
func visible(e harness.Element) bool  { return e.Visible }

// IsChecked passes when the first element is checked.
func (d *DOMAssertion) IsChecked(message string) error {
	return d.flag("checked", checked, false, message)
}

// IsNotChecked passes when the first element is not checked.
func (d *DOMAssertion) IsNotChecked(message string) error {
	return d.flag("checked", checked, true, message)
}

// IsDisabled passes when the first element is disabled.
func (d *DOMAssertion) IsDisabled(message string) error {
	return d.flag("disabled", disabled, false, message)
}

// IsEnabled passes when the first element is not disabled.
func (d *DOMAssertion) IsEnabled(message string) error {
	return d.flag("disabled", disabled, true, message)
}

// IsVisible passes when the first element has a rendered box.
func (d *DOMAssertion) IsVisible(message string) error {
	return d.flag("visible", visible, false, message)
}

// IsNotVisible passes when the first element has no rendered box.
func (d *DOMAssertion) IsNotVisible(message string) error {
	return d.flag("visible", visible, true, message)
}
