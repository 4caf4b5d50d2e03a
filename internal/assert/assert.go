// File: internal/assert/assert.go
package assert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/observability"
)

// Errors for malformed assertions.
var (
	ErrEmptySelector = errors.New("assertion selector is empty")
	ErrUndefinedPage = errors.New("expected page is undefined")
)

// Page is the read side of the harness the assertions inspect.
type Page interface {
	FindAll(ctx context.Context, target harness.Target) ([]harness.Element, error)
	CurrentPage(ctx context.Context) (string, error)
	DOMSnapshot(ctx context.Context) (string, error)
}

// Result is one recorded assertion.
type Result struct {
	Passed   bool   `json:"passed"`
	Actual   any    `json:"actual"`
	Expected any    `json:"expected"`
	Message  string `json:"message"`
}

// Text renders the result the way it appears in the log.
func (r Result) Text() string {
	txt := "FAILURE: "
	if r.Passed {
		txt = "SUCCESS: "
	}
	detail := !r.Passed && (!isEmpty(r.Actual) || !isEmpty(r.Expected))
	txt += r.Message
	if detail {
		if r.Message != "" {
			txt += ", "
		}
		txt += fmt.Sprintf("expected: '%v', actual: '%v'", r.Expected, r.Actual)
	}
	return txt
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int:
		return t == 0
	default:
		return false
	}
}

// Assert records the assertions of one test. Failures never abort the test;
// they are logged, kept, and counted.
type Assert struct {
	page   Page
	logger *zap.Logger
	book   *observability.LogBook

	mu      sync.Mutex
	results []Result
}

// New creates an assertion recorder for one test. Failure DOM dumps go to
// book as hidden entries; book may be nil.
func New(page Page, logger *zap.Logger, book *observability.LogBook) *Assert {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assert{page: page, logger: logger.Named("assert"), book: book}
}

// Push records r, logs it, and dumps the DOM when it failed.
func (a *Assert) Push(ctx context.Context, r Result) {
	a.mu.Lock()
	a.results = append(a.results, r)
	a.mu.Unlock()

	if r.Passed {
		a.logger.Info(r.Text(), observability.Styled(observability.StyleSuccess))
		return
	}
	a.logger.Error(r.Text(), observability.Styled(observability.StyleFailure))
	a.dumpDOM(ctx, r.Message)
}

func (a *Assert) dumpDOM(ctx context.Context, message string) {
	if a.page == nil {
		return
	}
	html, err := a.page.DOMSnapshot(ctx)
	if err != nil {
		a.logger.Debug("No DOM available for failure output.", zap.Error(err))
		return
	}
	dump := fmt.Sprintf("BEGIN DOM OUTPUT FOR FAILURE: %s\n---\n%s\n---\n🖨️ END DOM OUTPUT FOR FAILURE: %s", message, html, message)
	// The logger usually tees into the same book, so the dump goes one way only.
	if a.book != nil {
		a.book.Append(dump, observability.StyleDOMDump)
		return
	}
	a.logger.Debug(dump, observability.Styled(observability.StyleDOMDump))
}

// Results returns a copy of every recorded result.
func (a *Assert) Results() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Result(nil), a.results...)
}

// Counts returns the number of passed and failed assertions.
func (a *Assert) Counts() (passed, failed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.results {
		if r.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// OK passes when cond is true.
func (a *Assert) OK(ctx context.Context, cond bool, message string) {
	a.Push(ctx, Result{Passed: cond, Actual: cond, Expected: true, Message: message})
}

// Equal passes when actual and expected are deeply equal.
func (a *Assert) Equal(ctx context.Context, actual, expected any, message string) {
	a.Push(ctx, Result{Passed: cmp.Equal(actual, expected), Actual: actual, Expected: expected, Message: message})
}

// CurrentPageIs passes when the current path contains expected.
func (a *Assert) CurrentPageIs(ctx context.Context, expected, message string) error {
	return a.currentPage(ctx, expected, message, false)
}

// CurrentPageIsNot passes when the current path does not contain expected.
func (a *Assert) CurrentPageIsNot(ctx context.Context, expected, message string) error {
	return a.currentPage(ctx, expected, message, true)
}

func (a *Assert) currentPage(ctx context.Context, expected, message string, isNot bool) error {
	if expected == "" {
		return ErrUndefinedPage
	}
	page, err := a.page.CurrentPage(ctx)
	if err != nil {
		return err
	}
	on := strings.Contains(page, expected)
	result := on != isNot

	if message == "" {
		if on {
			message = fmt.Sprintf("we are on the %s page", expected)
		} else {
			message = fmt.Sprintf("we are NOT on the %s page", expected)
		}
	}
	exp := expected
	if isNot {
		exp = "not " + expected
	}
	a.Push(ctx, Result{Passed: result, Actual: page, Expected: exp, Message: message})
	return nil
}
