// File: internal/harness/errors.go
package harness

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNoActiveFrame is returned by any operation that needs a page when
	// no frame has been created, or the current one was destroyed.
	ErrNoActiveFrame = errors.New("no active frame")
	// ErrActionInFlight is returned when a navigation or interaction is
	// started while another one on the same frame has not resolved.
	ErrActionInFlight = errors.New("another action is already in flight on this frame")
	// ErrDocumentReplaced is returned by a Page when the document a script
	// was running in navigated away before the script returned.
	ErrDocumentReplaced = errors.New("document was replaced during evaluation")
)

// TimeoutError reports an action whose settlement did not resolve in time.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Budget == time.Minute {
		return "did not resolve within 1 minute"
	}
	return fmt.Sprintf("did not resolve within %s minute(s)", strconv.FormatFloat(e.Budget.Minutes(), 'f', -1, 64))
}

// ProxyLoadError is returned when the loaded document is the proxy's own
// upstream failure page.
type ProxyLoadError struct {
	Body string
}

func (e *ProxyLoadError) Error() string { return "could not load page: " + e.Body }

// PageLoadError is returned when the health inspector reports that the
// application failed to load.
type PageLoadError struct {
	Reason string
}

func (e *PageLoadError) Error() string {
	return "could not load page: " + e.Reason
}

// ElementNotFoundError is returned when an interaction targets a selector
// that matches nothing.
type ElementNotFoundError struct {
	Selector string
	Page     string
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("'%s' did not exist on page %s", e.Selector, e.Page)
}
