// File: internal/harness/driver.go
package harness

import (
	"context"
	"time"
)

// EventKind identifies what happened inside a page.
type EventKind int

const (
	// EventLoad is the native load signal of a top level document.
	EventLoad EventKind = iota
	// EventAjaxStart is a background (XHR or fetch) request leaving the page.
	EventAjaxStart
	// EventAjaxFinish is a background request that completed, successfully or not.
	EventAjaxFinish
)

func (k EventKind) String() string {
	switch k {
	case EventLoad:
		return "load"
	case EventAjaxStart:
		return "ajaxSend"
	case EventAjaxFinish:
		return "ajaxComplete"
	default:
		return "unknown"
	}
}

// PageEvent is emitted by a Page as its document loads and issues requests.
// Drivers only emit ajax events for XHR and fetch requests.
type PageEvent struct {
	Kind      EventKind
	RequestID string
	URL       string
	Status    string
	Time      time.Time
}

// Driver launches pages in one browser engine.
type Driver interface {
	// Name is the launcher name, e.g. "chrome" or "firefox".
	Name() string
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one browser tab. Events stops delivering once the page is closed.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Eval evaluates a JavaScript expression and decodes its JSON value
	// into out. A nil out discards the result.
	Eval(ctx context.Context, expression string, out any) error
	Events() <-chan PageEvent
	Close() error
}

// Revealer is implemented by pages that can be brought to the foreground
// of a visible browser window.
type Revealer interface {
	BringToFront(ctx context.Context) error
}
