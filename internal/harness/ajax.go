// File: internal/harness/ajax.go
package harness

import (
	"sync"
	"time"
)

// AjaxCounter tracks the background requests issued by the page currently
// loaded in a frame. It is reset on every page load. Completions for
// requests it never saw start are ignored, so the active count cannot go
// negative. Before the first reset the counter is unarmed and records
// nothing.
type AjaxCounter struct {
	mu            sync.Mutex
	armed         bool
	active        map[string]string
	lastCompleted time.Time
	resets        int
	now           func() time.Time
}

// NewAjaxCounter returns an unarmed counter.
func NewAjaxCounter() *AjaxCounter {
	return &AjaxCounter{active: make(map[string]string), now: time.Now}
}

// Reset clears all state and arms the counter for a new page.
func (c *AjaxCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = true
	c.active = make(map[string]string)
	c.lastCompleted = time.Time{}
	c.resets++
}

// Start records a request as in flight. It reports whether the event was counted.
func (c *AjaxCounter) Start(id, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return false
	}
	if _, dup := c.active[id]; dup {
		return false
	}
	c.active[id] = url
	return true
}

// Finish records the completion of a request started on the current page.
// It returns the request URL and whether the id was known.
func (c *AjaxCounter) Finish(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.active[id]
	if !ok {
		return "", false
	}
	delete(c.active, id)
	c.lastCompleted = c.now()
	return url, true
}

// Active is the number of requests currently in flight.
func (c *AjaxCounter) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// LastCompleted is the time the most recent request completed, or the zero
// time when none has completed since the last reset.
func (c *AjaxCounter) LastCompleted() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompleted
}

// Snapshot returns the active count and last completion time atomically.
func (c *AjaxCounter) Snapshot() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active), c.lastCompleted
}

// Resets is the number of times Reset has been called.
func (c *AjaxCounter) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}
