// File: internal/harness/retry.go
package harness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/observability"
)

// Predicate is polled by Retry. Returning true means "keep waiting".
type Predicate func(ctx context.Context) (bool, error)

// RetryOptions configures one Retry loop.
type RetryOptions struct {
	Timeout     time.Duration
	Interval    time.Duration
	Description string
	SuppressLog bool
}

var stylePause = observability.Style{Color: "grey", Emoji: "⏸️", FontStyle: "italic"}

// Retry invokes pred until it returns false or the timeout elapses. The
// predicate always runs at least once. Running out of time is not an error;
// callers check their own post-condition. A predicate error or a cancelled
// context ends the loop and is returned.
func Retry(ctx context.Context, logger *zap.Logger, opts RetryOptions, pred Predicate) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if attempt > 0 && time.Since(start) >= opts.Timeout {
			return nil
		}
		keepWaiting, err := pred(ctx)
		if err != nil {
			return err
		}
		if !keepWaiting {
			return nil
		}
		if !opts.SuppressLog {
			logger.Info(fmt.Sprintf("%s -- pausing for %s second(s) -- %s",
				time.Now().UTC().Format(time.RFC3339Nano), formatSeconds(opts.Interval), opts.Description),
				observability.Styled(stylePause))
		}
		if err := sleep(ctx, opts.Interval); err != nil {
			return err
		}
	}
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%g", d.Seconds())
}
