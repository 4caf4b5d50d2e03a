// File: internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/harness"
)

// Launch starts the driver for a launcher name. Chrome and Chromium run over
// chromedp; Firefox and WebKit run through Playwright.
func Launch(ctx context.Context, name string, cfg config.BrowserConfig, logger *zap.Logger) (harness.Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		driver harness.Driver
		err    error
	)
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "chrome", "chromium":
		driver, err = NewChromeDriver(ctx, n, cfg, logger)
	case "firefox", "webkit":
		driver, err = NewPlaywrightDriver(ctx, n, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser %q", name)
	}
	if err != nil {
		return nil, err
	}
	return driver, nil
}

// replacedMarkers are the protocol errors seen when a script's document
// navigates away underneath it.
var replacedMarkers = []string{
	"Execution context was destroyed",
	"Inspected target navigated or closed",
	"Cannot find context with specified id",
}

// evalError maps a driver evaluation error onto the harness errors.
func evalError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, m := range replacedMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %s", harness.ErrDocumentReplaced, msg)
		}
	}
	return err
}
