// File: cmd/devtest.go
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/observability"
	"github.com/xkilldash9x/afterburner/internal/scaffold"
	"github.com/xkilldash9x/afterburner/internal/testsite"
)

// smokeLaunchers are the browsers the smoke test always covers.
var smokeLaunchers = []string{"chrome", "firefox"}

func newDevTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev-test [key=value...]",
		Short: "Run the built-in scenarios against the bundled test site",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			cfg.SetParams(parseParams(args))
			return withTestSite(cmd.Context(), cfg, func(logger *zap.Logger) error {
				return runTests(cmd.Context(), cfg, testsite.Scenarios(), logger)
			})
		},
	}
}

func newSmokeTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke-test",
		Short: "Scaffold a fresh app and run its tests against the bundled test site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			tmp, err := os.MkdirTemp("", "afterburner-smoke-")
			if err != nil {
				return fmt.Errorf("failed to create temp dir: %w", err)
			}
			defer os.RemoveAll(tmp)

			app, err := scaffold.Create(tmp, "afterburner", logger)
			if err != nil {
				return err
			}
			cfg.SetCI(true)
			cfg.SetLaunch(smokeLaunchers)
			return withTestSite(cmd.Context(), cfg, func(logger *zap.Logger) error {
				return runTests(cmd.Context(), cfg, os.DirFS(appTestsDir(app, cfg)), logger)
			})
		},
	}
}

// withTestSite serves the test site on a free port, points the host at it
// and runs fn.
func withTestSite(ctx context.Context, cfg config.Interface, fn func(*zap.Logger) error) error {
	logger := observability.GetLogger()
	site, err := testsite.Start(ctx, "127.0.0.1:0", logger.Named("testsite"))
	if err != nil {
		return err
	}
	defer func() {
		if err := site.Close(context.Background()); err != nil {
			logger.Debug("Failed to stop test site.", zap.Error(err))
		}
	}()

	cfg.SetHost(site.URL)
	return fn(logger)
}
