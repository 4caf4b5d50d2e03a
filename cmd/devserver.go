// File: cmd/devserver.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/observability"
)

func newDevServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev-server",
		Short: "Serve the harness and proxy without running tests",
		Long: `Starts the harness server in front of the configured host and blocks
until interrupted. Point a browser at the printed address to poke at the
proxied application and the /afterburner endpoints by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if err := config.ValidateHostURL(cfg.Run().Host); err != nil {
				return err
			}
			logger := observability.GetLogger()

			comps, ln, err := initializeComponents(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			logger.Info("afterburner dev server at: " + comps.baseURL)
			return comps.server.Serve(cmd.Context(), ln)
		},
	}
}
