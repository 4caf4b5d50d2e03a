// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/observability"
)

type contextKey string

const configKey contextKey = "afterburner-config"

// configName is the file searched for in the working directory.
const configName = "afterburner-config"

// ErrTestsFailed is returned when a run finished with at least one failing test.
var ErrTestsFailed = errors.New("one or more tests failed")

// reservedParams are arguments that look like key=value but belong to the harness.
var reservedParams = map[string]bool{
	"afterburnerRootDir": true,
	"ci":                 true,
	"debug":              true,
	"filter":             true,
	"host":               true,
	"launch":             true,
	"rootDir":            true,
	"test":               true,
}

// NewRootCommand builds a fresh command tree. Every invocation gets its own
// flag state, which keeps tests independent.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "afterburner",
		Short:         "Afterburner drives real browsers through acceptance tests.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				basicLogger, _ := zap.NewDevelopment()
				defer basicLogger.Sync()
				basicLogger.Error("Failed to initialize configuration", zap.Error(err))
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			loggerCfg := cfg.Logger()
			if cfg.Run().Debug {
				loggerCfg.Level = "debug"
				cfg.SetBrowserHeadless(false)
			}
			observability.Initialize(loggerCfg, zapcore.Lock(zapcore.AddSync(cmd.OutOrStdout())))
			observability.GetLogger().Debug("Starting afterburner", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./"+configName+".yaml)")
	flags.String("host", "", "URL of the application under test, such as: https://example.com")
	flags.String("filter", "", "only run tests whose module and name contain this text (prefix with ! to exclude)")
	flags.Bool("ci", false, "run in CI mode and write a JUnit report")
	flags.String("launch", "", "comma separated browsers to launch, such as: chrome,firefox")
	flags.Bool("debug", false, "verbose logging and visible browsers")
	flags.String("seed", "", "seed for the test order (random when empty)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newNewCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newDevTestCmd())
	cmd.AddCommand(newSmokeTestCmd())
	cmd.AddCommand(newDevServerCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newHistoryCmd())
	return cmd
}

// Execute runs the command tree with a signal aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, ErrTestsFailed) {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted.")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and environment, then binds the
// persistent flags so they take precedence.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(config.ExpandPath(cfgFile))
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AFTERBURNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for _, name := range []string{"host", "filter", "ci", "launch", "debug", "seed"} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.Root().PersistentFlags().Lookup(name)
		}
		if err := v.BindPFlag(name, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// getConfigFromContext returns the config stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration missing from command context")
	}
	return cfg, nil
}

// parseParams turns trailing key=value arguments into test params. Reserved
// names and arguments without "=" are ignored.
func parseParams(args []string) map[string]string {
	params := make(map[string]string)
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" || reservedParams[key] || strings.HasPrefix(key, "dev") {
			continue
		}
		params[key] = value
	}
	return params
}
