// File: cmd/test.go
package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/afterburner/internal/browser"
	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/harness"
	"github.com/xkilldash9x/afterburner/internal/network"
	"github.com/xkilldash9x/afterburner/internal/observability"
	"github.com/xkilldash9x/afterburner/internal/runner"
	"github.com/xkilldash9x/afterburner/internal/server"
	"github.com/xkilldash9x/afterburner/internal/shelly"
	"github.com/xkilldash9x/afterburner/internal/store"
)

// Injected for tests.
var (
	launchBrowser = browser.Launch
	newPool       = func(ctx context.Context, url string) (store.DBPool, func(), error) {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [key=value...]",
		Short: "Run the acceptance tests against the configured host",
		Long: `Runs every scenario under the tests directory in each launched browser.
Trailing key=value arguments are available to scenarios as ${key}.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			cfg.SetParams(parseParams(args))
			if err := config.ValidateHostURL(cfg.Run().Host); err != nil {
				return err
			}
			dir := config.ExpandPath(cfg.Run().TestsDir)
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("tests directory not found: %s", dir)
			}
			return runTests(cmd.Context(), cfg, os.DirFS(dir), observability.GetLogger())
		},
	}
}

// components holds everything a test run owns.
type components struct {
	server  *server.Server
	baseURL string
	shell   shelly.Runner
	store   *store.Store
	closeDB func()
}

func initializeComponents(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*components, net.Listener, error) {
	c := &components{}
	listen := cfg.Proxy().Listen
	if err := network.CheckPort(ctx, listen); err != nil {
		return nil, nil, err
	}

	srv, err := server.FromConfig(cfg, cfg.Run().Host, observability.Book(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build harness server: %w", err)
	}
	c.server = srv

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	c.baseURL = "http://" + ln.Addr().String()

	if cfg.Shelly().Enabled {
		client, err := shelly.NewClient(c.baseURL, logger)
		if err != nil {
			_ = ln.Close()
			return nil, nil, err
		}
		c.shell = client
	}

	if url := cfg.Database().URL; url != "" {
		pool, closeDB, err := newPool(ctx, url)
		if err != nil {
			_ = ln.Close()
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.closeDB = closeDB
		st, err := store.New(ctx, pool, logger)
		if err == nil {
			err = st.EnsureSchema(ctx)
		}
		if err != nil {
			c.Shutdown()
			_ = ln.Close()
			return nil, nil, err
		}
		c.store = st
	}
	return c, ln, nil
}

// Shutdown releases what initializeComponents acquired.
func (c *components) Shutdown() {
	if c.closeDB != nil {
		c.closeDB()
	}
}

// runTests serves the harness, runs the suite once per launcher and reports.
func runTests(ctx context.Context, cfg config.Interface, tests fs.FS, logger *zap.Logger) error {
	run := cfg.Run()
	suite, err := runner.LoadSuite(tests, run.Params)
	if err != nil {
		return fmt.Errorf("failed to load tests: %w", err)
	}

	comps, ln, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Shutdown()

	seed := run.Seed
	if seed == "" {
		seed = runner.GenerateSeed()
	}
	launchers := config.SplitLaunch(strings.Join(run.Launch, ","))
	if len(launchers) == 0 {
		launchers = []string{"chrome"}
	}

	serveCtx, stopServer := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return comps.server.Serve(gctx, ln)
	})

	var sums []*runner.Summary
	g.Go(func() error {
		defer stopServer()
		for _, name := range launchers {
			sum, err := runBrowser(gctx, cfg, name, seed, suite, comps, logger)
			if err != nil {
				return err
			}
			sums = append(sums, sum)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if run.CI {
		path := cfg.Report().JUnitPath
		if err := runner.WriteJUnitFile(path, sums); err != nil {
			return fmt.Errorf("failed to write junit report: %w", err)
		}
		logger.Info("wrote junit report to: " + config.ExpandPath(path))
	}
	if comps.store != nil {
		if err := runner.Persist(ctx, comps.store, sums, logger); err != nil {
			logger.Warn("Failed to persist results.", zap.Error(err))
		}
	}

	for _, sum := range sums {
		if !sum.OK() {
			return ErrTestsFailed
		}
	}
	return nil
}

func runBrowser(ctx context.Context, cfg config.Interface, name, seed string, suite *runner.Suite, comps *components, logger *zap.Logger) (*runner.Summary, error) {
	driver, err := launchBrowser(ctx, name, cfg.Browser(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			logger.Debug("Failed to close browser.", zap.String("browser", name), zap.Error(err))
		}
	}()

	settle := cfg.Settle()
	frames := harness.NewFrameController(driver, logger)
	if err := frames.SetVisible(ctx, cfg.Run().Debug); err != nil {
		return nil, err
	}
	detector := harness.NewDetector(
		harness.TimingsFromConfig(settle),
		harness.HealthFromConfig(settle),
		harness.QuiescenceFromConfig(settle),
		logger,
	)
	h, err := harness.New(frames, detector, harness.Settings{
		BaseURL:       comps.baseURL,
		ActionTimeout: cfg.Browser().ActionTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = frames.Destroy() }()

	run := cfg.Run()
	r := runner.New(h, runner.Options{
		Host:    run.Host,
		Browser: name,
		Seed:    seed,
		Filter:  run.Filter,
		Params:  run.Params,
		Shell:   comps.shell,
		Book:    observability.Book(),
	}, logger)
	sum, err := r.Run(ctx, suite)
	if err != nil {
		return nil, fmt.Errorf("%s run failed: %w", name, err)
	}
	return sum, nil
}

// appTestsDir resolves the tests directory of a scaffolded app.
func appTestsDir(app string, cfg config.Interface) string {
	dir := cfg.Run().TestsDir
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(app, dir)
}
