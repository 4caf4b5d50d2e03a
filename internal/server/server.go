// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
	"github.com/xkilldash9x/afterburner/internal/network"
	"github.com/xkilldash9x/afterburner/internal/observability"
	"github.com/xkilldash9x/afterburner/internal/shelly"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const harnessPrefix = "/afterburner"

// Options wires the harness endpoints. Nil handlers disable their route.
type Options struct {
	Addr        string
	Shelly      http.Handler
	Proxy       http.Handler
	Book        *observability.LogBook
	MetricsPath string
	Logger      *zap.Logger
}

// Server is the single HTTP listener the browser talks to: harness endpoints
// under /afterburner/ and everything else proxied to the application.
type Server struct {
	opts        Options
	router      chi.Router
	server      *http.Server
	serverMutex sync.Mutex
	logger      *zap.Logger
}

// New builds the router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{opts: opts, logger: opts.Logger.Named("server")}

	router := chi.NewRouter()
	metricsPath, harnessMetrics := strings.CutPrefix(opts.MetricsPath, harnessPrefix)
	if opts.MetricsPath != "" && !harnessMetrics {
		router.Method(http.MethodGet, opts.MetricsPath, promhttp.Handler())
	}
	router.Route(harnessPrefix, func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Use(middleware.NoCache)
		r.Get("/healthz", s.handleHealthz)
		if opts.Book != nil {
			r.Get("/log", s.handleLog)
		}
		if opts.Shelly != nil {
			r.Method(http.MethodGet, "/shelly", opts.Shelly)
		}
		if harnessMetrics {
			r.Method(http.MethodGet, metricsPath, promhttp.Handler())
		}
	})

	if opts.Proxy != nil {
		router.NotFound(opts.Proxy.ServeHTTP)
		router.MethodNotAllowed(opts.Proxy.ServeHTTP)
	}
	s.router = router
	return s
}

// FromConfig assembles the harness endpoints described by cfg. origin is the
// application under test; an empty origin disables the proxy.
func FromConfig(cfg config.Interface, origin string, book *observability.LogBook, logger *zap.Logger) (*Server, error) {
	opts := Options{Addr: cfg.Proxy().Listen, Book: book, Logger: logger}
	if cfg.Shelly().Enabled {
		opts.Shelly = shelly.NewHandler(shelly.NewExecutor(cfg.Shelly(), logger), logger)
	}
	if cfg.Metrics().Enabled {
		opts.MetricsPath = cfg.Metrics().Path
	}
	if origin != "" {
		rp, err := network.NewReverseProxy(origin, cfg.Proxy(), logger)
		if err != nil {
			return nil, err
		}
		opts.Proxy = rp
	}
	return New(opts), nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

type logResponse struct {
	Last    uint64                `json:"last"`
	Entries []observability.Entry `json:"entries"`
}

// handleLog returns the log book entries after ?since=N.
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since %q", raw), http.StatusBadRequest)
			return
		}
		since = n
	}

	resp := logResponse{Last: s.opts.Book.LastSeq(), Entries: s.opts.Book.Since(since)}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Failed to write log response.", zap.Error(err))
	}
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln and blocks until ctx is cancelled or a fatal error occurs.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	if s.server != nil {
		s.serverMutex.Unlock()
		_ = ln.Close()
		return errors.New("server already started")
	}
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http_server")),
	}
	s.server = server
	s.serverMutex.Unlock()

	shutdownErr := make(chan error, 1)
	stop := context.AfterFunc(ctx, func() {
		s.logger.Debug("Shutdown signal received, stopping harness server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.Info("Harness server listening", zap.String("address", ln.Addr().String()))
	err := server.Serve(ln)

	if errors.Is(err, http.ErrServerClosed) {
		err = <-shutdownErr
	}

	s.serverMutex.Lock()
	if s.server == server {
		s.server = nil
	}
	s.serverMutex.Unlock()

	if err != nil {
		return fmt.Errorf("harness server failed: %w", err)
	}
	s.logger.Debug("Harness server stopped gracefully.")
	return nil
}
