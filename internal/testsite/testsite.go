// File: internal/testsite/testsite.go
package testsite

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// NotFoundPrefix starts the body of every 404 response.
const NotFoundPrefix = "afterburner 404 not found: "

const maxSlowDelay = 10 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed site
var siteFS embed.FS

//go:embed scenarios/*.yaml
var scenarioFS embed.FS

// Site is the static content served by the test site.
func Site() fs.FS {
	sub, err := fs.Sub(siteFS, "site")
	if err != nil {
		panic(err)
	}
	return sub
}

// Scenarios are the built-in acceptance scenarios exercising the test site.
func Scenarios() fs.FS {
	sub, err := fs.Sub(scenarioFS, "scenarios")
	if err != nil {
		panic(err)
	}
	return sub
}

// Handler serves the test site.
func Handler(logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	site := Site()
	r := chi.NewRouter()
	r.Use(middleware.NoCache)
	r.Get("/api/slow", slow)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		serveStatic(w, req, site, logger)
	})
	return r
}

func serveStatic(w http.ResponseWriter, r *http.Request, site fs.FS, logger *zap.Logger) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = "index.html"
	}
	info, err := fs.Stat(site, name)
	if err != nil || info.IsDir() {
		logger.Debug("Test site miss.", zap.String("path", r.URL.Path))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, NotFoundPrefix+r.URL.RequestURI())
		return
	}
	http.ServeFileFS(w, r, site, name)
}

// slow answers after ?ms= milliseconds, for exercising ajax waits.
func slow(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.URL.Query().Get("ms"))
	if err != nil || ms < 0 {
		ms = 0
	}
	delay := min(time.Duration(ms)*time.Millisecond, maxSlowDelay)
	select {
	case <-time.After(delay):
	case <-r.Context().Done():
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"waited": int(delay.Milliseconds())})
}

// Server is a running test site.
type Server struct {
	URL string

	srv  *http.Server
	done chan error
}

// Start serves the test site on addr ("127.0.0.1:0" picks a free port).
func Start(ctx context.Context, addr string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for test site: %w", err)
	}

	s := &Server{
		URL:  "http://" + ln.Addr().String(),
		srv:  &http.Server{Handler: Handler(logger), ReadHeaderTimeout: 10 * time.Second},
		done: make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info("serving test site at: " + s.URL)
	return s, nil
}

// Close stops the server and waits for it to exit.
func (s *Server) Close(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
