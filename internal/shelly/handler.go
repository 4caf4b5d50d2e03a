// File: internal/shelly/handler.go
package shelly

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

// Route is where the handler is mounted on the harness server.
const Route = "/afterburner/shelly"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errMissingCommand = errors.New("missing cmd parameter")

// ParseRequest decodes the query of a shelly call. cmd is hex encoded,
// timeout is in seconds.
func ParseRequest(query url.Values) (Request, error) {
	raw := query.Get("cmd")
	if raw == "" {
		return Request{}, errMissingCommand
	}
	cmd, err := hex.DecodeString(raw)
	if err != nil {
		return Request{}, fmt.Errorf("cmd is not hex encoded: %w", err)
	}
	req := Request{Command: string(cmd), Mode: ModeSync}

	if cwd := query.Get("cwd"); cwd != "" {
		dir, err := homedir.Expand(cwd)
		if err != nil {
			return Request{}, fmt.Errorf("invalid cwd: %w", err)
		}
		req.Dir = dir
	}

	if t := query.Get("timeout"); t != "" {
		secs, err := strconv.ParseFloat(t, 64)
		if err != nil || !(secs > 0 && secs <= maxTimeoutSeconds) {
			return Request{}, fmt.Errorf("invalid timeout %q", t)
		}
		req.Timeout = time.Duration(secs * float64(time.Second))
	}

	switch m := Mode(query.Get("mode")); m {
	case "", ModeSync:
	case ModeDetached:
		req.Mode = ModeDetached
	default:
		return Request{}, fmt.Errorf("unknown mode %q", m)
	}
	return req, nil
}

// maxTimeoutSeconds caps the timeout at one day.
const maxTimeoutSeconds = 24 * 60 * 60

type badData struct {
	Stderr string `json:"stderr"`
}

// Handler serves the command endpoint.
type Handler struct {
	exec   *Executor
	logger *zap.Logger
}

// NewHandler wraps an executor as an http.Handler.
func NewHandler(exec *Executor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{exec: exec, logger: logger.Named("shelly")}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	req, err := ParseRequest(r.URL.Query())
	if err != nil {
		h.logger.Warn("Rejected command request.", zap.String("url", r.URL.RequestURI()), zap.Error(err))
		h.write(w, badData{Stderr: "shelly failed:\n  bad data received: " + r.URL.RequestURI()})
		return
	}

	result, err := h.exec.Run(r.Context(), req)
	if err != nil {
		h.logger.Error("Command could not be started.", zap.String("command", req.Command), zap.Error(err))
		result = Result{ExitCode: -1, Stderr: err.Error()}
	}
	h.write(w, result)
}

func (h *Handler) write(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body = append(body, '\n')
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("Failed to write command response.", zap.Error(err))
	}
}
