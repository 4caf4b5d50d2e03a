// File: internal/shelly/client.go
package shelly

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/afterburner/internal/network"
	"github.com/xkilldash9x/afterburner/internal/observability"
)

// CommandOptions are the optional knobs of ExecuteCommand.
type CommandOptions struct {
	Dir      string
	Timeout  float64 // seconds
	Detached bool
}

// Runner executes commands through the harness server.
type Runner interface {
	ExecuteCommand(ctx context.Context, command string, opts CommandOptions) (Result, error)
}

// Client talks to the harness server the way test code does: JSON GETs,
// form and JSON POSTs, and command execution. Cookies persist across calls.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

var _ Runner = (*Client)(nil)

// NewClient creates a client for the harness server at baseURL.
func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid harness base url %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	cfg := network.NewDefaultClientConfig()
	cfg.ForceHTTP2 = false
	// Commands carry their own timeout; the caller's context bounds the call.
	cfg.RequestTimeout = 0
	cfg.Logger = logger
	hc := network.NewClient(cfg).Client
	hc.Jar = jar

	return &Client{base: base, http: hc, logger: logger.Named("shelly_client")}, nil
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := c.base.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, ref, contentType string, body io.Reader) (*http.Response, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, target, err)
	}
	c.logger.Debug("Request completed.", zap.String("method", method), zap.String("url", target), zap.Int("status", resp.StatusCode))
	return resp, nil
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, ref string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, ref, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("GET %s returned status %d", ref, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", ref, err)
	}
	return nil
}

// Post sends form as application/x-www-form-urlencoded. The caller closes
// the response body.
func (c *Client) Post(ctx context.Context, ref string, form url.Values) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, ref, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// PostJSON sends v as JSON. The caller closes the response body.
func (c *Client) PostJSON(ctx context.Context, ref string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, ref, "application/json", bytes.NewReader(body))
}

// CommandURL builds the endpoint reference for a command.
func CommandURL(command string, opts CommandOptions) string {
	q := url.Values{}
	q.Set("cmd", hex.EncodeToString([]byte(command)))
	if opts.Dir != "" {
		q.Set("cwd", opts.Dir)
	}
	if opts.Timeout > 0 {
		q.Set("timeout", strconv.FormatFloat(opts.Timeout, 'f', -1, 64))
	}
	if opts.Detached {
		q.Set("mode", string(ModeDetached))
	}
	return Route + "?" + q.Encode()
}

// ExecuteCommand runs command on the harness host. A non-zero exit is logged
// and returned in the Result, not as an error; use Result.Err to treat it as one.
// A request the endpoint rejected reports exit code -1.
func (c *Client) ExecuteCommand(ctx context.Context, command string, opts CommandOptions) (Result, error) {
	var wire struct {
		ExitCode *int   `json:"exitCode"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
	}
	if err := c.GetJSON(ctx, CommandURL(command, opts), &wire); err != nil {
		return Result{}, err
	}
	// A rejected request carries no exit code.
	result := Result{ExitCode: -1, Stdout: wire.Stdout, Stderr: wire.Stderr}
	if wire.ExitCode != nil {
		result.ExitCode = *wire.ExitCode
	}
	if result.ExitCode != 0 {
		raw, _ := json.Marshal(result)
		c.logger.Error("command failed:\n"+string(raw), observability.Styled(observability.StyleFailure))
	}
	return result, nil
}
