// File: internal/network/proxy_test.go
package network

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/afterburner/internal/config"
)

func defaultProxyConfig() config.ProxyConfig {
	return config.ProxyConfig{StripSecureCookies: true, StripAuthPrompt: true}
}

// setupTestProxy starts an origin and a proxy in front of it.
func setupTestProxy(t *testing.T, cfg config.ProxyConfig, origin http.HandlerFunc) (*httptest.Server, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(origin)
	t.Cleanup(upstream.Close)

	rp, err := NewReverseProxy(upstream.URL, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	front := httptest.NewServer(rp)
	t.Cleanup(front.Close)
	return upstream, front
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func TestNewReverseProxy_InvalidTarget(t *testing.T) {
	_, err := NewReverseProxy("localhost:4200", defaultProxyConfig(), nil)
	assert.Error(t, err)
}

func TestExcluded(t *testing.T) {
	assert.True(t, Excluded("/afterburner/shelly"))
	assert.True(t, Excluded("/testem.js"))
	assert.False(t, Excluded("/users/afterburner"))
}

func TestReverseProxy_ForwardsWithChangedOrigin(t *testing.T) {
	seen := make(chan *http.Request, 1)
	upstream, front := setupTestProxy(t, defaultProxyConfig(), func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Clone(context.Background())
		_, _ = io.WriteString(w, "hello from origin")
	})

	resp, err := http.Get(front.URL + "/users?page=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello from origin", string(body))

	got := <-seen
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), got.Host)
	assert.Equal(t, "/users?page=2", got.URL.RequestURI())
	assert.Equal(t, strings.TrimPrefix(front.URL, "http://"), got.Header.Get("X-Forwarded-Host"))
}

func TestReverseProxy_RewritesHeaders(t *testing.T) {
	var upstreamURL string
	upstream, front := setupTestProxy(t, defaultProxyConfig(), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "session=abc; Path=/; Secure; HttpOnly")
		w.Header().Add("Set-Cookie", "pref=1; SameSite=None; secure")
		w.Header().Set("WWW-Authenticate", `Basic realm="app"`)
		http.Redirect(w, r, upstreamURL+"/login?next=%2F", http.StatusFound)
	})
	upstreamURL = upstream.URL

	resp, err := noRedirectClient().Get(front.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, []string{"session=abc; Path=/; HttpOnly", "pref=1"}, resp.Header.Values("Set-Cookie"))
	assert.Empty(t, resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, front.URL+"/login?next=%2F", resp.Header.Get("Location"))
}

func TestReverseProxy_TogglesOff(t *testing.T) {
	_, front := setupTestProxy(t, config.ProxyConfig{}, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "session=abc; Secure")
		w.Header().Set("WWW-Authenticate", `Basic realm="app"`)
		w.WriteHeader(http.StatusUnauthorized)
	})

	resp, err := http.Get(front.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "session=abc; Secure", resp.Header.Get("Set-Cookie"))
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestReverseProxy_CORS(t *testing.T) {
	var hits atomic.Int32
	cfg := defaultProxyConfig()
	cfg.CORS = true
	_, front := setupTestProxy(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	req, err := http.NewRequest(http.MethodOptions, front.URL+"/api", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:4200", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Zero(t, hits.Load(), "preflight is answered by the proxy")

	resp, err = http.Get(front.URL + "/api")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestReverseProxy_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	origin := upstream.URL
	upstream.Close()

	rp, err := NewReverseProxy(origin, defaultProxyConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	front := httptest.NewServer(rp)
	defer front.Close()

	resp, err := http.Get(front.URL + "/dashboard?x=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Equal(t, ProxyFailureText+strings.TrimPrefix(front.URL, "http://")+"/dashboard?x=1", string(body))
}

func TestReverseProxy_ExcludedPaths(t *testing.T) {
	var hits atomic.Int32
	_, front := setupTestProxy(t, defaultProxyConfig(), func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	resp, err := http.Get(front.URL + "/afterburner/unknown")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, hits.Load())
}

func TestCheckPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = CheckPort(context.Background(), ln.Addr().String())
	require.Error(t, err)
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	assert.Equal(t, "port "+port+" is in use. can't start afterburner :(", err.Error())

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := free.Addr().String()
	require.NoError(t, free.Close())
	assert.NoError(t, CheckPort(context.Background(), addr))

	assert.Error(t, CheckPort(context.Background(), "no-port"))
}
