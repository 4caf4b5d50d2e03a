// File: internal/network/proxy.go
package network

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/afterburner/internal/config"
)

// ProxyFailureText prefixes the body of the 502 returned when the origin
// cannot be reached. The settlement detector looks for it in loaded pages.
const ProxyFailureText = "Error occured while trying to proxy to: "

const forwardedHostHeader = "X-Forwarded-Host"

// RequestHandler defines the signature for functions that inspect or modify requests.
type RequestHandler func(*http.Request, *goproxy.ProxyCtx) (*http.Request, *http.Response)

// ResponseHandler defines the signature for functions that inspect or modify responses.
type ResponseHandler func(*http.Response, *goproxy.ProxyCtx) *http.Response

// Excluded reports whether path belongs to the harness rather than the
// application under test.
func Excluded(path string) bool {
	return strings.Contains(path, "/afterburner/") || strings.Contains(path, "/testem.js")
}

// ReverseProxy forwards harness traffic to the application origin. The
// browser only ever talks to the harness address, so cookies, redirects and
// auth prompts are rewritten to keep it there.
type ReverseProxy struct {
	proxy         *goproxy.ProxyHttpServer
	target        *url.URL
	requestHooks  []RequestHandler
	responseHooks []ResponseHandler
	hooksMutex    sync.RWMutex
	logger        *zap.Logger
}

// NewReverseProxy creates a proxy for origin configured by cfg.
func NewReverseProxy(origin string, cfg config.ProxyConfig, logger *zap.Logger) (*ReverseProxy, error) {
	target, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy target %q: %w", origin, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid proxy target %q: scheme and host are required", origin)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("proxy")

	clientConfig := NewDefaultClientConfig()
	clientConfig.IgnoreTLSErrors = cfg.InsecureSkipVerify
	clientConfig.ForceHTTP2 = false
	clientConfig.Logger = log

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = NewHTTPTransport(clientConfig)
	proxy.Logger = zap.NewStdLog(log.Named("goproxy"))

	rp := &ReverseProxy{
		proxy:  proxy,
		target: &url.URL{Scheme: target.Scheme, Host: target.Host},
		logger: log,
	}

	if cfg.StripSecureCookies {
		rp.AddResponseHook(stripSecureCookies)
	}
	if cfg.StripAuthPrompt {
		rp.AddResponseHook(stripAuthPrompt)
	}
	rp.AddResponseHook(rp.rewriteLocation)
	if cfg.CORS {
		rp.AddRequestHook(corsPreflight)
		rp.AddResponseHook(allowCORS)
	}

	proxy.OnRequest().DoFunc(rp.handleRequest)
	proxy.OnResponse().DoFunc(rp.handleResponse)
	return rp, nil
}

// Target is the origin requests are forwarded to.
func (rp *ReverseProxy) Target() *url.URL {
	u := *rp.target
	return &u
}

// AddRequestHook registers a new request handler function.
func (rp *ReverseProxy) AddRequestHook(handler RequestHandler) {
	rp.hooksMutex.Lock()
	defer rp.hooksMutex.Unlock()
	rp.requestHooks = append(rp.requestHooks, handler)
}

// AddResponseHook registers a new response handler function.
func (rp *ReverseProxy) AddResponseHook(handler ResponseHandler) {
	rp.hooksMutex.Lock()
	defer rp.hooksMutex.Unlock()
	rp.responseHooks = append(rp.responseHooks, handler)
}

// ServeHTTP rewrites the request to the origin, keeping the path and query,
// and hands it to goproxy.
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if Excluded(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	out := r.Clone(r.Context())
	out.URL.Scheme = rp.target.Scheme
	out.URL.Host = rp.target.Host
	out.Host = rp.target.Host
	out.RequestURI = ""
	out.Header.Set(forwardedHostHeader, r.Host)

	rp.proxy.ServeHTTP(w, out)
}

// handleRequest processes an incoming request through the registered hooks.
func (rp *ReverseProxy) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	rp.logger.Debug("Proxying request", zap.String("method", r.Method), zap.String("url", r.URL.String()))

	rp.hooksMutex.RLock()
	hooks := rp.requestHooks
	rp.hooksMutex.RUnlock()

	currentReq := r
	for _, hook := range hooks {
		newReq, resp := hook(currentReq, ctx)
		if resp != nil {
			return newReq, resp
		}
		if newReq == nil {
			rp.logger.Error("A request hook returned a nil request.", zap.String("url", r.URL.String()))
			return currentReq, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusInternalServerError, "Proxy Error: a request hook returned a nil request.")
		}
		currentReq = newReq
	}
	return currentReq, nil
}

// handleResponse turns upstream failures into a 502 and runs the response hooks.
func (rp *ReverseProxy) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if r == nil {
		if ctx.Req == nil {
			rp.logger.Error("Upstream failed and the request context was lost.")
			return nil
		}
		failure := ProxyFailureText + publicHost(ctx.Req) + ctx.Req.URL.RequestURI()
		err := ctx.Error
		if err == nil {
			err = errors.New("unknown error")
		}
		rp.logger.Warn("Upstream request failed", zap.String("url", ctx.Req.URL.String()), zap.Error(err))
		r = goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, failure)
	}

	rp.hooksMutex.RLock()
	hooks := rp.responseHooks
	rp.hooksMutex.RUnlock()

	lastValidResp := r
	for _, hook := range hooks {
		currentResp := hook(lastValidResp, ctx)
		if currentResp == nil {
			rp.logger.Error("A response hook returned a nil response; returning last valid state.")
			return lastValidResp
		}
		lastValidResp = currentResp
	}
	return lastValidResp
}

func publicHost(r *http.Request) string {
	if h := r.Header.Get(forwardedHostHeader); h != "" {
		return h
	}
	return r.Host
}

// stripSecureCookies drops the Secure attribute, and the SameSite=None that
// requires it, so cookies set by an https origin survive on the http proxy.
func stripSecureCookies(resp *http.Response, _ *goproxy.ProxyCtx) *http.Response {
	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return resp
	}
	resp.Header.Del("Set-Cookie")
	for _, c := range cookies {
		parts := strings.Split(c, ";")
		kept := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			switch strings.ToLower(p) {
			case "secure", "samesite=none":
				continue
			}
			kept = append(kept, p)
		}
		resp.Header.Add("Set-Cookie", strings.Join(kept, "; "))
	}
	return resp
}

// stripAuthPrompt keeps the browser from opening a basic auth dialog.
func stripAuthPrompt(resp *http.Response, _ *goproxy.ProxyCtx) *http.Response {
	resp.Header.Del("WWW-Authenticate")
	return resp
}

// rewriteLocation points redirects at the origin back at the proxy.
func (rp *ReverseProxy) rewriteLocation(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	loc := resp.Header.Get("Location")
	if loc == "" || ctx.Req == nil {
		return resp
	}
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() || !strings.EqualFold(u.Host, rp.target.Host) {
		return resp
	}
	u.Scheme = "http"
	u.Host = publicHost(ctx.Req)
	resp.Header.Set("Location", u.String())
	return resp
}

func corsPreflight(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
		return r, nil
	}
	resp := goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusNoContent, "")
	if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
		resp.Header.Set("Access-Control-Allow-Headers", h)
	}
	resp.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	return r, resp
}

func allowCORS(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	origin := "*"
	if ctx.Req != nil {
		if o := ctx.Req.Header.Get("Origin"); o != "" {
			origin = o
			resp.Header.Set("Access-Control-Allow-Credentials", "true")
			resp.Header.Add("Vary", "Origin")
		}
	}
	resp.Header.Set("Access-Control-Allow-Origin", origin)
	return resp
}
