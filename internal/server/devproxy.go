package server

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// NewDevProxyHandler creates a reverse proxy handler that forwards all requests
// to the frontend dev server, enabling HMR and live reloading during development.
func NewDevProxyHandler(target string) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("frontend URL %q must be absolute", target)
	}
	return httputil.NewSingleHostReverseProxy(u), nil
}

type proxyKey struct {
	target       string
	changeOrigin bool
	insecure     bool
}

// ProxyHandler forwards requests selected by the route table to the target of
// the first matching entry. Requests no entry selects go to fallback.
type ProxyHandler struct {
	table    *routes.Table
	fallback http.Handler
	logger   *slog.Logger

	mu       sync.Mutex
	matchers map[routes.PathMatcher]routes.Matcher
	proxies  map[proxyKey]*httputil.ReverseProxy
}

// NewProxyHandler creates a handler that consults table on every request.
// fallback may be nil, in which case unmatched requests get 404.
func NewProxyHandler(table *routes.Table, fallback http.Handler, logger *slog.Logger) *ProxyHandler {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	return &ProxyHandler{
		table:    table,
		fallback: fallback,
		logger:   logger,
		matchers: make(map[routes.PathMatcher]routes.Matcher),
		proxies:  make(map[proxyKey]*httputil.ReverseProxy),
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(r.URL.Path)
	if !ok {
		h.fallback.ServeHTTP(w, r)
		return
	}

	proxy, err := h.proxyFor(entry)
	if err != nil {
		h.logger.Error("invalid route target", "target", entry.Target, "error", err)
		http.Error(w, "invalid proxy target", http.StatusBadGateway)
		return
	}
	proxy.ServeHTTP(w, r)
}

func (h *ProxyHandler) lookup(path string) (routes.Entry, bool) {
	for _, key := range h.table.Keys() {
		m, err := h.matcher(key)
		if err != nil || !m.Match(path) {
			continue
		}
		if e, ok := h.table.Get(key); ok {
			return e, true
		}
	}
	return routes.Entry{}, false
}

func (h *ProxyHandler) matcher(key routes.PathMatcher) (routes.Matcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.matchers[key]; ok {
		return m, nil
	}
	m, err := routes.Compile(key)
	if err != nil {
		return routes.Matcher{}, err
	}
	h.matchers[key] = m
	return m, nil
}

func (h *ProxyHandler) proxyFor(e routes.Entry) (*httputil.ReverseProxy, error) {
	key := proxyKey{target: e.Target, changeOrigin: e.ChangeOrigin, insecure: e.InsecureSkipVerify()}

	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.proxies[key]; ok {
		return p, nil
	}

	u, err := url.Parse(e.Target)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("target %q must be absolute", e.Target)
	}

	p := httputil.NewSingleHostReverseProxy(u)
	originalDirector := p.Director
	p.Director = func(r *http.Request) {
		originalDirector(r)
		if key.changeOrigin {
			r.Host = u.Host
		}
	}
	if key.insecure {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		p.Transport = transport
	}
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		if r.Context().Err() != nil {
			// Client disconnected; nothing to do.
			return
		}
		h.logger.Error("proxy error", "target", key.target, "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}

	h.proxies[key] = p
	return p, nil
}
