package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// AdminPrefix is where the dev server exposes its own endpoints.
const AdminPrefix = "/__dynamic-proxy/"

// DevServer is the development server host: it owns the route table slot,
// runs registered middleware on every request and forwards through a
// ProxyHandler.
type DevServer struct {
	table  *routes.Table
	mux    *http.ServeMux
	logger *slog.Logger

	mu          sync.Mutex
	middlewares []func(http.Handler) http.Handler
	handler     atomic.Pointer[http.Handler]
}

// NewDevServer creates a dev server whose unmatched requests go to fallback.
func NewDevServer(fallback http.Handler, logger *slog.Logger) *DevServer {
	table := routes.NewTable()
	mux := http.NewServeMux()
	mux.Handle(AdminPrefix+"routes", routesHandler(table))
	mux.Handle("/", NewProxyHandler(table, fallback, logger))

	s := &DevServer{
		table:  table,
		mux:    mux,
		logger: logger,
	}
	s.rebuild()
	return s
}

// Routes returns the route table consulted by the proxy.
func (s *DevServer) Routes() *routes.Table {
	return s.table
}

// Handle registers an additional admin endpoint under AdminPrefix.
func (s *DevServer) Handle(name string, h http.Handler) {
	s.mux.Handle(AdminPrefix+name, h)
}

// Use appends mw to the middleware chain.
func (s *DevServer) Use(mw func(http.Handler) http.Handler) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
	s.rebuild()
}

// Reconfigure lets configure register a fresh middleware set, which then
// replaces the current chain in one step.
func (s *DevServer) Reconfigure(configure func(host *StagedHost)) {
	staged := &StagedHost{table: s.table}
	configure(staged)

	s.mu.Lock()
	s.middlewares = staged.middlewares
	s.mu.Unlock()
	s.rebuild()
}

func (s *DevServer) rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var h http.Handler = s.mux
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	s.handler.Store(&h)
}

func (s *DevServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.handler.Load()).ServeHTTP(w, r)
}

// StagedHost collects middleware during Reconfigure.
type StagedHost struct {
	table       *routes.Table
	middlewares []func(http.Handler) http.Handler
}

// Routes returns the dev server's route table.
func (h *StagedHost) Routes() *routes.Table {
	return h.table
}

// Use stages mw.
func (h *StagedHost) Use(mw func(http.Handler) http.Handler) {
	h.middlewares = append(h.middlewares, mw)
}

func routesHandler(table *routes.Table) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(table.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
