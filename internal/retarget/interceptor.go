package retarget

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rathix/dynamic-proxy/internal/routes"
)

// HintParam is the referer query parameter carrying the debug target.
const HintParam = "debug"

const fallbackHost = "localhost"

// Result describes what Intercept did with a request.
type Result string

const (
	ResultNoURL     Result = "no_url"
	ResultNoMatch   Result = "no_match"
	ResultNoReferer Result = "no_referer"
	ResultNoHint    Result = "no_hint"
	ResultApplied   Result = "applied"
	ResultReapplied Result = "reapplied"
	ResultPanic     Result = "panic"
)

// Recorder receives interceptor outcomes. Defined here at the consumer.
type Recorder interface {
	IncIntercept(result string)
	SetTarget(target string)
}

type nopRecorder struct{}

func (nopRecorder) IncIntercept(string) {}
func (nopRecorder) SetTarget(string)    {}

// Interceptor retargets every configured route to the origin named by the
// debug hint of a matching request's referer.
type Interceptor struct {
	matchers []routes.Matcher
	keys     []routes.PathMatcher
	table    *routes.Table
	logger   *slog.Logger
	recorder Recorder

	// mu serializes the read-modify-write of lastApplied and the table.
	mu          sync.Mutex
	lastApplied string
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(i *Interceptor) {
		if r != nil {
			i.recorder = r
		}
	}
}

// New creates an Interceptor for the configured matchers writing into table.
func New(cfg routes.Config, table *routes.Table, logger *slog.Logger, opts ...Option) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	keys := make([]routes.PathMatcher, len(cfg.Paths))
	copy(keys, cfg.Paths)
	i := &Interceptor{
		matchers: cfg.Matchers,
		keys:     keys,
		table:    table,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Middleware runs the interceptor and then always hands the request to next.
func (i *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i.safeIntercept(r)
		next.ServeHTTP(w, r)
	})
}

func (i *Interceptor) safeIntercept(r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			i.recorder.IncIntercept(string(ResultPanic))
			i.logger.Error("dynamic-proxy: interceptor panic", "panic", rec)
		}
	}()
	i.Intercept(r)
}

// LastApplied returns the most recently applied debug origin, or "" when
// none has been applied.
func (i *Interceptor) LastApplied() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastApplied
}

// Intercept inspects r and, when it matches a configured path and its referer
// carries a debug hint, points every configured route at the hinted origin.
func (i *Interceptor) Intercept(r *http.Request) Result {
	res := i.intercept(r)
	i.recorder.IncIntercept(string(res))
	return res
}

func (i *Interceptor) intercept(r *http.Request) Result {
	if r == nil || r.URL == nil {
		return ResultNoURL
	}

	path, ok := resolvePath(r)
	if !ok {
		return ResultNoMatch
	}

	matched, ok := routes.FirstMatch(i.matchers, path)
	if !ok {
		return ResultNoMatch
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		return ResultNoReferer
	}

	hint, ok := HintFromReferer(referer)
	if !ok {
		i.logger.Debug("no debug hint in referer", "path", path, "matcher", string(matched.Key()))
		return ResultNoHint
	}

	origin, tls := NormalizeHint(hint)
	return i.apply(origin, tls)
}

// apply points every configured route at origin. An https origin also turns
// off certificate verification; a later http hint never turns it back on.
func (i *Interceptor) apply(origin string, tls bool) Result {
	i.mu.Lock()
	defer i.mu.Unlock()

	changed := origin != i.lastApplied
	if changed {
		i.logger.Info("dynamic-proxy: Proxying to: "+origin, "target", origin)
		i.lastApplied = origin
		i.recorder.SetTarget(origin)
	}

	i.table.Retarget(i.keys, origin, changed, func(e *routes.Entry) {
		e.Target = origin
		if tls {
			e.Secure = routes.Bool(false)
		}
	})

	if changed {
		return ResultApplied
	}
	return ResultReapplied
}

// resolvePath resolves the raw request URI against the Host header and
// returns the path.
func resolvePath(r *http.Request) (string, bool) {
	raw := r.RequestURI
	if raw == "" {
		raw = r.URL.RequestURI()
	}

	host := r.Host
	if host == "" {
		host = r.Header.Get("Host")
	}
	if host == "" {
		host = fallbackHost
	}

	base, err := url.Parse("http://" + host)
	if err != nil {
		base = &url.URL{Scheme: "http", Host: fallbackHost}
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).Path, true
}

// HintFromReferer extracts a non-empty debug parameter from an absolute
// referer URL. A malformed or relative referer yields no hint.
func HintFromReferer(referer string) (string, bool) {
	u, err := url.Parse(referer)
	if err != nil || !u.IsAbs() {
		return "", false
	}
	hint := u.Query().Get(HintParam)
	if hint == "" {
		return "", false
	}
	return hint, true
}

// NormalizeHint turns a debug hint into a fully qualified origin. Hints that
// name neither http:// nor https:// are treated as a bare host[:port] over
// plain HTTP. tls reports an https:// origin.
func NormalizeHint(hint string) (origin string, tls bool) {
	switch {
	case strings.HasPrefix(hint, "https://"):
		return hint, true
	case strings.HasPrefix(hint, "http://"):
		return hint, false
	default:
		return "http://" + hint, false
	}
}
