// Package health probes the backends the route table currently points at.
package health

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rathix/dynamic-proxy/internal/history"
	"github.com/rathix/dynamic-proxy/internal/routes"
)

// Status is the outcome of probing one target.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusReachable   Status = "reachable"
	StatusAuthBlocked Status = "authBlocked"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnreachable Status = "unreachable"
)

// Up reports whether the target answered with something other than a server error.
func (s Status) Up() bool {
	return s == StatusReachable || s == StatusAuthBlocked
}

// HTTPProber abstracts *http.Client for testability.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// RouteSource provides the routes whose targets are probed.
type RouteSource interface {
	Snapshot() []routes.Route
}

// Recorder receives probe outcomes, typically for metrics.
type Recorder interface {
	SetTargetUp(target string, up bool)
	DeleteTargetUp(target string)
}

type nopRecorder struct{}

func (nopRecorder) SetTargetUp(string, bool) {}
func (nopRecorder) DeleteTargetUp(string)    {}

// TargetHealth is the latest probe result for a target.
type TargetHealth struct {
	Target          string     `json:"target"`
	Status          Status     `json:"status"`
	HTTPCode        *int       `json:"httpCode,omitempty"`
	ResponseTimeMs  int64      `json:"responseTimeMs"`
	ErrorSnippet    *string    `json:"errorSnippet,omitempty"`
	LastChecked     time.Time  `json:"lastChecked"`
	LastStateChange *time.Time `json:"lastStateChange,omitempty"`
}

// Checker periodically probes every distinct target in the route table.
// Targets marked secure=false are probed without certificate verification,
// matching how the proxy forwards to them.
type Checker struct {
	source   RouteSource
	client   HTTPProber
	insecure HTTPProber
	interval time.Duration
	logger   *slog.Logger
	recorder Recorder
	history  history.Writer

	mu      sync.RWMutex
	results map[string]TargetHealth
}

// Option configures a Checker.
type Option func(*Checker)

// WithRecorder sets where probe outcomes are reported.
func WithRecorder(r Recorder) Option {
	return func(c *Checker) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithHistory records every status transition to w.
func WithHistory(w history.Writer) Option {
	return func(c *Checker) {
		if w != nil {
			c.history = w
		}
	}
}

// WithInsecureClient sets the prober used for targets with secure=false.
func WithInsecureClient(p HTTPProber) Option {
	return func(c *Checker) { c.insecure = p }
}

// NewChecker creates a new health checker. If logger is nil, a no-op logger is used.
func NewChecker(source RouteSource, client HTTPProber, interval time.Duration, logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Checker{
		source:   source,
		client:   client,
		insecure: client,
		interval: interval,
		logger:   logger,
		recorder: nopRecorder{},
		history:  history.NoopWriter{},
		results:  make(map[string]TargetHealth),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewHTTPClients returns a verifying client and one that skips certificate
// verification, both with the given timeout.
func NewHTTPClients(timeout time.Duration) (*http.Client, *http.Client) {
	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &http.Client{Timeout: timeout}, &http.Client{Timeout: timeout, Transport: insecure}
}

// Run probes immediately, then at the configured interval, until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll runs one probe cycle. Results for targets no longer in the table
// are dropped.
func (c *Checker) CheckAll(ctx context.Context) {
	targets := distinctTargets(c.source.Snapshot())

	c.prune(targets)
	if len(targets) == 0 {
		return
	}

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(len(targets))
	for target, insecure := range targets {
		go func(target string, insecure bool) {
			defer wg.Done()
			prober := c.client
			if insecure {
				prober = c.insecure
			}
			c.apply(target, probeTarget(ctx, prober, target))
		}(target, insecure)
	}
	wg.Wait()

	c.logger.Debug("health check cycle complete",
		"targets", len(targets),
		"durationMs", time.Since(start).Milliseconds(),
	)
}

// Results returns the latest result per target, sorted by target.
func (c *Checker) Results() []TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TargetHealth, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// ServeHTTP writes Results as JSON.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c.Results())
}

// distinctTargets maps each target to whether any route reaching it skips
// certificate verification.
func distinctTargets(rs []routes.Route) map[string]bool {
	out := make(map[string]bool, len(rs))
	for _, r := range rs {
		if r.Entry.Target == "" {
			continue
		}
		out[r.Entry.Target] = out[r.Entry.Target] || r.Entry.InsecureSkipVerify()
	}
	return out
}

func (c *Checker) prune(keep map[string]bool) {
	c.mu.Lock()
	var removed []string
	for target := range c.results {
		if _, ok := keep[target]; !ok {
			delete(c.results, target)
			removed = append(removed, target)
		}
	}
	c.mu.Unlock()

	for _, target := range removed {
		c.recorder.DeleteTargetUp(target)
	}
}

const maxSnippetLen = 256

type probeResult struct {
	status         Status
	httpCode       *int
	responseTimeMs int64
	errorSnippet   *string
}

// probeTarget performs a single HTTP GET against target.
func probeTarget(ctx context.Context, client HTTPProber, target string) probeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return probeResult{
			status:       StatusUnreachable,
			errorSnippet: ptrString(err.Error()),
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	responseTimeMs := time.Since(start).Milliseconds()

	if err != nil {
		return probeResult{
			status:         StatusUnreachable,
			responseTimeMs: responseTimeMs,
			errorSnippet:   ptrString(err.Error()),
		}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	status := classifyStatus(code)

	var snippet *string
	if status == StatusUnhealthy {
		snippet = readSnippet(resp.Body)
	}

	return probeResult{
		status:         status,
		httpCode:       &code,
		responseTimeMs: responseTimeMs,
		errorSnippet:   snippet,
	}
}

func (c *Checker) apply(target string, res probeResult) {
	now := time.Now()

	c.mu.Lock()
	prev, seen := c.results[target]
	th := TargetHealth{
		Target:          target,
		Status:          res.status,
		HTTPCode:        res.httpCode,
		ResponseTimeMs:  res.responseTimeMs,
		ErrorSnippet:    res.errorSnippet,
		LastChecked:     now,
		LastStateChange: prev.LastStateChange,
	}
	changed := !seen || prev.Status != res.status
	if changed {
		th.LastStateChange = &now
	}
	c.results[target] = th
	c.mu.Unlock()

	c.recorder.SetTargetUp(target, res.status.Up())

	if changed {
		from := StatusUnknown
		if seen {
			from = prev.Status
		}
		c.logger.Info("target health changed",
			"target", target,
			"from", string(from),
			"to", string(res.status),
		)
		_ = c.history.Record(history.Record{
			Timestamp: now,
			Kind:      history.KindHealth,
			Target:    target,
			Prev:      string(from),
			Next:      string(res.status),
			HTTPCode:  res.httpCode,
		})
	}
}

// classifyStatus maps an HTTP status code to a Status. Any answer below 500
// means a backend is listening.
func classifyStatus(code int) Status {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return StatusAuthBlocked
	case code >= 500:
		return StatusUnhealthy
	default:
		return StatusReachable
	}
}

// readSnippet reads the first line of the response body, truncated to maxSnippetLen.
func readSnippet(body io.Reader) *string {
	lr := &io.LimitedReader{R: body, N: maxSnippetLen}
	data, err := io.ReadAll(lr)
	if err != nil || len(data) == 0 {
		return nil
	}

	s := string(data)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func ptrString(s string) *string {
	return &s
}
