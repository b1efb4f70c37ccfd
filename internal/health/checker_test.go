package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rathix/dynamic-proxy/internal/history"
	"github.com/rathix/dynamic-proxy/internal/routes"
)

// mockHTTPProber is a configurable mock for HTTPProber.
type mockHTTPProber struct {
	mu        sync.Mutex
	responses map[string]mockResponse // keyed by URL
	requests  []string
}

type mockResponse struct {
	statusCode int
	body       string
	err        error
}

func (m *mockHTTPProber) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req.URL.String())
	resp, ok := m.responses[req.URL.String()]
	if !ok {
		return nil, errors.New("connection refused")
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &http.Response{
		StatusCode: resp.statusCode,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
	}, nil
}

func (m *mockHTTPProber) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockRecorder struct {
	mu      sync.Mutex
	up      map[string]bool
	deleted []string
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{up: make(map[string]bool)}
}

func (r *mockRecorder) SetTargetUp(target string, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.up[target] = up
}

func (r *mockRecorder) DeleteTargetUp(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.up, target)
	r.deleted = append(r.deleted, target)
}

func tableWith(target string, paths ...routes.PathMatcher) *routes.Table {
	table := routes.NewTable()
	entries := make(map[routes.PathMatcher]routes.Entry, len(paths))
	for _, p := range paths {
		entries[p] = routes.Entry{Target: target, ChangeOrigin: true}
	}
	table.Replace(paths, entries)
	return table
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		code int
		want Status
	}{
		{200, StatusReachable},
		{204, StatusReachable},
		{302, StatusReachable},
		{404, StatusReachable},
		{401, StatusAuthBlocked},
		{403, StatusAuthBlocked},
		{500, StatusUnhealthy},
		{503, StatusUnhealthy},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.code); got != tc.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestCheckAll_ProbesEachTargetOnce(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api", "/auth")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000": {statusCode: 404, body: "not found"},
	}}
	rec := newMockRecorder()

	checker := NewChecker(table, client, time.Hour, nil, WithRecorder(rec))
	checker.CheckAll(context.Background())

	if got := client.requestCount(); got != 1 {
		t.Errorf("expected 1 probe, got %d", got)
	}
	results := checker.Results()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Status != StatusReachable || r.HTTPCode == nil || *r.HTTPCode != 404 {
		t.Errorf("unexpected result %+v", r)
	}
	if r.ErrorSnippet != nil {
		t.Errorf("expected no snippet for reachable target, got %q", *r.ErrorSnippet)
	}
	if r.LastStateChange == nil {
		t.Error("first probe should set LastStateChange")
	}
	if !rec.up["http://localhost:3000"] {
		t.Error("recorder should report target up")
	}
}

func TestCheckAll_UnhealthyCapturesSnippet(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000": {statusCode: 502, body: "  bad gateway \nstack trace"},
	}}
	rec := newMockRecorder()

	checker := NewChecker(table, client, time.Hour, nil, WithRecorder(rec))
	checker.CheckAll(context.Background())

	r := checker.Results()[0]
	if r.Status != StatusUnhealthy {
		t.Fatalf("status = %q", r.Status)
	}
	if r.ErrorSnippet == nil || *r.ErrorSnippet != "bad gateway" {
		t.Errorf("snippet = %v", r.ErrorSnippet)
	}
	if rec.up["http://localhost:3000"] {
		t.Error("recorder should report target down")
	}
}

func TestCheckAll_ConnectionErrorIsUnreachable(t *testing.T) {
	table := tableWith("http://localhost:1", "/api")
	checker := NewChecker(table, &mockHTTPProber{}, time.Hour, nil)
	checker.CheckAll(context.Background())

	r := checker.Results()[0]
	if r.Status != StatusUnreachable || r.HTTPCode != nil {
		t.Errorf("unexpected result %+v", r)
	}
	if r.ErrorSnippet == nil || !strings.Contains(*r.ErrorSnippet, "connection refused") {
		t.Errorf("snippet = %v", r.ErrorSnippet)
	}
}

func TestCheckAll_LastStateChangeOnlyOnTransition(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000": {statusCode: 200},
	}}
	checker := NewChecker(table, client, time.Hour, nil)

	checker.CheckAll(context.Background())
	first := *checker.Results()[0].LastStateChange

	time.Sleep(5 * time.Millisecond)
	checker.CheckAll(context.Background())
	if got := *checker.Results()[0].LastStateChange; !got.Equal(first) {
		t.Errorf("LastStateChange moved without a transition: %v -> %v", first, got)
	}

	client.mu.Lock()
	client.responses["http://localhost:3000"] = mockResponse{statusCode: 503}
	client.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	checker.CheckAll(context.Background())
	if got := *checker.Results()[0].LastStateChange; !got.After(first) {
		t.Errorf("LastStateChange should advance on transition")
	}
}

func TestCheckAll_RetargetPrunesOldTarget(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000":     {statusCode: 200},
		"https://debug.example.com": {statusCode: 200},
	}}
	rec := newMockRecorder()
	checker := NewChecker(table, client, time.Hour, nil, WithRecorder(rec))
	checker.CheckAll(context.Background())

	table.Retarget(table.Keys(), "https://debug.example.com", true, func(e *routes.Entry) {
		e.Target = "https://debug.example.com"
	})
	checker.CheckAll(context.Background())

	results := checker.Results()
	if len(results) != 1 || results[0].Target != "https://debug.example.com" {
		t.Fatalf("unexpected results %+v", results)
	}
	if len(rec.deleted) != 1 || rec.deleted[0] != "http://localhost:3000" {
		t.Errorf("deleted = %v", rec.deleted)
	}
}

func TestCheckAll_InsecureTargetsUseInsecureClient(t *testing.T) {
	table := tableWith("https://debug.example.com", "/api")
	table.Retarget(table.Keys(), "https://debug.example.com", false, func(e *routes.Entry) {
		e.Secure = routes.Bool(false)
	})

	verified := &mockHTTPProber{}
	insecure := &mockHTTPProber{responses: map[string]mockResponse{
		"https://debug.example.com": {statusCode: 200},
	}}
	checker := NewChecker(table, verified, time.Hour, nil, WithInsecureClient(insecure))
	checker.CheckAll(context.Background())

	if verified.requestCount() != 0 || insecure.requestCount() != 1 {
		t.Errorf("verified=%d insecure=%d", verified.requestCount(), insecure.requestCount())
	}
	if checker.Results()[0].Status != StatusReachable {
		t.Errorf("status = %q", checker.Results()[0].Status)
	}
}

func TestChecker_ServeHTTP(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000": {statusCode: 200},
	}}
	checker := NewChecker(table, client, time.Hour, nil)
	checker.CheckAll(context.Background())

	rec := httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []TargetHealth
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Status != StatusReachable {
		t.Errorf("unexpected body %+v", got)
	}

	rec = httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}

func TestRun_ProbesImmediatelyAndStops(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000": {statusCode: 200},
	}}
	checker := NewChecker(table, client, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for client.requestCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected repeated probes, got %d", client.requestCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewHTTPClients(t *testing.T) {
	verified, insecure := NewHTTPClients(3 * time.Second)
	if verified.Timeout != 3*time.Second || insecure.Timeout != 3*time.Second {
		t.Error("timeouts not applied")
	}
	tr, ok := insecure.Transport.(*http.Transport)
	if !ok || tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("insecure client must skip verification")
	}
}

type memHistory struct {
	mu   sync.Mutex
	recs []history.Record
}

func (m *memHistory) Record(r history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memHistory) Close() error { return nil }

func TestCheckAll_RecordsTransitionsToHistory(t *testing.T) {
	table := tableWith("http://localhost:3000", "/api")
	client := &mockHTTPProber{responses: map[string]mockResponse{
		"http://localhost:3000": {statusCode: 200},
	}}
	hist := &memHistory{}
	checker := NewChecker(table, client, time.Hour, nil, WithHistory(hist))

	checker.CheckAll(context.Background())
	checker.CheckAll(context.Background())
	client.mu.Lock()
	client.responses["http://localhost:3000"] = mockResponse{statusCode: 500}
	client.mu.Unlock()
	checker.CheckAll(context.Background())

	if len(hist.recs) != 2 {
		t.Fatalf("expected 2 transitions, got %+v", hist.recs)
	}
	first, second := hist.recs[0], hist.recs[1]
	if first.Kind != history.KindHealth || first.Prev != "unknown" || first.Next != "reachable" {
		t.Errorf("first = %+v", first)
	}
	if second.Prev != "reachable" || second.Next != "unhealthy" || second.HTTPCode == nil || *second.HTTPCode != 500 {
		t.Errorf("second = %+v", second)
	}
}
