package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"app", "/app/"},
		{"/app", "/app/"},
		{"/app/", "/app/"},
		{"app/", "/app/"},
	}

	for _, tc := range tests {
		got := NormalizeBasePath(tc.input)
		if got != tc.expected {
			t.Errorf("NormalizeBasePath(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}

func TestBasePathHandler(t *testing.T) {
	tests := []struct {
		name     string
		basePath string
		path     string
		want     string
	}{
		{"outside prefix unchanged", "/app/", "/api/users", "/api/users"},
		{"prefix stripped", "/app/", "/app/api/users?page=2", "/api/users?page=2"},
		{"mount root", "/app/", "/app/", "/"},
		{"mount root without slash", "/app/", "/app", "/"},
		{"root base path is no-op", "/", "/api/users", "/api/users"},
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.RequestURI))
	})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewBasePathHandler(tc.basePath, inner)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

			if rec.Body.String() != tc.want {
				t.Errorf("request URI = %q, want %q", rec.Body.String(), tc.want)
			}
		})
	}
}
