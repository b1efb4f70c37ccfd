package server

import (
	"net/http"
	"strings"
)

// NormalizeBasePath ensures the base path starts and ends with '/'.
func NormalizeBasePath(basePath string) string {
	if basePath == "" {
		return "/"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return basePath
}

// NewBasePathHandler mounts inner under basePath: the prefix is stripped
// before inner sees the request, so route matchers are written relative to
// the mount point. Requests outside the prefix are forwarded unchanged. A
// basePath of "/" returns inner itself.
func NewBasePathHandler(basePath string, inner http.Handler) http.Handler {
	bp := NormalizeBasePath(basePath)
	if bp == "/" {
		return inner
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rest string
		switch {
		case strings.HasPrefix(r.URL.Path, bp):
			rest = strings.TrimPrefix(r.URL.Path, bp)
		case r.URL.Path+"/" == bp:
			rest = ""
		default:
			inner.ServeHTTP(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/" + rest
		r2.URL.RawPath = ""
		r2.RequestURI = r2.URL.RequestURI()
		inner.ServeHTTP(w, r2)
	})
}
