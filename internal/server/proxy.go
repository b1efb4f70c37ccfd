package server

import "net/http"

// ForwardedHeadersMiddleware records the host and scheme the browser used in
// X-Forwarded-Host and X-Forwarded-Proto before a route with changeOrigin
// rewrites the Host header. Values set by an upstream proxy are kept.
func ForwardedHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Host") == "" && r.Host != "" {
			r.Header.Set("X-Forwarded-Host", r.Host)
		}
		if r.Header.Get("X-Forwarded-Proto") == "" {
			proto := "http"
			if r.TLS != nil {
				proto = "https"
			}
			r.Header.Set("X-Forwarded-Proto", proto)
		}
		next.ServeHTTP(w, r)
	})
}
