package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

// StaticHandler serves a built frontend from disk. Extensionless paths that
// do not name a file fall back to index.html so client-side routes work while
// the API is proxied elsewhere.
type StaticHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewStaticHandler serves the directory dir.
func NewStaticHandler(dir string) (*StaticHandler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %q is not a directory", dir)
	}
	return newStaticHandlerFS(os.DirFS(dir)), nil
}

func newStaticHandlerFS(fsys fs.FS) *StaticHandler {
	return &StaticHandler{
		fileServer: http.FileServer(http.FS(fsys)),
		filesystem: fsys,
	}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if urlPath == "/" {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	if _, err := fs.Stat(h.filesystem, urlPath[1:]); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// Missing assets stay 404 so the browser never gets HTML for a .js request.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	h.fileServer.ServeHTTP(w, r2)
}
