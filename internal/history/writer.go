// Package history appends route retargets and target health transitions to a
// JSON Lines file.
package history

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Kind says what a Record describes.
type Kind string

const (
	KindRetarget Kind = "retarget"
	KindInstall  Kind = "install"
	KindHealth   Kind = "health"
)

// Record is one line of the history file.
type Record struct {
	Timestamp time.Time `json:"ts"`
	Kind      Kind      `json:"kind"`
	Target    string    `json:"target"`
	Prev      string    `json:"prev,omitempty"`
	Next      string    `json:"next,omitempty"`
	HTTPCode  *int      `json:"code,omitempty"`
}

// Writer persists history records.
type Writer interface {
	Record(Record) error
	Close() error
}

// FileWriter implements Writer by appending JSONL to a file.
type FileWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *slog.Logger
}

// NewFileWriter opens (or creates) the file at path for append-only writing.
// If logger is nil, a no-op logger is used.
func NewFileWriter(path string, logger *slog.Logger) (*FileWriter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &FileWriter{
		path:   path,
		file:   f,
		logger: logger,
	}, nil
}

// Path returns the file being written.
func (w *FileWriter) Path() string {
	return w.path
}

// Record marshals rec as JSON and appends it as a single line.
func (w *FileWriter) Record(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err = w.file.Write(data); err != nil {
		w.logger.Error("failed to write history record", "error", err)
	}
	return err
}

// Close closes the underlying file handle.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// NoopWriter is a Writer that discards all records.
type NoopWriter struct{}

// Record discards the record and returns nil.
func (NoopWriter) Record(Record) error { return nil }

// Close is a no-op and returns nil.
func (NoopWriter) Close() error { return nil }
