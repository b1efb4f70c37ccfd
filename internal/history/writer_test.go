package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func ptrInt(v int) *int { return &v }

func sampleRecord() Record {
	return Record{
		Timestamp: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		Kind:      KindHealth,
		Target:    "http://localhost:3000",
		Prev:      "reachable",
		Next:      "unhealthy",
		HTTPCode:  ptrInt(503),
	}
}

func TestFileWriter_RecordWritesValidJSONL(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	w, err := NewFileWriter(path, nil)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer w.Close()

	if err := w.Record(sampleRecord()); err != nil {
		t.Fatalf("Record: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("record must end with a newline")
	}

	var got Record
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind != KindHealth || got.Next != "unhealthy" || got.HTTPCode == nil || *got.HTTPCode != 503 {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestFileWriter_FillsZeroTimestamp(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	w, err := NewFileWriter(path, nil)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer w.Close()

	before := time.Now().Add(-time.Second)
	if err := w.Record(Record{Kind: KindRetarget, Target: "http://debug:4000"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	recs, err := ReadRecent(w.Path(), 0)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(recs) != 1 || recs[0].Timestamp.Before(before) {
		t.Errorf("unexpected records %+v", recs)
	}
}

func TestFileWriter_AppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	for i := 0; i < 2; i++ {
		w, err := NewFileWriter(path, nil)
		if err != nil {
			t.Fatalf("NewFileWriter: %v", err)
		}
		if err := w.Record(sampleRecord()); err != nil {
			t.Fatalf("Record: %v", err)
		}
		w.Close()
	}

	recs, err := ReadRecent(path, 0)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}
}

func TestFileWriter_ConcurrentRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	w, err := NewFileWriter(path, nil)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = w.Record(sampleRecord())
		}()
	}
	wg.Wait()
	w.Close()

	recs, err := ReadRecent(path, 0)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(recs) != n {
		t.Errorf("expected %d records, got %d", n, len(recs))
	}
}

func TestNewFileWriter_BadPath(t *testing.T) {
	t.Parallel()

	if _, err := NewFileWriter(filepath.Join(t.TempDir(), "missing", "history.jsonl"), nil); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestNoopWriter(t *testing.T) {
	var w Writer = NoopWriter{}
	if err := w.Record(sampleRecord()); err != nil {
		t.Errorf("Record: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
