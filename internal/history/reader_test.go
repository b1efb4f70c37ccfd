package history

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const sampleJSONL = `{"ts":"2025-01-01T10:00:00Z","kind":"install","target":"http://localhost:3000","next":"http://localhost:3000"}
not json
{"ts":"2025-01-01T11:00:00Z","kind":"retarget","target":"http://debug:4000","prev":"http://localhost:3000","next":"http://debug:4000"}

{"ts":"2025-01-01T12:00:00Z","kind":"health","target":"http://debug:4000","prev":"unknown","next":"unreachable"}
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.jsonl")
	if err := os.WriteFile(path, []byte(sampleJSONL), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadRecent_SkipsBadLines(t *testing.T) {
	t.Parallel()

	recs, err := ReadRecent(writeSample(t), 0)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Kind != KindInstall || recs[2].Kind != KindHealth {
		t.Errorf("unexpected order %+v", recs)
	}
}

func TestReadRecent_LimitKeepsNewest(t *testing.T) {
	t.Parallel()

	recs, err := ReadRecent(writeSample(t), 2)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(recs) != 2 || recs[0].Kind != KindRetarget || recs[1].Kind != KindHealth {
		t.Errorf("unexpected records %+v", recs)
	}
}

func TestReadRecent_MissingFile(t *testing.T) {
	t.Parallel()

	recs, err := ReadRecent(filepath.Join(t.TempDir(), "nope.jsonl"), 10)
	if err != nil || recs != nil {
		t.Errorf("got %v, %v; want nil, nil", recs, err)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	h := NewHandler(writeSample(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []Record
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Kind != KindHealth {
		t.Errorf("unexpected body %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
}

func TestHandler_MissingFileIsEmptyList(t *testing.T) {
	t.Parallel()

	h := NewHandler(filepath.Join(t.TempDir(), "nope.jsonl"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Body.String() != "[]\n" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
