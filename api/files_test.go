package api

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/filestore"
)

func newUploadHandlers(t *testing.T) *Handlers {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	err = database.Transaction(func(tx *sql.Tx) error {
		now := db.NowMs()
		return db.InsertSession(tx, &db.Session{
			ID:            "s1",
			Name:          "test",
			CreatorUserID: "u1",
			Status:        db.SessionActive,
			Settings:      db.SessionSettings{MaxParticipants: 10},
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return &Handlers{Files: filestore.New(database)}
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := f.Write(content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestStreamArchiveIngest_EmitsProgressLines(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newUploadHandlers(t)
	data := buildZip(t, map[string][]byte{
		"main.py":     []byte("print('hi')"),
		"src/util.js": []byte("export {}"),
		"README.md":   []byte("# readme"),
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/files/upload", nil)

	h.streamArchiveIngest(c, "s1", data, "u1")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content type = %q", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected one line per entry plus the summary, got %d: %q", len(lines), lines)
	}

	status := map[string]string{}
	for _, line := range lines[:len(lines)-1] {
		var ev filestore.ProgressEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("progress line %q: %v", line, err)
		}
		status[ev.Path] = ev.Status
	}
	if status["main.py"] != "stored" || status["src/util.js"] != "stored" {
		t.Errorf("code entries should stream as stored, got %v", status)
	}
	if status["README.md"] != "failed" {
		t.Errorf("disallowed entry should stream as failed, got %v", status)
	}

	var final struct {
		Summary *filestore.IngestSummary `json:"summary"`
		Error   *ErrorBody               `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &final); err != nil {
		t.Fatalf("summary line: %v", err)
	}
	if final.Summary == nil {
		t.Fatal("the last line must carry the summary")
	}
	if len(final.Summary.Succeeded) != 2 || len(final.Summary.Failed) != 1 {
		t.Errorf("summary mismatch: %+v", final.Summary)
	}
	if final.Error != nil {
		t.Errorf("unexpected error on a partial-success ingest: %+v", final.Error)
	}

	stored, err := h.Files.GetFile("s1", "main.py")
	if err != nil || stored == nil {
		t.Fatalf("streamed entry should be stored: %v", err)
	}
}

func TestStreamArchiveIngest_ReportsAbort(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newUploadHandlers(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/files/upload", nil)

	h.streamArchiveIngest(c, "s1", []byte("not a zip"), "u1")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	var final struct {
		Summary *filestore.IngestSummary `json:"summary"`
		Error   *ErrorBody               `json:"error"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &final); err != nil {
		t.Fatalf("summary line: %v", err)
	}
	if final.Error == nil {
		t.Fatal("a failed ingestion must report the error on the final line")
	}
	if final.Summary == nil || final.Summary.Succeeded == nil || final.Summary.Failed == nil {
		t.Errorf("the summary is reported even on failure: %+v", final.Summary)
	}
}
