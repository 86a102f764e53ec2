package filestore

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/mir-akbar/codecollab/sessions"
)

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

func TestIngestArchive_AppliesEntryPolicy(t *testing.T) {
	s := newTestStore(t, 1<<20)
	data := buildZip(t, map[string][]byte{
		"main.py":              []byte("print('hi')"),
		"src/util.js":          []byte("export {}"),
		"__MACOSX/main.py":     []byte("junk"),
		"src/.DS_Store":        []byte("junk"),
		"._resource.py":        []byte("junk"),
		"README.md":            []byte("# readme"),
		"vendored/inner.zip":   []byte("PK"),
		"../escape.py":         []byte("bad"),
	})

	summary, err := s.IngestArchive(context.Background(), testSession, data, "u1", nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	stored := map[string]bool{}
	for _, p := range summary.Succeeded {
		stored[p] = true
	}
	if !stored["main.py"] || !stored["src/util.js"] {
		t.Errorf("expected code entries stored, got %v", summary.Succeeded)
	}
	if len(summary.Succeeded) != 2 {
		t.Errorf("only code entries should be stored, got %v", summary.Succeeded)
	}

	failed := map[string]string{}
	for _, f := range summary.Failed {
		failed[f.Path] = f.Reason
	}
	if _, ok := failed["README.md"]; !ok {
		t.Error("disallowed extension should fail per entry")
	}
	if _, ok := failed["vendored/inner.zip"]; !ok {
		t.Error("nested archives should fail per entry")
	}
	if _, ok := failed["../escape.py"]; !ok {
		t.Error("path traversal entries should fail per entry")
	}
	// system entries are skipped silently, not reported as failures
	for _, p := range []string{"__MACOSX/main.py", "src/.DS_Store", "._resource.py"} {
		if _, ok := failed[p]; ok {
			t.Errorf("system entry %s should be skipped, not failed", p)
		}
	}

	got, err := s.GetFile(testSession, "src/util.js")
	if err != nil || got == nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if got.UploadedByUserID != "u1" {
		t.Errorf("uploader not recorded: %+v", got)
	}
}

func TestIngestArchive_EmitsProgress(t *testing.T) {
	s := newTestStore(t, 1<<20)
	data := buildZip(t, map[string][]byte{
		"a.py":      []byte("x"),
		"skip.md":   []byte("x"),
		".DS_Store": []byte("x"),
	})

	progress := make(chan ProgressEvent, 16)
	if _, err := s.IngestArchive(context.Background(), testSession, data, "u1", progress); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	close(progress)

	byPath := map[string]string{}
	for ev := range progress {
		byPath[ev.Path] = ev.Status
	}
	if byPath["a.py"] != "stored" {
		t.Errorf("expected a.py stored, got %q", byPath["a.py"])
	}
	if byPath["skip.md"] != "failed" {
		t.Errorf("expected skip.md failed, got %q", byPath["skip.md"])
	}
	if byPath[".DS_Store"] != "skipped" {
		t.Errorf("expected .DS_Store skipped, got %q", byPath[".DS_Store"])
	}
}

func TestIngestArchive_PerEntrySizeLimit(t *testing.T) {
	s := newTestStore(t, 64)
	data := buildZip(t, map[string][]byte{
		"ok.py":  bytes.Repeat([]byte("a"), 32),
		"big.py": bytes.Repeat([]byte("b"), 100),
	})

	summary, err := s.IngestArchive(context.Background(), testSession, data, "u1", nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(summary.Succeeded) != 1 || summary.Succeeded[0] != "ok.py" {
		t.Errorf("expected only ok.py stored, got %v", summary.Succeeded)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Path != "big.py" {
		t.Fatalf("expected big.py to fail, got %v", summary.Failed)
	}
	if summary.Failed[0].Reason != string(sessions.KindTooLarge) {
		t.Errorf("expected TooLarge reason, got %q", summary.Failed[0].Reason)
	}
}

func TestIngestArchive_DecompressionBombAborts(t *testing.T) {
	s := newTestStore(t, 50<<20)

	// a megabyte of zeros zips down to a couple of kilobytes, blowing
	// the ratio cap on extraction
	data := buildZip(t, map[string][]byte{
		"zeros.py": make([]byte, 1<<20),
	})
	if int64(len(data))*decompressionRatio >= 1<<20 {
		t.Skipf("archive did not compress enough to exercise the cap: %d bytes", len(data))
	}

	_, err := s.IngestArchive(context.Background(), testSession, data, "u1", nil)
	if sessions.KindOf(err) != sessions.KindTooLarge {
		t.Errorf("expected TooLarge abort, got %v", err)
	}
}

func TestIngestArchive_NotAZip(t *testing.T) {
	s := newTestStore(t, 1<<20)
	if _, err := s.IngestArchive(context.Background(), testSession, []byte("not a zip"), "u1", nil); err == nil {
		t.Error("garbage input should fail")
	}
}
