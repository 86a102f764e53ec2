package filestore

import (
	"bytes"
	"database/sql"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/sessions"
)

const testSession = "s1"

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	err = database.Transaction(func(tx *sql.Tx) error {
		now := db.NowMs()
		return db.InsertSession(tx, &db.Session{
			ID:            testSession,
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

	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Store{
		db:         database,
		maxBytes:   maxBytes,
		allowedExt: []string{".js", ".java", ".py", ".zip"},
		enc:        enc,
		dec:        dec,
	}
}

func TestPutGetFile_RoundTrip(t *testing.T) {
	s := newTestStore(t, 1<<20)

	content := []byte("print('hello')\n")
	rec, err := s.PutFile(testSession, "/src/main.py", content, "", "u1")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.FilePath != "src/main.py" || rec.FileName != "main.py" || rec.FileType != ".py" {
		t.Errorf("metadata mismatch: %+v", rec)
	}
	if rec.ParentFolderPath == nil || *rec.ParentFolderPath != "src" {
		t.Errorf("expected parent 'src', got %v", rec.ParentFolderPath)
	}
	if rec.FileSize != int64(len(content)) {
		t.Errorf("size mismatch: %d", rec.FileSize)
	}
	if rec.ContentHash != ContentHash(content) {
		t.Error("hash must describe the raw bytes")
	}

	got, err := s.GetFile(testSession, "src/main.py")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || !bytes.Equal(got.Content, content) {
		t.Error("content round trip failed")
	}
}

func TestPutFile_UpsertsByPath(t *testing.T) {
	s := newTestStore(t, 1<<20)
	if _, err := s.PutFile(testSession, "main.py", []byte("v1"), "", "u1"); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if _, err := s.PutFile(testSession, "main.py", []byte("v2 longer"), "", "u2"); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := s.GetFile(testSession, "main.py")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Content) != "v2 longer" || got.UploadedByUserID != "u2" {
		t.Errorf("upsert did not replace: %+v", got)
	}

	count, total, err := s.Stats(testSession)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if count != 1 || total != 9 {
		t.Errorf("stats = %d files / %d bytes, want 1 / 9", count, total)
	}
}

func TestPutFile_RejectsDisallowedExtension(t *testing.T) {
	s := newTestStore(t, 1<<20)
	_, err := s.PutFile(testSession, "notes.txt", []byte("x"), "", "u1")
	if sessions.KindOf(err) != sessions.KindUnsupportedMediaType {
		t.Errorf("expected UnsupportedMediaType, got %v", err)
	}
}

func TestPutFile_RejectsOversize(t *testing.T) {
	s := newTestStore(t, 10)
	if _, err := s.PutFile(testSession, "ok.py", bytes.Repeat([]byte("a"), 10), "", "u1"); err != nil {
		t.Fatalf("content at the limit should pass: %v", err)
	}
	_, err := s.PutFile(testSession, "big.py", bytes.Repeat([]byte("a"), 11), "", "u1")
	if sessions.KindOf(err) != sessions.KindTooLarge {
		t.Errorf("expected TooLarge, got %v", err)
	}
}

func TestPutFile_CompressionIsTransparent(t *testing.T) {
	s := newTestStore(t, 1<<20)

	// well above the threshold and highly compressible
	content := bytes.Repeat([]byte("func main() {}\n"), 10000)
	rec, err := s.PutFile(testSession, "gen.py", content, "", "u1")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.FileSize != int64(len(content)) {
		t.Errorf("fileSize must describe raw bytes, got %d", rec.FileSize)
	}

	// the stored row is compressed
	raw, err := s.db.GetFile(testSession, "gen.py")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if !raw.IsCompressed {
		t.Error("expected stored content to be compressed")
	}
	if len(raw.Content) >= len(content) {
		t.Error("compressed content should be smaller than raw")
	}

	// the read surface never exposes compression
	got, err := s.GetFile(testSession, "gen.py")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsCompressed || !bytes.Equal(got.Content, content) {
		t.Error("decompression on read failed")
	}
}

func TestPutFile_SmallContentStaysRaw(t *testing.T) {
	s := newTestStore(t, 1<<20)
	if _, err := s.PutFile(testSession, "small.py", []byte("tiny"), "", "u1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, err := s.db.GetFile(testSession, "small.py")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw.IsCompressed {
		t.Error("content under the threshold should be stored raw")
	}
}

func TestDeleteFile(t *testing.T) {
	s := newTestStore(t, 1<<20)
	if _, err := s.PutFile(testSession, "main.py", []byte("x"), "", "u1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	existed, err := s.DeleteFile(testSession, "main.py")
	if err != nil || !existed {
		t.Fatalf("delete: existed=%v err=%v", existed, err)
	}
	existed, err = s.DeleteFile(testSession, "main.py")
	if err != nil || existed {
		t.Errorf("second delete: existed=%v err=%v", existed, err)
	}

	got, err := s.GetFile(testSession, "main.py")
	if err != nil || got != nil {
		t.Errorf("deleted file should be absent, got %+v err=%v", got, err)
	}
}

func TestDetectMime(t *testing.T) {
	if m := DetectMime("x.json"); !bytes.Contains([]byte(m), []byte("json")) {
		t.Errorf("unexpected json mime %q", m)
	}
	if m := DetectMime("x.py"); !bytes.Contains([]byte(m), []byte("text/")) {
		t.Errorf("source files should map to text, got %q", m)
	}
	if m := DetectMime("x.bin"); m != "application/octet-stream" {
		t.Errorf("unknown extension should be octet-stream, got %q", m)
	}
}
