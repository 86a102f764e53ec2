package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path"

	"github.com/klauspost/compress/zstd"

	"github.com/mir-akbar/codecollab/config"
	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/sessions"
)

// compressThreshold is the content size above which stored bytes are
// zstd-compressed.
const compressThreshold = 64 << 10

// Store is the durable per-session file repository
type Store struct {
	db         *db.DB
	maxBytes   int64
	allowedExt []string

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New creates a file store on the shared database
func New(database *db.DB) *Store {
	cfg := config.Get()
	// EncodeAll/DecodeAll usage; the nil writer/reader is never used
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &Store{
		db:         database,
		maxBytes:   cfg.MaxFileBytes,
		allowedExt: cfg.AllowedExt,
		enc:        enc,
		dec:        dec,
	}
}

// MaxBytes returns the per-upload size limit
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// AllowedUpload reports whether the path's extension is accepted on
// the upload surface (archives included).
func (s *Store) AllowedUpload(filePath string) bool {
	return extensionAllowed(filePath, s.allowedExt)
}

// ContentHash is the hex SHA-256 over raw (uncompressed) bytes
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// DetectMime derives a MIME type from the file extension
func DetectMime(filePath string) string {
	if t := mime.TypeByExtension(Extension(filePath)); t != "" {
		return t
	}
	switch Extension(filePath) {
	case ".js", ".java", ".py":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// PutFile upserts file content by (sessionId, filePath). Content above
// the threshold is stored zstd-compressed; fileSize and contentHash
// always describe the raw bytes.
func (s *Store) PutFile(sessionID, filePath string, content []byte, mimeType, uploaderUserID string) (*db.FileRecord, error) {
	norm, err := NormalizePath(filePath)
	if err != nil {
		return nil, err
	}
	if !extensionAllowed(norm, s.allowedExt) {
		return nil, sessions.E(sessions.KindUnsupportedMediaType,
			fmt.Sprintf("extension %q is not allowed", Extension(norm)))
	}
	return s.write(sessionID, norm, content, mimeType, uploaderUserID)
}

// write stores already-validated content. Archive ingestion calls this
// directly after applying its own entry policy.
func (s *Store) write(sessionID, filePath string, content []byte, mimeType, uploaderUserID string) (*db.FileRecord, error) {
	if int64(len(content)) > s.maxBytes {
		return nil, sessions.E(sessions.KindTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", s.maxBytes))
	}
	if mimeType == "" {
		mimeType = DetectMime(filePath)
	}

	stored := content
	compressed := false
	if len(content) > compressThreshold {
		if c := s.enc.EncodeAll(content, nil); len(c) < len(content) {
			stored = c
			compressed = true
		}
	}

	now := db.NowMs()
	rec := &db.FileRecord{
		SessionID:        sessionID,
		FilePath:         filePath,
		FileName:         path.Base(filePath),
		FileType:         Extension(filePath),
		ParentFolderPath: ParentFolder(filePath),
		Content:          stored,
		MimeType:         mimeType,
		FileSize:         int64(len(content)),
		ContentHash:      ContentHash(content),
		IsCompressed:     compressed,
		UploadedByUserID: uploaderUserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.db.UpsertFile(rec); err != nil {
		return nil, err
	}

	rec.Content = content
	rec.IsCompressed = false
	return rec, nil
}

// GetFile returns the record with raw content, nil if absent
func (s *Store) GetFile(sessionID, filePath string) (*db.FileRecord, error) {
	norm, err := NormalizePath(filePath)
	if err != nil {
		return nil, err
	}
	rec, err := s.db.GetFile(sessionID, norm)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.IsCompressed {
		raw, err := s.dec.DecodeAll(rec.Content, nil)
		if err != nil {
			log.Error().Err(err).Str("path", norm).Msg("stored content decompression failed")
			return nil, err
		}
		rec.Content = raw
		rec.IsCompressed = false
	}
	return rec, nil
}

// ListSessionFiles returns metadata for all files of a session
func (s *Store) ListSessionFiles(sessionID string) ([]db.FileRecord, error) {
	return s.db.ListFiles(sessionID)
}

// DeleteFile removes a file; returns false when it did not exist
func (s *Store) DeleteFile(sessionID, filePath string) (bool, error) {
	norm, err := NormalizePath(filePath)
	if err != nil {
		return false, err
	}
	return s.db.DeleteFile(sessionID, norm)
}

// Stats reports the file count and total raw bytes for a session
func (s *Store) Stats(sessionID string) (fileCount int64, totalBytes int64, err error) {
	return s.db.FileStats(sessionID)
}

// GetHierarchy derives the folder tree for a session
func (s *Store) GetHierarchy(sessionID string) ([]*Node, error) {
	files, err := s.db.ListFiles(sessionID)
	if err != nil {
		return nil, err
	}
	return BuildHierarchy(files), nil
}
