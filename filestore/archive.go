package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/mholt/archives"

	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/sessions"
)

// decompressionRatio caps the total extracted size relative to the
// archive size, defeating zip bombs.
const decompressionRatio = 10

// ProgressEvent reports the outcome of one archive entry
type ProgressEvent struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "stored", "failed", "skipped"
	Reason string `json:"reason,omitempty"`
}

// FailedEntry names an entry that could not be stored and why
type FailedEntry struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestSummary is the terminal result of an archive ingestion.
// Partial success is the norm; failures are reported per entry.
type IngestSummary struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []FailedEntry `json:"failed"`
}

// IngestArchive extracts a zip archive into the session's file store.
// System entries are skipped silently, disallowed extensions fail per
// entry, and the total decompressed size is capped at a multiple of
// the archive size. Progress events are emitted per entry when a
// channel is supplied; sends never block.
func (s *Store) IngestArchive(ctx context.Context, sessionID string, data []byte, uploaderUserID string, progress chan<- ProgressEvent) (*IngestSummary, error) {
	summary := &IngestSummary{}
	budget := int64(len(data)) * decompressionRatio

	emit := func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		select {
		case progress <- ev:
		default:
		}
	}
	fail := func(path, reason string) {
		summary.Failed = append(summary.Failed, FailedEntry{Path: path, Reason: reason})
		emit(ProgressEvent{Path: path, Status: "failed", Reason: reason})
	}

	zip := archives.Zip{}
	err := zip.Extract(ctx, bytes.NewReader(data), func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() {
			return nil
		}

		norm, err := NormalizePath(f.NameInArchive)
		if err != nil {
			fail(f.NameInArchive, "invalid path")
			return nil
		}
		if Ignored(norm) {
			emit(ProgressEvent{Path: norm, Status: "skipped"})
			return nil
		}
		if ext := Extension(norm); ext == ".zip" || !extensionAllowed(norm, s.allowedExt) {
			fail(norm, string(sessions.KindUnsupportedMediaType))
			return nil
		}

		limit := s.maxBytes
		if budget < limit {
			limit = budget
		}
		rc, err := f.Open()
		if err != nil {
			fail(norm, "unreadable entry")
			return nil
		}
		content, err := io.ReadAll(io.LimitReader(rc, limit+1))
		rc.Close()
		if err != nil {
			fail(norm, "unreadable entry")
			return nil
		}
		if int64(len(content)) > limit {
			if limit < s.maxBytes {
				// the archive as a whole blew the decompression cap
				return sessions.E(sessions.KindTooLarge,
					fmt.Sprintf("decompressed size exceeds %dx the archive size", decompressionRatio))
			}
			fail(norm, string(sessions.KindTooLarge))
			return nil
		}
		budget -= int64(len(content))

		if _, err := s.write(sessionID, norm, content, "", uploaderUserID); err != nil {
			log.Error().Err(err).Str("path", norm).Msg("archive entry store failed")
			fail(norm, string(sessions.KindOf(err)))
			return nil
		}
		summary.Succeeded = append(summary.Succeeded, norm)
		emit(ProgressEvent{Path: norm, Status: "stored"})
		return nil
	})
	if err != nil {
		// entries stored before the failure remain; report what we have
		return summary, err
	}
	return summary, nil
}
