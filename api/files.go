package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/filestore"
	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/sessions"
)

// authorize checks the caller's access to a session at the required
// role, writing the error response on denial.
func (h *Handlers) authorize(c *gin.Context, sessionID, requiredRole string) bool {
	p := principalFrom(c)
	d := h.Sessions.Authorize(p.UserID, sessionID, requiredRole)
	if !d.Allow {
		kind := d.DenyKind
		if kind == "" {
			kind = sessions.KindForbidden
		}
		respondKind(c, kind, "access denied")
		return false
	}
	return true
}

// ListFiles handles GET /api/files/session/:sessionId
func (h *Handlers) ListFiles(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !h.authorize(c, sessionID, db.RoleViewer) {
		return
	}
	files, err := h.Files.ListSessionFiles(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	if files == nil {
		files = []db.FileRecord{}
	}
	respondData(c, files)
}

// FileHierarchy handles GET /api/files/hierarchy/:sessionId
func (h *Handlers) FileHierarchy(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !h.authorize(c, sessionID, db.RoleViewer) {
		return
	}
	tree, err := h.Files.GetHierarchy(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	if tree == nil {
		tree = []*filestore.Node{}
	}
	respondData(c, tree)
}

// FileContent handles GET /api/files/content?sessionId=&path=
// and serves the raw bytes with the stored content type.
func (h *Handlers) FileContent(c *gin.Context) {
	sessionID := c.Query("sessionId")
	path := c.Query("path")
	if sessionID == "" || path == "" {
		respondKind(c, sessions.KindValidation, "sessionId and path are required")
		return
	}
	if !h.authorize(c, sessionID, db.RoleViewer) {
		return
	}
	rec, err := h.Files.GetFile(sessionID, path)
	if err != nil {
		respondError(c, err)
		return
	}
	if rec == nil {
		respondKind(c, sessions.KindNotFound, "file not found")
		return
	}
	c.Header("Content-Length", fmt.Sprintf("%d", len(rec.Content)))
	c.Data(200, rec.MimeType, rec.Content)
}

// UploadFile handles POST /api/files/upload. The multipart form
// carries the file and the sessionID; a .zip upload triggers archive
// ingestion with a streamed per-entry progress response.
func (h *Handlers) UploadFile(c *gin.Context) {
	sessionID := c.PostForm("sessionID")
	if sessionID == "" {
		respondKind(c, sessions.KindValidation, "sessionID is required")
		return
	}
	if !h.authorize(c, sessionID, db.RoleEditor) {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondKind(c, sessions.KindValidation, "file field is required")
		return
	}
	if header.Size > h.Files.MaxBytes() {
		respondKind(c, sessions.KindTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", h.Files.MaxBytes()))
		return
	}
	if !h.Files.AllowedUpload(header.Filename) {
		respondKind(c, sessions.KindUnsupportedMediaType,
			fmt.Sprintf("extension %q is not allowed", filestore.Extension(header.Filename)))
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, h.Files.MaxBytes()+1))
	if err != nil {
		respondError(c, err)
		return
	}
	if int64(len(content)) > h.Files.MaxBytes() {
		respondKind(c, sessions.KindTooLarge,
			fmt.Sprintf("file exceeds the %d byte limit", h.Files.MaxBytes()))
		return
	}

	p := principalFrom(c)
	if strings.EqualFold(filestore.Extension(header.Filename), ".zip") {
		h.streamArchiveIngest(c, sessionID, content, p.UserID)
		return
	}

	rec, err := h.Files.PutFile(sessionID, header.Filename, content,
		header.Header.Get("Content-Type"), p.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, rec)
}

// streamArchiveIngest runs a zip ingestion while streaming each entry's
// outcome as a JSON line, so a large archive reports progress as entries
// land instead of going silent until the end. The final line carries
// the summary and, when the ingestion aborted, the error.
func (h *Handlers) streamArchiveIngest(c *gin.Context, sessionID string, data []byte, uploaderUserID string) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering
	c.Status(http.StatusOK)

	type ingestResult struct {
		summary *filestore.IngestSummary
		err     error
	}
	progress := make(chan filestore.ProgressEvent, 64)
	done := make(chan ingestResult, 1)
	go func() {
		summary, err := h.Files.IngestArchive(c.Request.Context(), sessionID, data, uploaderUserID, progress)
		close(progress)
		done <- ingestResult{summary: summary, err: err}
	}()

	enc := json.NewEncoder(c.Writer)
	for ev := range progress {
		if err := enc.Encode(ev); err != nil {
			// client gone; keep draining so the ingestion finishes
			continue
		}
		c.Writer.Flush()
	}

	res := <-done
	summary := res.summary
	if summary.Succeeded == nil {
		summary.Succeeded = []string{}
	}
	if summary.Failed == nil {
		summary.Failed = []filestore.FailedEntry{}
	}
	line := gin.H{"summary": summary}
	if res.err != nil {
		kind := sessions.KindOf(res.err)
		message := res.err.Error()
		if kind == sessions.KindInternal {
			log.Error().Err(res.err).Str("session_id", sessionID).Msg("archive ingestion failed")
			message = "internal error"
		}
		line["error"] = &ErrorBody{Kind: string(kind), Message: message}
	}
	enc.Encode(line)
	c.Writer.Flush()
}

// DeleteFile handles DELETE /api/files/:sessionId/*path. The live
// room for the file, if any, is destroyed first.
func (h *Handlers) DeleteFile(c *gin.Context) {
	sessionID := c.Param("sessionId")
	path := strings.TrimPrefix(c.Param("path"), "/")
	if !h.authorize(c, sessionID, db.RoleEditor) {
		return
	}

	h.Rooms.Purge(sessionID, path)
	existed, err := h.Files.DeleteFile(sessionID, path)
	if err != nil {
		respondError(c, err)
		return
	}
	if !existed {
		respondKind(c, sessions.KindNotFound, "file not found")
		return
	}
	respondNoContent(c)
}

// FileStats handles GET /api/files/stats/:sessionId
func (h *Handlers) FileStats(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if !h.authorize(c, sessionID, db.RoleViewer) {
		return
	}
	count, total, err := h.Files.Stats(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"fileCount": count, "totalBytes": total})
}
