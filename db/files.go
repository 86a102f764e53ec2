package db

import (
	"database/sql"
)

const fileColumns = `session_id, file_path, file_name, file_type, parent_folder_path,
	content, mime_type, file_size, content_hash, is_compressed, uploaded_by_user_id,
	created_at, updated_at`

const fileMetaColumns = `session_id, file_path, file_name, file_type, parent_folder_path,
	mime_type, file_size, content_hash, is_compressed, uploaded_by_user_id,
	created_at, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var f FileRecord
	var parent sql.NullString
	var compressed int
	err := row.Scan(
		&f.SessionID, &f.FilePath, &f.FileName, &f.FileType, &parent,
		&f.Content, &f.MimeType, &f.FileSize, &f.ContentHash, &compressed,
		&f.UploadedByUserID, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.ParentFolderPath = StringPtr(parent)
	f.IsCompressed = compressed == 1
	return &f, nil
}

func scanFileMeta(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var f FileRecord
	var parent sql.NullString
	var compressed int
	err := row.Scan(
		&f.SessionID, &f.FilePath, &f.FileName, &f.FileType, &parent,
		&f.MimeType, &f.FileSize, &f.ContentHash, &compressed,
		&f.UploadedByUserID, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.ParentFolderPath = StringPtr(parent)
	f.IsCompressed = compressed == 1
	return &f, nil
}

// UpsertFile inserts or replaces the file row keyed (session_id, file_path).
// The upsert is a single statement, so a concurrent reader sees either the
// prior or the new committed version.
func (db *DB) UpsertFile(f *FileRecord) error {
	_, err := db.conn.Exec(`
		INSERT INTO files (session_id, file_path, file_name, file_type, parent_folder_path,
			content, mime_type, file_size, content_hash, is_compressed, uploaded_by_user_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, file_path) DO UPDATE SET
			file_name = excluded.file_name,
			file_type = excluded.file_type,
			parent_folder_path = excluded.parent_folder_path,
			content = excluded.content,
			mime_type = excluded.mime_type,
			file_size = excluded.file_size,
			content_hash = excluded.content_hash,
			is_compressed = excluded.is_compressed,
			uploaded_by_user_id = excluded.uploaded_by_user_id,
			updated_at = excluded.updated_at
	`, f.SessionID, f.FilePath, f.FileName, f.FileType, NullString(f.ParentFolderPath),
		f.Content, f.MimeType, f.FileSize, f.ContentHash, boolInt(f.IsCompressed),
		f.UploadedByUserID, f.CreatedAt, f.UpdatedAt)
	return err
}

// GetFile returns the full record including content, nil if absent
func (db *DB) GetFile(sessionID, filePath string) (*FileRecord, error) {
	row := db.conn.QueryRow(`
		SELECT `+fileColumns+` FROM files WHERE session_id = ? AND file_path = ?
	`, sessionID, filePath)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// ListFiles returns metadata (no content) for every file of a session,
// ordered by file path.
func (db *DB) ListFiles(sessionID string) ([]FileRecord, error) {
	rows, err := db.conn.Query(`
		SELECT `+fileMetaColumns+` FROM files WHERE session_id = ? ORDER BY file_path ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		f, err := scanFileMeta(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// DeleteFile removes a file row. Returns false if it did not exist.
func (db *DB) DeleteFile(sessionID, filePath string) (bool, error) {
	res, err := db.conn.Exec(`
		DELETE FROM files WHERE session_id = ? AND file_path = ?
	`, sessionID, filePath)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FileStats returns the file count and total (uncompressed) byte size for a session
func (db *DB) FileStats(sessionID string) (count int64, totalBytes int64, err error) {
	err = db.conn.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM files WHERE session_id = ?
	`, sessionID).Scan(&count, &totalBytes)
	return count, totalBytes, err
}
