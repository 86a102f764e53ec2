package db

import "database/sql"

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "initial schema: sessions, participants, files",
		Up:          migration001Initial,
	})
}

func migration001Initial(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			creator_user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			max_participants INTEGER NOT NULL DEFAULT 10,
			allow_self_invite INTEGER NOT NULL DEFAULT 0,
			allow_role_requests INTEGER NOT NULL DEFAULT 0,
			allowed_domains TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_creator ON sessions(creator_user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

		CREATE TABLE IF NOT EXISTS participants (
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			invited_by_user_id TEXT,
			invited_at INTEGER,
			joined_at INTEGER,
			left_at INTEGER,
			last_active_at INTEGER,
			PRIMARY KEY (session_id, user_id),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);

		-- one active owner per session
		CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_one_owner
			ON participants(session_id)
			WHERE role = 'owner' AND status = 'active';

		CREATE TABLE IF NOT EXISTS files (
			session_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_type TEXT NOT NULL DEFAULT '',
			parent_folder_path TEXT,
			content BLOB NOT NULL,
			mime_type TEXT NOT NULL DEFAULT 'text/plain',
			file_size INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			is_compressed INTEGER NOT NULL DEFAULT 0,
			uploaded_by_user_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, file_path),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_files_session ON files(session_id);
	`)
	return err
}
