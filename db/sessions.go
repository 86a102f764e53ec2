package db

import (
	"database/sql"
)

// Session list filters
const (
	FilterAll     = "all"
	FilterCreated = "created"
	FilterShared  = "shared"
)

// SessionWithRole is a session joined with the requesting user's role
type SessionWithRole struct {
	Session
	MyRole   string `json:"myRole"`
	MyStatus string `json:"myStatus"`
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var selfInvite, roleRequests int
	var domains string
	err := row.Scan(
		&s.ID, &s.Name, &s.Description, &s.CreatorUserID, &s.Status,
		&s.Settings.MaxParticipants, &selfInvite, &roleRequests, &domains,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Settings.AllowSelfInvite = selfInvite == 1
	s.Settings.AllowRoleRequests = roleRequests == 1
	s.Settings.AllowedDomains = splitDomains(domains)
	return &s, nil
}

const sessionColumns = `id, name, description, creator_user_id, status,
	max_participants, allow_self_invite, allow_role_requests, allowed_domains,
	created_at, updated_at`

// InsertSession inserts a new session row inside tx
func InsertSession(tx *sql.Tx, s *Session) error {
	_, err := tx.Exec(`
		INSERT INTO sessions (id, name, description, creator_user_id, status,
			max_participants, allow_self_invite, allow_role_requests, allowed_domains,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Description, s.CreatorUserID, s.Status,
		s.Settings.MaxParticipants, boolInt(s.Settings.AllowSelfInvite),
		boolInt(s.Settings.AllowRoleRequests), joinDomains(s.Settings.AllowedDomains),
		s.CreatedAt, s.UpdatedAt)
	return err
}

// GetSession returns the session with the given id, nil if absent
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.conn.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// UpdateSession persists mutable session fields (name, description, settings)
func (db *DB) UpdateSession(s *Session) error {
	_, err := db.conn.Exec(`
		UPDATE sessions
		SET name = ?, description = ?, max_participants = ?, allow_self_invite = ?,
			allow_role_requests = ?, allowed_domains = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, s.Description, s.Settings.MaxParticipants,
		boolInt(s.Settings.AllowSelfInvite), boolInt(s.Settings.AllowRoleRequests),
		joinDomains(s.Settings.AllowedDomains), NowMs(), s.ID)
	return err
}

// SoftDeleteSession marks a session deleted. Session ids are never reused.
func (db *DB) SoftDeleteSession(id string) error {
	_, err := db.conn.Exec(`
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?
	`, SessionDeleted, NowMs(), id)
	return err
}

// ListSessionsForUser returns active sessions visible to the user together
// with the user's own role, per the list filter.
func (db *DB) ListSessionsForUser(userID, filter string) ([]SessionWithRole, error) {
	query := `
		SELECT s.id, s.name, s.description, s.creator_user_id, s.status,
			s.max_participants, s.allow_self_invite, s.allow_role_requests, s.allowed_domains,
			s.created_at, s.updated_at, p.role, p.status
		FROM sessions s
		JOIN participants p ON p.session_id = s.id AND p.user_id = ?
		WHERE s.status = ? AND p.status IN (?, ?)`
	args := []any{userID, SessionActive, ParticipantInvited, ParticipantActive}

	switch filter {
	case FilterCreated:
		query += ` AND s.creator_user_id = ?`
		args = append(args, userID)
	case FilterShared:
		query += ` AND s.creator_user_id != ?`
		args = append(args, userID)
	}
	query += ` ORDER BY s.updated_at DESC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionWithRole
	for rows.Next() {
		var s SessionWithRole
		var selfInvite, roleRequests int
		var domains string
		err := rows.Scan(
			&s.ID, &s.Name, &s.Description, &s.CreatorUserID, &s.Status,
			&s.Settings.MaxParticipants, &selfInvite, &roleRequests, &domains,
			&s.CreatedAt, &s.UpdatedAt, &s.MyRole, &s.MyStatus,
		)
		if err != nil {
			return nil, err
		}
		s.Settings.AllowSelfInvite = selfInvite == 1
		s.Settings.AllowRoleRequests = roleRequests == 1
		s.Settings.AllowedDomains = splitDomains(domains)
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
