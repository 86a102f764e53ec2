package db

import (
	"database/sql"
)

const participantColumns = `session_id, user_id, email, display_name, role, status,
	invited_by_user_id, invited_at, joined_at, left_at, last_active_at`

func scanParticipant(row interface{ Scan(...any) error }) (*Participant, error) {
	var p Participant
	var invitedBy sql.NullString
	var invitedAt, joinedAt, leftAt, lastActiveAt sql.NullInt64
	err := row.Scan(
		&p.SessionID, &p.UserID, &p.Email, &p.DisplayName, &p.Role, &p.Status,
		&invitedBy, &invitedAt, &joinedAt, &leftAt, &lastActiveAt,
	)
	if err != nil {
		return nil, err
	}
	p.InvitedByUserID = StringPtr(invitedBy)
	p.InvitedAt = Int64Ptr(invitedAt)
	p.JoinedAt = Int64Ptr(joinedAt)
	p.LeftAt = Int64Ptr(leftAt)
	p.LastActiveAt = Int64Ptr(lastActiveAt)
	return &p, nil
}

// InsertParticipant inserts a participant row inside tx
func InsertParticipant(tx *sql.Tx, p *Participant) error {
	_, err := tx.Exec(`
		INSERT INTO participants (session_id, user_id, email, display_name, role, status,
			invited_by_user_id, invited_at, joined_at, left_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.SessionID, p.UserID, p.Email, p.DisplayName, p.Role, p.Status,
		NullString(p.InvitedByUserID), NullInt64(p.InvitedAt), NullInt64(p.JoinedAt),
		NullInt64(p.LeftAt), NullInt64(p.LastActiveAt))
	return err
}

// UpdateParticipant rewrites the mutable fields of a participant row inside tx
func UpdateParticipant(tx *sql.Tx, p *Participant) error {
	_, err := tx.Exec(`
		UPDATE participants
		SET email = ?, display_name = ?, role = ?, status = ?,
			invited_by_user_id = ?, invited_at = ?, joined_at = ?, left_at = ?, last_active_at = ?
		WHERE session_id = ? AND user_id = ?
	`, p.Email, p.DisplayName, p.Role, p.Status,
		NullString(p.InvitedByUserID), NullInt64(p.InvitedAt), NullInt64(p.JoinedAt),
		NullInt64(p.LeftAt), NullInt64(p.LastActiveAt),
		p.SessionID, p.UserID)
	return err
}

// RebindParticipant moves a participant row to a new user id inside tx.
// Used when an email-invited placeholder binds to a real principal.
func RebindParticipant(tx *sql.Tx, sessionID, oldUserID, newUserID string) error {
	_, err := tx.Exec(`
		UPDATE participants SET user_id = ? WHERE session_id = ? AND user_id = ?
	`, newUserID, sessionID, oldUserID)
	return err
}

// GetParticipant returns a participant row, nil if absent
func (db *DB) GetParticipant(sessionID, userID string) (*Participant, error) {
	row := db.conn.QueryRow(`
		SELECT `+participantColumns+` FROM participants
		WHERE session_id = ? AND user_id = ?
	`, sessionID, userID)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetParticipantTx is GetParticipant inside a transaction (check+update serialization)
func GetParticipantTx(tx *sql.Tx, sessionID, userID string) (*Participant, error) {
	row := tx.QueryRow(`
		SELECT `+participantColumns+` FROM participants
		WHERE session_id = ? AND user_id = ?
	`, sessionID, userID)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetParticipantByEmail returns the participant row invited under the given
// email, nil if absent.
func GetParticipantByEmailTx(tx *sql.Tx, sessionID, email string) (*Participant, error) {
	row := tx.QueryRow(`
		SELECT `+participantColumns+` FROM participants
		WHERE session_id = ? AND email = ?
	`, sessionID, email)
	p, err := scanParticipant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListParticipants returns the full roster of a session ordered by join time
func (db *DB) ListParticipants(sessionID string) ([]Participant, error) {
	rows, err := db.conn.Query(`
		SELECT `+participantColumns+` FROM participants
		WHERE session_id = ?
		ORDER BY invited_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CountOccupantsTx counts participants that hold a seat (invited or active).
// Participants who left or were removed do not count against maxParticipants.
func CountOccupantsTx(tx *sql.Tx, sessionID string) (int, error) {
	var n int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM participants
		WHERE session_id = ? AND status IN (?, ?)
	`, sessionID, ParticipantInvited, ParticipantActive).Scan(&n)
	return n, err
}

// TouchParticipant updates last_active_at for an active participant
func (db *DB) TouchParticipant(sessionID, userID string) error {
	_, err := db.conn.Exec(`
		UPDATE participants SET last_active_at = ?
		WHERE session_id = ? AND user_id = ? AND status = ?
	`, NowMs(), sessionID, userID, ParticipantActive)
	return err
}
