package db

import (
	"database/sql"
	"strings"
	"time"
)

// SessionStatus values
const (
	SessionActive  = "active"
	SessionDeleted = "deleted"
)

// Participant roles
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// Participant status values
const (
	ParticipantInvited = "invited"
	ParticipantActive  = "active"
	ParticipantLeft    = "left"
	ParticipantRemoved = "removed"
)

// SessionSettings is the owner-controlled policy block of a session
type SessionSettings struct {
	MaxParticipants   int      `json:"maxParticipants"`
	AllowSelfInvite   bool     `json:"allowSelfInvite"`
	AllowRoleRequests bool     `json:"allowRoleRequests"`
	AllowedDomains    []string `json:"allowedDomains"`
}

// Session represents a collaborative session
type Session struct {
	ID            string          `json:"sessionId"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	CreatorUserID string          `json:"creatorUserId"`
	Status        string          `json:"status"`
	Settings      SessionSettings `json:"settings"`
	CreatedAt     int64           `json:"createdAt"`
	UpdatedAt     int64           `json:"updatedAt"`
}

// Participant binds a user to a session with a role and status
type Participant struct {
	SessionID       string  `json:"sessionId"`
	UserID          string  `json:"userId"`
	Email           string  `json:"email"`
	DisplayName     string  `json:"displayName"`
	Role            string  `json:"role"`
	Status          string  `json:"status"`
	InvitedByUserID *string `json:"invitedByUserId,omitempty"`
	InvitedAt       *int64  `json:"invitedAt,omitempty"`
	JoinedAt        *int64  `json:"joinedAt,omitempty"`
	LeftAt          *int64  `json:"leftAt,omitempty"`
	LastActiveAt    *int64  `json:"lastActiveAt,omitempty"`
}

// FileRecord represents a file stored for a session
type FileRecord struct {
	SessionID        string  `json:"sessionId"`
	FilePath         string  `json:"filePath"`
	FileName         string  `json:"fileName"`
	FileType         string  `json:"fileType"`
	ParentFolderPath *string `json:"parentFolderPath,omitempty"`
	Content          []byte  `json:"-"`
	MimeType         string  `json:"mimeType"`
	FileSize         int64   `json:"fileSize"`
	ContentHash      string  `json:"contentHash"`
	IsCompressed     bool    `json:"-"`
	UploadedByUserID string  `json:"uploadedByUserId"`
	CreatedAt        int64   `json:"createdAt"`
	UpdatedAt        int64   `json:"updatedAt"`
}

// NowMs returns the current time as Unix milliseconds (int64)
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// joinDomains flattens the allowed-domains list for storage.
// Empty list means no restriction.
func joinDomains(domains []string) string {
	return strings.Join(domains, ",")
}

// splitDomains restores the allowed-domains list from storage
func splitDomains(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// NullString converts *string to sql.NullString
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts sql.NullString to *string
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// NullInt64 converts *int64 to sql.NullInt64
func NullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// Int64Ptr converts sql.NullInt64 to *int64
func Int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}
