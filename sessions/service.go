package sessions

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mir-akbar/codecollab/auth"
	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/log"
)

// Service is the authoritative store of sessions and participants and
// the single source of truth for authorization decisions.
type Service struct {
	db    *db.DB
	locks memberLocks
	cache *decisionCache

	subs   []chan Event
	subsMu sync.Mutex
}

// New creates the session service on top of the durable store
func New(database *db.DB) *Service {
	return &Service{
		db:    database,
		cache: newDecisionCache(),
	}
}

// placeholderPrefix marks participant rows invited by email before the
// invitee ever authenticated. The row is rebound to the real userId on
// first join.
const placeholderPrefix = "email:"

func placeholderUserID(email string) string {
	return placeholderPrefix + strings.ToLower(email)
}

const (
	maxNameLen         = 100
	maxDescriptionLen  = 500
	defaultMaxUsers    = 10
	transientRetryWait = 50 * time.Millisecond
)

// SessionDetail is a session plus the caller's membership view.
// Participants is populated only for active members.
type SessionDetail struct {
	db.Session
	MyRole       string           `json:"myRole"`
	MyStatus     string           `json:"myStatus"`
	Participants []db.Participant `json:"participants,omitempty"`
}

// InviteResult reports an invite outcome. AlreadyParticipant marks the
// benign ack path where no state changed.
type InviteResult struct {
	Participant        db.Participant `json:"participant"`
	AlreadyParticipant bool           `json:"alreadyParticipant"`
}

// UpdatePatch carries the mutable session fields. Nil means unchanged.
type UpdatePatch struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Settings    *SettingsPatch `json:"settings"`
}

// SettingsPatch carries the owner-only settings fields
type SettingsPatch struct {
	MaxParticipants   *int      `json:"maxParticipants"`
	AllowSelfInvite   *bool     `json:"allowSelfInvite"`
	AllowRoleRequests *bool     `json:"allowRoleRequests"`
	AllowedDomains    *[]string `json:"allowedDomains"`
}

// CreateSession creates a session with the creator installed as its
// active owner.
func (s *Service) CreateSession(p *auth.Principal, name, description string, settings *db.SessionSettings) (*db.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, E(KindValidation, "session name is required")
	}
	if len(name) > maxNameLen {
		return nil, E(KindValidation, fmt.Sprintf("session name exceeds %d characters", maxNameLen))
	}
	if len(description) > maxDescriptionLen {
		return nil, E(KindValidation, fmt.Sprintf("description exceeds %d characters", maxDescriptionLen))
	}

	st := db.SessionSettings{MaxParticipants: defaultMaxUsers}
	if settings != nil {
		st = *settings
		if st.MaxParticipants == 0 {
			st.MaxParticipants = defaultMaxUsers
		}
	}
	if st.MaxParticipants < 1 {
		return nil, E(KindValidation, "maxParticipants must be at least 1")
	}
	if err := validateDomains(st.AllowedDomains); err != nil {
		return nil, err
	}

	now := db.NowMs()
	sess := &db.Session{
		ID:            uuid.NewString(),
		Name:          name,
		Description:   description,
		CreatorUserID: p.UserID,
		Status:        db.SessionActive,
		Settings:      st,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	owner := &db.Participant{
		SessionID:    sess.ID,
		UserID:       p.UserID,
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		Role:         db.RoleOwner,
		Status:       db.ParticipantActive,
		InvitedAt:    &now,
		JoinedAt:     &now,
		LastActiveAt: &now,
	}

	err := s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			if err := db.InsertSession(tx, sess); err != nil {
				return err
			}
			return db.InsertParticipant(tx, owner)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("session_id", sess.ID).Str("creator", p.UserID).Msg("session created")
	return sess, nil
}

// ListUserSessions lists active sessions the user belongs to,
// filtered by creatorship.
func (s *Service) ListUserSessions(p *auth.Principal, filter string) ([]db.SessionWithRole, error) {
	switch filter {
	case "", db.FilterAll:
		filter = db.FilterAll
	case db.FilterCreated, db.FilterShared:
	default:
		return nil, E(KindValidation, "filter must be all, created or shared")
	}

	var out []db.SessionWithRole
	err := s.withRetry(func() error {
		var err error
		out, err = s.db.ListSessionsForUser(p.UserID, filter)
		return err
	})
	return out, err
}

// GetSession returns a session with the caller's membership view.
// Active members also receive the roster.
func (s *Service) GetSession(p *auth.Principal, sessionID string) (*SessionDetail, error) {
	sess, err := s.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	part, err := s.db.GetParticipant(sessionID, p.UserID)
	if err != nil {
		return nil, err
	}
	if part == nil || part.Status == db.ParticipantRemoved || part.Status == db.ParticipantLeft {
		return nil, E(KindForbidden, "not a participant of this session")
	}

	detail := &SessionDetail{Session: *sess, MyRole: part.Role, MyStatus: part.Status}
	if part.Status == db.ParticipantActive {
		roster, err := s.db.ListParticipants(sessionID)
		if err != nil {
			return nil, err
		}
		detail.Participants = roster
	}
	return detail, nil
}

// UpdateSession patches name, description and settings. Owners and
// admins may rename; only the owner may change settings.
func (s *Service) UpdateSession(p *auth.Principal, sessionID string, patch UpdatePatch) (*db.Session, error) {
	sess, err := s.activeSession(sessionID)
	if err != nil {
		return nil, err
	}
	actor, err := s.activeParticipant(sessionID, p.UserID)
	if err != nil {
		return nil, err
	}
	if !canManageSession(actor.Role) {
		return nil, E(KindForbidden, "only owners and admins may update a session")
	}
	if patch.Settings != nil && actor.Role != db.RoleOwner {
		return nil, E(KindForbidden, "only the owner may change session settings")
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, E(KindValidation, "session name is required")
		}
		if len(name) > maxNameLen {
			return nil, E(KindValidation, fmt.Sprintf("session name exceeds %d characters", maxNameLen))
		}
		sess.Name = name
	}
	if patch.Description != nil {
		if len(*patch.Description) > maxDescriptionLen {
			return nil, E(KindValidation, fmt.Sprintf("description exceeds %d characters", maxDescriptionLen))
		}
		sess.Description = *patch.Description
	}
	if sp := patch.Settings; sp != nil {
		if sp.MaxParticipants != nil {
			if *sp.MaxParticipants < 1 {
				return nil, E(KindValidation, "maxParticipants must be at least 1")
			}
			sess.Settings.MaxParticipants = *sp.MaxParticipants
		}
		if sp.AllowSelfInvite != nil {
			sess.Settings.AllowSelfInvite = *sp.AllowSelfInvite
		}
		if sp.AllowRoleRequests != nil {
			sess.Settings.AllowRoleRequests = *sp.AllowRoleRequests
		}
		if sp.AllowedDomains != nil {
			if err := validateDomains(*sp.AllowedDomains); err != nil {
				return nil, err
			}
			sess.Settings.AllowedDomains = *sp.AllowedDomains
		}
	}

	if err := s.withRetry(func() error { return s.db.UpdateSession(sess) }); err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession soft-deletes a session. Owner only. Live connections
// are closed through the published event.
func (s *Service) DeleteSession(p *auth.Principal, sessionID string) error {
	if _, err := s.activeSession(sessionID); err != nil {
		return err
	}
	actor, err := s.activeParticipant(sessionID, p.UserID)
	if err != nil {
		return err
	}
	if actor.Role != db.RoleOwner {
		return E(KindForbidden, "only the owner may delete a session")
	}

	if err := s.withRetry(func() error { return s.db.SoftDeleteSession(sessionID) }); err != nil {
		return err
	}
	s.publish(Event{Kind: EventSessionDeleted, SessionID: sessionID})
	s.locks.release(sessionID)
	log.Info().Str("session_id", sessionID).Msg("session deleted")
	return nil
}

// InviteParticipant invites a user by email. Inviting someone who is
// already invited or active is a benign ack.
func (s *Service) InviteParticipant(p *auth.Principal, sessionID, email, role string) (*InviteResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, E(KindValidation, "invitee email is invalid")
	}
	if !ValidRole(role) {
		return nil, E(KindValidation, "unknown role "+role)
	}
	if role == db.RoleOwner {
		return nil, E(KindOwnerAssignment, "ownership is granted only by transfer")
	}

	sess, err := s.activeSession(sessionID)
	if err != nil {
		return nil, err
	}
	actor, err := s.activeParticipant(sessionID, p.UserID)
	if err != nil {
		return nil, err
	}
	if !canManageSession(actor.Role) {
		return nil, E(KindForbidden, "only owners and admins may invite")
	}
	if strings.EqualFold(email, p.Email) {
		return nil, E(KindSelfInvite, "cannot invite yourself")
	}
	if !domainAllowed(email, sess.Settings.AllowedDomains) {
		return nil, E(KindDomainNotAllowed, "email domain is not allowed for this session")
	}

	mu := s.locks.acquire(sessionID)
	mu.Lock()
	defer mu.Unlock()

	var result InviteResult
	err = s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			existing, err := db.GetParticipantByEmailTx(tx, sessionID, email)
			if err != nil {
				return err
			}
			if existing != nil {
				switch existing.Status {
				case db.ParticipantActive, db.ParticipantInvited:
					result = InviteResult{Participant: *existing, AlreadyParticipant: true}
					return nil
				case db.ParticipantRemoved:
					return E(KindConflict, "participant was removed from this session")
				case db.ParticipantLeft:
					// a departed participant keeps their row; refresh the
					// invitation so they may rejoin
					now := db.NowMs()
					existing.Role = role
					existing.InvitedByUserID = &p.UserID
					existing.InvitedAt = &now
					if err := db.UpdateParticipant(tx, existing); err != nil {
						return err
					}
					result = InviteResult{Participant: *existing}
					return nil
				}
			}

			occupants, err := db.CountOccupantsTx(tx, sessionID)
			if err != nil {
				return err
			}
			if occupants >= sess.Settings.MaxParticipants {
				return E(KindCapacityReached, "session is at capacity")
			}

			now := db.NowMs()
			invitee := &db.Participant{
				SessionID:       sessionID,
				UserID:          placeholderUserID(email),
				Email:           email,
				DisplayName:     email,
				Role:            role,
				Status:          db.ParticipantInvited,
				InvitedByUserID: &p.UserID,
				InvitedAt:       &now,
			}
			if err := db.InsertParticipant(tx, invitee); err != nil {
				return err
			}
			result = InviteResult{Participant: *invitee}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AcceptInvitation activates the caller's membership. A placeholder
// row invited under the caller's email is bound to their userId here.
// With allowSelfInvite, an uninvited caller from an allowed domain
// joins as viewer. Joining while already active is a benign ack.
func (s *Service) AcceptInvitation(p *auth.Principal, sessionID string) (*db.Participant, error) {
	sess, err := s.activeSession(sessionID)
	if err != nil {
		return nil, err
	}

	mu := s.locks.acquire(sessionID)
	mu.Lock()
	defer mu.Unlock()

	var joined db.Participant
	err = s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			row, err := db.GetParticipantTx(tx, sessionID, p.UserID)
			if err != nil {
				return err
			}
			if row == nil && p.Email != "" {
				byEmail, err := db.GetParticipantByEmailTx(tx, sessionID, strings.ToLower(p.Email))
				if err != nil {
					return err
				}
				if byEmail != nil && strings.HasPrefix(byEmail.UserID, placeholderPrefix) {
					if err := db.RebindParticipant(tx, sessionID, byEmail.UserID, p.UserID); err != nil {
						return err
					}
					byEmail.UserID = p.UserID
					row = byEmail
				}
			}

			now := db.NowMs()
			if row == nil {
				if !sess.Settings.AllowSelfInvite {
					return E(KindNotInvited, "no invitation for this session")
				}
				if !domainAllowed(p.Email, sess.Settings.AllowedDomains) {
					return E(KindDomainNotAllowed, "email domain is not allowed for this session")
				}
				occupants, err := db.CountOccupantsTx(tx, sessionID)
				if err != nil {
					return err
				}
				if occupants >= sess.Settings.MaxParticipants {
					return E(KindCapacityReached, "session is at capacity")
				}
				self := &db.Participant{
					SessionID:    sessionID,
					UserID:       p.UserID,
					Email:        strings.ToLower(p.Email),
					DisplayName:  p.DisplayName,
					Role:         db.RoleViewer,
					Status:       db.ParticipantActive,
					InvitedAt:    &now,
					JoinedAt:     &now,
					LastActiveAt: &now,
				}
				if err := db.InsertParticipant(tx, self); err != nil {
					return err
				}
				joined = *self
				return nil
			}

			switch row.Status {
			case db.ParticipantActive:
				joined = *row
				return nil
			case db.ParticipantInvited, db.ParticipantLeft:
				row.Status = db.ParticipantActive
				row.DisplayName = p.DisplayName
				if p.Email != "" {
					row.Email = strings.ToLower(p.Email)
				}
				if row.JoinedAt == nil {
					row.JoinedAt = &now
				}
				row.LeftAt = nil
				row.LastActiveAt = &now
				if err := db.UpdateParticipant(tx, row); err != nil {
					return err
				}
				joined = *row
				return nil
			default:
				return E(KindNotInvited, "no invitation for this session")
			}
		})
	})
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(p.UserID, sessionID)
	return &joined, nil
}

// LeaveSession marks the caller as departed. Owners must transfer
// ownership first.
func (s *Service) LeaveSession(p *auth.Principal, sessionID string) error {
	if _, err := s.activeSession(sessionID); err != nil {
		return err
	}

	mu := s.locks.acquire(sessionID)
	mu.Lock()
	defer mu.Unlock()

	err := s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			row, err := db.GetParticipantTx(tx, sessionID, p.UserID)
			if err != nil {
				return err
			}
			if row == nil || row.Status != db.ParticipantActive {
				return E(KindNotFound, "not an active participant")
			}
			if row.Role == db.RoleOwner {
				return E(KindOwnerMustTransfer, "transfer ownership before leaving")
			}
			now := db.NowMs()
			row.Status = db.ParticipantLeft
			row.LeftAt = &now
			return db.UpdateParticipant(tx, row)
		})
	})
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventRemoved, SessionID: sessionID, UserIDs: []string{p.UserID}})
	return nil
}

// TransferOwnership atomically demotes the owner to admin and promotes
// the target to owner.
func (s *Service) TransferOwnership(p *auth.Principal, sessionID, newOwnerUserID string) error {
	if _, err := s.activeSession(sessionID); err != nil {
		return err
	}
	actor, err := s.activeParticipant(sessionID, p.UserID)
	if err != nil {
		return err
	}
	if actor.Role != db.RoleOwner {
		return E(KindForbidden, "only the owner may transfer ownership")
	}
	if newOwnerUserID == p.UserID {
		return E(KindValidation, "cannot transfer ownership to yourself")
	}

	mu := s.locks.acquire(sessionID)
	mu.Lock()
	defer mu.Unlock()

	err = s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			owner, err := db.GetParticipantTx(tx, sessionID, p.UserID)
			if err != nil {
				return err
			}
			if owner == nil || owner.Role != db.RoleOwner || owner.Status != db.ParticipantActive {
				return E(KindForbidden, "only the owner may transfer ownership")
			}
			target, err := db.GetParticipantTx(tx, sessionID, newOwnerUserID)
			if err != nil {
				return err
			}
			if target == nil || target.Status != db.ParticipantActive {
				return E(KindTargetNotParticipant, "target is not an active participant")
			}

			// demote first so the one-active-owner index never sees two owners
			owner.Role = db.RoleAdmin
			if err := db.UpdateParticipant(tx, owner); err != nil {
				return err
			}
			target.Role = db.RoleOwner
			return db.UpdateParticipant(tx, target)
		})
	})
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventRoleChanged, SessionID: sessionID, UserIDs: []string{p.UserID, newOwnerUserID}})
	log.Info().Str("session_id", sessionID).Str("from", p.UserID).Str("to", newOwnerUserID).Msg("ownership transferred")
	return nil
}

// UpdateParticipantRole reassigns a participant's role per the
// permission matrix. A participant may request editor or viewer for
// themselves when the session allows role requests.
func (s *Service) UpdateParticipantRole(p *auth.Principal, sessionID, targetUserID, newRole string) error {
	if !ValidRole(newRole) {
		return E(KindValidation, "unknown role "+newRole)
	}
	sess, err := s.activeSession(sessionID)
	if err != nil {
		return err
	}
	actor, err := s.activeParticipant(sessionID, p.UserID)
	if err != nil {
		return err
	}

	mu := s.locks.acquire(sessionID)
	mu.Lock()
	defer mu.Unlock()

	err = s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			target, err := db.GetParticipantTx(tx, sessionID, targetUserID)
			if err != nil {
				return err
			}
			if target == nil || target.Status != db.ParticipantActive {
				return E(KindTargetNotParticipant, "target is not an active participant")
			}

			if targetUserID == p.UserID {
				if !sess.Settings.AllowRoleRequests {
					return E(KindForbidden, "role requests are disabled for this session")
				}
				if newRole != db.RoleEditor && newRole != db.RoleViewer {
					return E(KindRoleAssignment, "only editor or viewer may be requested")
				}
				if actor.Role == db.RoleOwner {
					return E(KindRoleAssignment, "owners must transfer ownership instead")
				}
			} else {
				if !canManageSession(actor.Role) {
					return E(KindForbidden, "only owners and admins may change roles")
				}
				if !canAssignRole(actor.Role, target.Role, newRole) {
					return E(KindRoleAssignment, "role assignment not permitted")
				}
			}

			target.Role = newRole
			return db.UpdateParticipant(tx, target)
		})
	})
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventRoleChanged, SessionID: sessionID, UserIDs: []string{targetUserID}})
	return nil
}

// RemoveParticipant removes a participant. Owners may remove anyone
// but themselves; admins may not remove owners.
func (s *Service) RemoveParticipant(p *auth.Principal, sessionID, targetUserID string) error {
	if _, err := s.activeSession(sessionID); err != nil {
		return err
	}
	actor, err := s.activeParticipant(sessionID, p.UserID)
	if err != nil {
		return err
	}

	mu := s.locks.acquire(sessionID)
	mu.Lock()
	defer mu.Unlock()

	err = s.withRetry(func() error {
		return s.db.Transaction(func(tx *sql.Tx) error {
			target, err := db.GetParticipantTx(tx, sessionID, targetUserID)
			if err != nil {
				return err
			}
			if target == nil {
				return E(KindNotFound, "no such participant")
			}
			if target.Role == db.RoleOwner {
				return E(KindCannotRemoveOwner, "the owner cannot be removed")
			}
			if !canRemove(actor.Role, target.Role) {
				return E(KindForbidden, "only owners and admins may remove participants")
			}
			if target.Status == db.ParticipantRemoved {
				return nil
			}
			now := db.NowMs()
			target.Status = db.ParticipantRemoved
			target.LeftAt = &now
			return db.UpdateParticipant(tx, target)
		})
	})
	if err != nil {
		return err
	}
	s.publish(Event{Kind: EventRemoved, SessionID: sessionID, UserIDs: []string{targetUserID}})
	return nil
}

// Authorize decides whether the user may act on the session at the
// required role. Decisions are cached briefly; the threshold check is
// applied per call against the cached effective role.
func (s *Service) Authorize(userID, sessionID, requiredRole string) Decision {
	d, hit := s.cache.get(userID, sessionID)
	if !hit {
		d = s.decide(userID, sessionID)
		// transient store failures are not worth caching for the full TTL
		if d.DenyKind != KindInternal {
			s.cache.put(userID, sessionID, d)
		}
		if d.Allow {
			if err := s.db.TouchParticipant(sessionID, userID); err != nil {
				log.Debug().Err(err).Msg("participant touch failed")
			}
		}
	}

	if d.Allow && !AtLeast(d.EffectiveRole, requiredRole) {
		return Decision{Allow: false, EffectiveRole: d.EffectiveRole, DenyKind: KindForbidden}
	}
	return d
}

func (s *Service) decide(userID, sessionID string) Decision {
	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("authorize session lookup failed")
		return Decision{DenyKind: KindInternal}
	}
	if sess == nil || sess.Status != db.SessionActive {
		return Decision{DenyKind: KindNotFound}
	}
	part, err := s.db.GetParticipant(sessionID, userID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("authorize participant lookup failed")
		return Decision{DenyKind: KindInternal}
	}
	if part == nil || part.Status != db.ParticipantActive {
		return Decision{DenyKind: KindForbidden}
	}
	return Decision{Allow: true, EffectiveRole: part.Role}
}

// CanEdit reports whether the role may mutate file content
func CanEdit(role string) bool {
	return canEditFiles(role)
}

// activeSession loads a session and rejects missing or deleted ones
func (s *Service) activeSession(sessionID string) (*db.Session, error) {
	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Status != db.SessionActive {
		return nil, E(KindNotFound, "session not found")
	}
	return sess, nil
}

// activeParticipant loads the caller's active membership row
func (s *Service) activeParticipant(sessionID, userID string) (*db.Participant, error) {
	part, err := s.db.GetParticipant(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if part == nil || part.Status != db.ParticipantActive {
		return nil, E(KindForbidden, "not an active participant of this session")
	}
	return part, nil
}

// withRetry runs fn, retrying once when the store reports a transient
// contention error. Kinded errors pass through untouched.
func (s *Service) withRetry(fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) {
		return err
	}
	log.Warn().Err(err).Msg("store transient, retrying once")
	time.Sleep(transientRetryWait)
	return fn()
}

func isTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "busy")
}

// validateDomains applies basic name.tld validation to each entry
func validateDomains(domains []string) error {
	for _, d := range domains {
		if d == "" || !strings.Contains(d, ".") || strings.ContainsAny(d, "@/ ") {
			return E(KindValidation, "invalid domain "+d)
		}
	}
	return nil
}

// domainAllowed checks the invitee's email domain against the session
// allow-list. An empty list means no restriction.
func domainAllowed(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, d := range domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
