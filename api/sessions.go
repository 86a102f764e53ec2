package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/sessions"
)

type createSessionRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Settings    *db.SessionSettings `json:"settings"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type transferRequest struct {
	NewOwnerUserID string `json:"newOwnerUserId"`
}

type roleRequest struct {
	Role string `json:"role"`
}

// ListSessions handles GET /api/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	p := principalFrom(c)
	list, err := h.Sessions.ListUserSessions(p, c.Query("filter"))
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []db.SessionWithRole{}
	}
	respondData(c, list)
}

// CreateSession handles POST /api/sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondKind(c, sessions.KindValidation, "invalid request body")
		return
	}
	sess, err := h.Sessions.CreateSession(principalFrom(c), req.Name, req.Description, req.Settings)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, sess)
}

// GetSession handles GET /api/sessions/:sessionId
func (h *Handlers) GetSession(c *gin.Context) {
	detail, err := h.Sessions.GetSession(principalFrom(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, detail)
}

// UpdateSession handles PATCH /api/sessions/:sessionId
func (h *Handlers) UpdateSession(c *gin.Context) {
	var patch sessions.UpdatePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondKind(c, sessions.KindValidation, "invalid request body")
		return
	}
	sess, err := h.Sessions.UpdateSession(principalFrom(c), c.Param("sessionId"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, sess)
}

// DeleteSession handles DELETE /api/sessions/:sessionId. Live rooms
// of the session are purged by the membership event consumer.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.Sessions.DeleteSession(principalFrom(c), c.Param("sessionId")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

// InviteParticipant handles POST /api/sessions/:sessionId/participants
func (h *Handlers) InviteParticipant(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondKind(c, sessions.KindValidation, "invalid request body")
		return
	}
	result, err := h.Sessions.InviteParticipant(principalFrom(c), c.Param("sessionId"), req.Email, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.AlreadyParticipant {
		respondData(c, result)
		return
	}
	respondCreated(c, result)
}

// JoinSession handles PUT /api/sessions/:sessionId/join
func (h *Handlers) JoinSession(c *gin.Context) {
	part, err := h.Sessions.AcceptInvitation(principalFrom(c), c.Param("sessionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, part)
}

// LeaveSession handles DELETE /api/sessions/:sessionId/leave
func (h *Handlers) LeaveSession(c *gin.Context) {
	if err := h.Sessions.LeaveSession(principalFrom(c), c.Param("sessionId")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

// TransferOwnership handles PUT /api/sessions/:sessionId/transfer-ownership
func (h *Handlers) TransferOwnership(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NewOwnerUserID == "" {
		respondKind(c, sessions.KindValidation, "newOwnerUserId is required")
		return
	}
	if err := h.Sessions.TransferOwnership(principalFrom(c), c.Param("sessionId"), req.NewOwnerUserID); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"transferred": true})
}

// UpdateParticipantRole handles PATCH /api/sessions/:sessionId/participants/:userId
func (h *Handlers) UpdateParticipantRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Role == "" {
		respondKind(c, sessions.KindValidation, "role is required")
		return
	}
	if err := h.Sessions.UpdateParticipantRole(principalFrom(c), c.Param("sessionId"), c.Param("userId"), req.Role); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"updated": true})
}

// RemoveParticipant handles DELETE /api/sessions/:sessionId/participants/:userId
func (h *Handlers) RemoveParticipant(c *gin.Context) {
	if err := h.Sessions.RemoveParticipant(principalFrom(c), c.Param("sessionId"), c.Param("userId")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}
