package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/sessions"
)

// Response is the envelope every JSON endpoint returns
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody carries the stable error kind plus a human message
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// respondData sends a 200 with the payload wrapped in the envelope
func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// respondCreated sends a 201 for newly created resources
func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// respondNoContent sends a bare 204, used for DELETE
func respondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// respondError maps a service error onto its HTTP status. Unknown
// errors surface as Internal without leaking detail.
func respondError(c *gin.Context, err error) {
	kind := sessions.KindOf(err)
	message := err.Error()
	if kind == sessions.KindInternal {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		message = "internal error"
	}
	c.JSON(statusForKind(kind), Response{
		Success: false,
		Error:   &ErrorBody{Kind: string(kind), Message: message},
	})
}

// respondKind reports an error without a wrapped service error
func respondKind(c *gin.Context, kind sessions.Kind, message string) {
	c.JSON(statusForKind(kind), Response{
		Success: false,
		Error:   &ErrorBody{Kind: string(kind), Message: message},
	})
}

func statusForKind(kind sessions.Kind) int {
	switch kind {
	case sessions.KindValidation:
		return http.StatusBadRequest
	case sessions.KindUnauthenticated:
		return http.StatusUnauthorized
	case sessions.KindForbidden, sessions.KindOwnerMustTransfer, sessions.KindRoleAssignment,
		sessions.KindOwnerAssignment, sessions.KindSelfInvite, sessions.KindDomainNotAllowed,
		sessions.KindNotInvited, sessions.KindCannotRemoveOwner:
		return http.StatusForbidden
	case sessions.KindNotFound, sessions.KindTargetNotParticipant:
		return http.StatusNotFound
	case sessions.KindConflict, sessions.KindCapacityReached:
		return http.StatusConflict
	case sessions.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case sessions.KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case sessions.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
