package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/sessions"
)

func TestStatusForKind(t *testing.T) {
	cases := []struct {
		kind sessions.Kind
		want int
	}{
		{sessions.KindValidation, http.StatusBadRequest},
		{sessions.KindUnauthenticated, http.StatusUnauthorized},
		{sessions.KindForbidden, http.StatusForbidden},
		{sessions.KindOwnerMustTransfer, http.StatusForbidden},
		{sessions.KindRoleAssignment, http.StatusForbidden},
		{sessions.KindOwnerAssignment, http.StatusForbidden},
		{sessions.KindSelfInvite, http.StatusForbidden},
		{sessions.KindDomainNotAllowed, http.StatusForbidden},
		{sessions.KindNotInvited, http.StatusForbidden},
		{sessions.KindCannotRemoveOwner, http.StatusForbidden},
		{sessions.KindNotFound, http.StatusNotFound},
		{sessions.KindTargetNotParticipant, http.StatusNotFound},
		{sessions.KindConflict, http.StatusConflict},
		{sessions.KindCapacityReached, http.StatusConflict},
		{sessions.KindTooLarge, http.StatusRequestEntityTooLarge},
		{sessions.KindUnsupportedMediaType, http.StatusUnsupportedMediaType},
		{sessions.KindRateLimited, http.StatusTooManyRequests},
		{sessions.KindInternal, http.StatusInternalServerError},
		{sessions.Kind("SomethingNew"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusForKind(c.kind); got != c.want {
			t.Errorf("statusForKind(%s) = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestRespondError_KindedError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/sessions/x", nil)

	respondError(c, sessions.E(sessions.KindCapacityReached, "session is at capacity"))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Success || body.Error == nil {
		t.Fatalf("expected error envelope, got %+v", body)
	}
	if body.Error.Kind != string(sessions.KindCapacityReached) || body.Error.Message != "session is at capacity" {
		t.Errorf("unexpected error body: %+v", body.Error)
	}
}

func TestRespondError_HidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)

	respondError(c, sqlLikeError("connection reset by peer on sqlite handle 0x7f"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	var body Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == nil || body.Error.Message != "internal error" {
		t.Errorf("internal detail must not leak: %+v", body.Error)
	}
}

type sqlLikeError string

func (e sqlLikeError) Error() string { return string(e) }
