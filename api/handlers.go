package api

import (
	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/auth"
	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/filestore"
	"github.com/mir-akbar/codecollab/rooms"
	"github.com/mir-akbar/codecollab/sessions"
)

// Handlers bundles the services behind the HTTP surface
type Handlers struct {
	Gate     *auth.Gate
	DB       *db.DB
	Sessions *sessions.Service
	Files    *filestore.Store
	Rooms    *rooms.Registry
}

// Health handles GET /health, the only unauthenticated endpoint
func (h *Handlers) Health(c *gin.Context) {
	version, err := h.DB.SchemaVersion()
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{
		"status":        "ok",
		"schemaVersion": version,
		"liveRooms":     h.Rooms.RoomCount(),
	})
}
