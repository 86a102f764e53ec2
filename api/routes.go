package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes. Everything under /api
// requires authentication; /health and the realtime path manage
// credentials themselves.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	r.GET("/health", h.Health)

	// realtime path authenticates after the upgrade so failures
	// surface as close codes
	r.GET("/rt/:sessionId/*filePath", h.Realtime)

	api := r.Group("/api")
	api.Use(AuthMiddleware(h.Gate))

	// Session routes
	api.GET("/sessions", h.ListSessions)
	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:sessionId", h.GetSession)
	api.PATCH("/sessions/:sessionId", h.UpdateSession)
	api.DELETE("/sessions/:sessionId", h.DeleteSession)
	api.POST("/sessions/:sessionId/participants", h.InviteParticipant)
	api.PUT("/sessions/:sessionId/join", h.JoinSession)
	api.DELETE("/sessions/:sessionId/leave", h.LeaveSession)
	api.PUT("/sessions/:sessionId/transfer-ownership", h.TransferOwnership)
	api.PATCH("/sessions/:sessionId/participants/:userId", h.UpdateParticipantRole)
	api.DELETE("/sessions/:sessionId/participants/:userId", h.RemoveParticipant)

	// File routes - static segments first, wildcard delete last
	api.GET("/files/session/:sessionId", h.ListFiles)
	api.GET("/files/hierarchy/:sessionId", h.FileHierarchy)
	api.GET("/files/content", h.FileContent)
	api.POST("/files/upload", h.UploadFile)
	api.GET("/files/stats/:sessionId", h.FileStats)
	api.DELETE("/files/:sessionId/*path", h.DeleteFile)
}
