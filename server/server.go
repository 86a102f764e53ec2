package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/mir-akbar/codecollab/api"
	"github.com/mir-akbar/codecollab/auth"
	"github.com/mir-akbar/codecollab/config"
	"github.com/mir-akbar/codecollab/db"
	"github.com/mir-akbar/codecollab/filestore"
	"github.com/mir-akbar/codecollab/log"
	"github.com/mir-akbar/codecollab/rooms"
	"github.com/mir-akbar/codecollab/sessions"
)

// Server owns and coordinates all application components
type Server struct {
	cfg *config.Config

	database   *db.DB
	gate       *auth.Gate
	sessionSvc *sessions.Service
	fileStore  *filestore.Store
	registry   *rooms.Registry

	// Shutdown context - cancelled when the server is shutting down.
	// Long-running handlers listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	events     <-chan sessions.Event
	eventsDone chan struct{}

	router *gin.Engine
	http   *http.Server
}

// New creates a server with all components initialized
func New() (*Server, error) {
	cfg := config.Get()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		eventsDone:     make(chan struct{}),
	}

	log.Info().Msg("initializing database")
	if err := os.MkdirAll(cfg.StoreURI, 0o755); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	database, err := db.Open(cfg.DatabasePath())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.database = database

	log.Info().Msg("initializing auth gate")
	gate, err := auth.GetGate()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to configure auth gate: %w", err)
	}
	s.gate = gate

	s.sessionSvc = sessions.New(database)
	s.fileStore = filestore.New(database)
	s.registry = rooms.NewRegistry(s.fileStore)
	s.events = s.sessionSvc.Subscribe()

	s.setupRouter()

	log.Info().Msg("server initialized")
	return s, nil
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	if s.cfg.IsDevelopment() {
		s.router.Use(corsMiddleware())
	} else {
		s.router.Use(securityHeadersMiddleware())
	}

	// Gzip compression; the realtime path upgrades the connection
	// and must stay untouched
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{
		"^/rt/.*",
	})))

	s.router.SetTrustedProxies(nil)

	// Ignore .well-known requests (Chrome DevTools, etc.)
	s.router.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	api.SetupRoutes(s.router, &api.Handlers{
		Gate:     s.gate,
		DB:       s.database,
		Sessions: s.sessionSvc,
		Files:    s.fileStore,
		Rooms:    s.registry,
	})
}

// consumeEvents applies membership changes to live realtime
// connections: revoked users are closed with 4403, demoted users keep
// their connection at the new role.
func (s *Server) consumeEvents() {
	defer close(s.eventsDone)
	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		case ev := <-s.events:
			switch ev.Kind {
			case sessions.EventSessionDeleted:
				s.registry.PurgeSession(ev.SessionID)
			case sessions.EventRemoved:
				for _, uid := range ev.UserIDs {
					s.registry.KickSessionUser(ev.SessionID, uid, rooms.CloseForbidden, "access revoked")
				}
			case sessions.EventRoleChanged:
				for _, uid := range ev.UserIDs {
					d := s.sessionSvc.Authorize(uid, ev.SessionID, db.RoleViewer)
					if !d.Allow {
						s.registry.KickSessionUser(ev.SessionID, uid, rooms.CloseForbidden, "access revoked")
					} else {
						s.registry.UpdateSessionUserRole(ev.SessionID, uid, d.EffectiveRole)
					}
				}
			}
		}
	}
}

// Start launches background workers and the HTTP server (blocks)
func (s *Server) Start() error {
	log.Info().Msg("starting server components")

	s.registry.StartSweeper()
	go s.consumeEvents()

	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(),
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Env).
		Msg("HTTP server starting")

	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server: realtime subscribers are
// closed with 1001, dirty rooms flushed, then HTTP drains and the
// database closes.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	s.shutdownCancel()
	// let hijacked handlers observe the cancellation first
	time.Sleep(100 * time.Millisecond)

	s.registry.Shutdown()

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	<-s.eventsDone

	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
			return err
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// corsMiddleware relaxes origins for development frontends
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", c.Request.Header.Get("Origin"))
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// securityHeadersMiddleware adds security headers for production
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "SAMEORIGIN")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
