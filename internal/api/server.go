// Package api implements the read-only REST API that reports bridge status
// and the button event history.
package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/casetalink/casetalink/internal/config"
	"github.com/casetalink/casetalink/internal/connector"
	"github.com/casetalink/casetalink/internal/db"
	"github.com/casetalink/casetalink/internal/network"
	"github.com/casetalink/casetalink/internal/util"
)

// StatusSource reports the live bridge connection.
type StatusSource interface {
	Status() connector.BridgeStatus
}

// History serves journaled button events.
type History interface {
	Recent(limit int, remote int) ([]db.Entry, error)
	Remotes() ([]db.RemoteSummary, error)
	Stats() (db.JournalStats, error)
}

// Server is the REST API server for casetalink.
type Server struct {
	cfg     config.APIConfig
	bridge  StatusSource
	history History // nil when the journal is disabled
	dataDir string
	logger  zerolog.Logger

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. history may be nil.
func NewServer(cfg *config.Config, bridge StatusSource, history History) *Server {
	// Set Gin mode based on log level
	if cfg.GetLogging().Level == "debug" || cfg.GetLogging().Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg.GetAPI(),
		bridge:  bridge,
		history: history,
		dataDir: filepath.Dir(cfg.GetJournal().Path),
		logger:  util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listener with SO_REUSEADDR for immediate rebinding after restart
	ln, err := network.Listen(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(s.cfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
	}

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/events", s.handleEvents)
		api.GET("/remotes", s.handleRemotes)
		api.GET("/system", s.handleSystem)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
