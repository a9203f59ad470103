// Package status serves a small HTTP surface reporting bot health and the
// current conversation.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Veraticus/jarvis/internal/conversation"
	"github.com/Veraticus/jarvis/internal/queue"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// StatsProvider reports message processing counters.
type StatsProvider interface {
	Stats() queue.Stats
}

// Server exposes GET /health and GET /session.
type Server struct {
	session conversation.SessionTracker
	stats   StatsProvider
	clock   conversation.Clock
	logger  *slog.Logger
	engine  *gin.Engine
	addr    string
}

// Option configures a Server.
type Option func(*Server)

// WithStats includes dispatcher counters in the health response.
func WithStats(stats StatsProvider) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

// WithClock sets the clock used for timestamps and session activity.
func WithClock(clock conversation.Clock) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, session conversation.SessionTracker, opts ...Option) (*Server, error) {
	if addr == "" {
		return nil, fmt.Errorf("status server creation failed: address is required")
	}
	if session == nil {
		return nil, fmt.Errorf("status server creation failed: session is required")
	}

	s := &Server{
		addr:    addr,
		session: session,
		clock:   conversation.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.setupRouter()

	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(cors.Default())
	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/session", s.currentSession)

	return router
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is canceled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown failed: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": s.clock.Now().Format(time.RFC3339),
	}
	if s.stats != nil {
		body["dispatcher"] = s.stats.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) currentSession(c *gin.Context) {
	snap := s.session.Snapshot()

	var lastActive any
	if !snap.LastActive.IsZero() {
		lastActive = snap.LastActive.Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": snap.ID,
		"last_active":     lastActive,
		"active":          snap.Active(s.clock.Now()),
		"window":          snap.Window.String(),
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("status request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)))
	}
}
