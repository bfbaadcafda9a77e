// Package api exposes the notification core over HTTP and websockets.
//
// The caller's identity is read from the X-User-ID header, which the upstream
// gateway sets after authenticating the request.
package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"notification-hub/internal/clientsync"
	"notification-hub/internal/common/logger"
	"notification-hub/internal/dispatch"
	"notification-hub/internal/models"
	"notification-hub/internal/preferences"
	"notification-hub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbox is the read and mutation surface of inbox.Service.
type Inbox interface {
	List(ctx context.Context, userID string, limit, page int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string) (*models.Notification, bool, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id, userID string) (store.DeleteResult, error)
}

type Dispatcher interface {
	CreateOne(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
	CreateBulk(ctx context.Context, req dispatch.BulkRequest) (dispatch.BulkResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	PageLimit       int
	ResyncBaseWait  time.Duration
	ResyncMaxWait   time.Duration
}

type Deps struct {
	Inbox       Inbox
	Preferences preferences.Store
	Dispatcher  Dispatcher
	Events      clientsync.Subscriber
	Checks      map[string]HealthCheck
}

type Server struct {
	config Config
	deps   Deps
	router *gin.Engine
	http   *http.Server
	logger logger.Logger

	// cancelled on Shutdown; hijacked websocket connections are not tracked by http.Server
	streams     context.Context
	stopStreams context.CancelFunc
}

func NewServer(config Config, deps Deps, log logger.Logger) *Server {
	if config.Address == "" {
		config.Address = ":8080"
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	router := gin.New()
	streams, stopStreams := context.WithCancel(context.Background())
	s := &Server{
		config:      config,
		deps:        deps,
		router:      router,
		logger:      log.WithFields(map[string]interface{}{"component": "http"}),
		streams:     streams,
		stopStreams: stopStreams,
	}
	router.Use(s.recovery(), s.requestLogger())
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              config.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	api.Use(requireUser())
	{
		notifications := api.Group("/notifications")
		{
			notifications.GET("", s.handleList)
			notifications.GET("/unread-count", s.handleUnreadCount)
			notifications.PUT("/read-all", s.handleMarkAllRead)
			notifications.PUT("/:id/read", s.handleMarkRead)
			notifications.DELETE("/:id", s.handleDelete)
			notifications.GET("/stream", s.handleStream)
		}

		api.GET("/preferences", s.handleGetPreferences)
		api.PUT("/preferences", s.handleSetPreferences)
	}

	// called by trusted backends, not end users
	internal := s.router.Group("/api/v1/internal")
	{
		internal.POST("/notifications", s.handleCreate)
		internal.POST("/notifications/bulk", s.handleCreateBulk)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"address": s.config.Address})
	if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones up to the
// configured timeout and then closes every open stream.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	err := s.http.Shutdown(ctx)
	s.stopStreams()
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "service": "notification-hub", "checks": checks})
}
