// Package server exposes the pipeline over HTTP: chat messages in,
// suggestions and confirmations back, plus the websocket event stream and
// the operational endpoints.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"muse/internal/agents"
	"muse/internal/config"
	"muse/internal/confirm"
	"muse/internal/events"
	"muse/internal/intent"
	"muse/internal/logging"
	"muse/internal/persist"
	"muse/internal/usage"
)

// Deps are the collaborators the server needs.
type Deps struct {
	Catalog    *agents.Catalog
	Detector   *intent.Detector
	Controller *confirm.Controller
	Store      persist.DocumentStore
	Ledger     usage.Ledger
	Bus        *events.Bus
	Events     events.Logger
	Registry   *prometheus.Registry
	Logger     logging.Logger
}

// Server is the HTTP front of the pipeline.
type Server struct {
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     logging.Logger
	startTime  time.Time
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Controller == nil || deps.Detector == nil || deps.Store == nil {
		return nil, fmt.Errorf("server: controller, detector, and store are required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s := &Server{
		deps:   deps,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logging.OrNop(deps.Logger),
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.deps.Registry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	{
		api.POST("/conversations/:id/messages", s.handlePostMessage)
		api.GET("/conversations/:id/messages", s.handleHistory)
		api.GET("/conversations/:id/events", s.handleEventStream)

		api.GET("/suggestions/:id", s.handleGetSuggestion)
		api.POST("/suggestions/:id/confirm", s.handleConfirm)
		api.POST("/suggestions/:id/cancel", s.handleCancel)

		api.GET("/jobs/:id", s.handleGetJob)
		api.GET("/library", s.handleLibrary)
		api.GET("/usage", s.handleUsage)
		api.POST("/navigation", s.handleNavigation)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}
