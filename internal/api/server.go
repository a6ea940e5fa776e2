// Package api provides the REST management API for the SIP dispatcher.
// It exposes endpoints for health checks, load statistics, in-flight
// request inspection/cancellation, and cluster cooldown sync via a
// Gin-based HTTP server.
//
// Security note: do not expose the API to untrusted networks without
// authentication (cfg.API.APIKey).
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/sipdispatch/internal/api/handlers"
	"github.com/jroosing/sipdispatch/internal/api/middleware"
	"github.com/jroosing/sipdispatch/internal/cluster"
	"github.com/jroosing/sipdispatch/internal/config"
	"github.com/jroosing/sipdispatch/internal/dispatch"
)

// Server is the management REST API server.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *gin.Engine
	handler    *handlers.Handler
	httpServer *http.Server
}

// New builds the API server. stack may be nil if the dispatcher Stack is
// wired in later via SetStack (e.g. because it's constructed after the API
// server during startup).
func New(cfg *config.Config, logger *slog.Logger, stack *dispatch.Stack) *Server {
	if cfg == nil {
		panic("api.New: cfg is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(cfg, logger)
	if stack != nil {
		h.SetStack(stack)
	}
	RegisterRoutes(engine, h, cfg)

	addr := net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: logger, engine: engine, handler: h, httpServer: httpServer}
}

// SetStack wires the dispatcher Stack, for deployments that build the API
// server before the Stack exists.
func (s *Server) SetStack(stack *dispatch.Stack) {
	s.handler.SetStack(stack)
}

// SetClusterSyncer wires a secondary-mode cluster.Syncer, so /stats can
// report its sync status.
func (s *Server) SetClusterSyncer(syncer *cluster.Syncer) {
	s.handler.SetClusterSyncer(syncer)
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
