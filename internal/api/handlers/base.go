// Package handlers implements the REST API endpoint handlers for the SIP
// dispatcher's admin surface.
//
// @title SIP Dispatcher Management API
// @version 1.0
// @description REST API for inspecting and controlling a running SIP client request dispatcher: health, load statistics, in-flight requests, and cluster failure-state sync.
//
// @contact.name sipdispatch maintainers
// @contact.url https://github.com/jroosing/sipdispatch
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jroosing/sipdispatch/internal/cluster"
	"github.com/jroosing/sipdispatch/internal/config"
	"github.com/jroosing/sipdispatch/internal/dispatch"
)

// Handler contains dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	logger    *slog.Logger
	startTime time.Time

	mu      sync.RWMutex
	stack   *dispatch.Stack
	syncer  *cluster.Syncer // set only when cfg.Cluster.Mode is secondary
	primary bool            // true when cfg.Cluster.Mode is primary, serving /cluster/export
}

// New creates a new Handler with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Handler {
	h := &Handler{
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
	}
	if cfg != nil {
		h.primary = cfg.Cluster.Mode == config.ClusterPrimary
	}
	return h
}

// SetStack wires the dispatcher Stack whose load the admin API reports on
// and whose in-flight Requests it can list and cancel.
func (h *Handler) SetStack(s *dispatch.Stack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stack = s
}

// GetStack returns the wired Stack, or nil if none has been set yet.
func (h *Handler) GetStack() *dispatch.Stack {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stack
}

// SetClusterSyncer wires the secondary-mode cluster.Syncer whose status the
// /stats endpoint reports.
func (h *Handler) SetClusterSyncer(s *cluster.Syncer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syncer = s
}

// GetClusterSyncer returns the wired Syncer, or nil if this node isn't a
// cluster secondary.
func (h *Handler) GetClusterSyncer() *cluster.Syncer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.syncer
}
