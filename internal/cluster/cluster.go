// Package cluster provides primary/secondary failure-state synchronization
// across a farm of dispatcher nodes.
//
// This implements a soft clustering mode where:
//   - Primary nodes are polled for their per-destination cooldown table
//   - Secondary nodes periodically fetch and merge that table into their own
//   - All nodes still resolve and dispatch independently
//
// The synchronization is one-way and additive: a secondary only ever
// extends its local cooldowns with what the primary has learned, so a node
// that briefly loses contact with the primary degrades to acting on its
// own observations rather than stalling.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jroosing/sipdispatch/internal/config"
)

// ExportData is the payload a primary node serves from /api/v1/cluster/export.
type ExportData struct {
	// Timestamp is when this export was generated.
	Timestamp time.Time `json:"timestamp"`

	// NodeID is the primary node's identifier.
	NodeID string `json:"node_id"`

	// Cooldowns maps "transport|ip:port" (e.g. "udp|192.0.2.1:5060") to the
	// time its cooldown expires, as
	// tracked by dispatch.Stack.CooldownSnapshot.
	Cooldowns map[string]time.Time `json:"cooldowns"`
}

// SnapshotFunc returns the local Stack's current cooldown table, used on a
// primary node to answer export requests.
type SnapshotFunc func() map[string]time.Time

// ImportFunc merges a fetched cooldown table into the local Stack, used on
// a secondary node after each successful fetch.
type ImportFunc func(cooldowns map[string]time.Time)

// Status represents the current synchronization status.
type Status struct {
	Mode          config.ClusterMode `json:"mode"`
	NodeID        string             `json:"node_id"`
	PrimaryURL    string             `json:"primary_url,omitempty"`
	LastSyncTime  *time.Time         `json:"last_sync_time,omitempty"`
	LastSyncError string             `json:"last_sync_error,omitempty"`
	NextSyncTime  *time.Time         `json:"next_sync_time,omitempty"`
	SyncCount     int64              `json:"sync_count"`
	ErrorCount    int64              `json:"error_count"`
}

// Syncer polls a primary node's cooldown export on an interval and merges
// it into the local dispatcher Stack. Used only in secondary mode.
type Syncer struct {
	cfg        *config.ClusterConfig
	logger     *slog.Logger
	importFunc ImportFunc
	httpClient *http.Client

	mu            sync.RWMutex
	running       bool
	lastSyncTime  *time.Time
	lastSyncError string
	nextSyncTime  *time.Time
	syncCount     int64
	errorCount    int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSyncer creates a cooldown syncer for secondary mode.
func NewSyncer(cfg *config.ClusterConfig, logger *slog.Logger, importFunc ImportFunc) (*Syncer, error) {
	if cfg.Mode != config.ClusterSecondary {
		return nil, fmt.Errorf("cluster: syncer can only be created for secondary mode, got %q", cfg.Mode)
	}
	if cfg.PrimaryURL == "" {
		return nil, fmt.Errorf("cluster: primary_url is required for secondary mode")
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout, err := time.ParseDuration(cfg.SyncTimeout)
	if err != nil || timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Syncer{
		cfg:        cfg,
		logger:     logger,
		importFunc: importFunc,
		httpClient: &http.Client{Timeout: timeout},
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins the periodic fetch loop. Returns once the initial fetch has
// been attempted; the periodic loop continues on its own goroutine.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("cluster: syncer already running")
	}
	s.running = true
	s.mu.Unlock()

	interval, err := time.ParseDuration(s.cfg.SyncInterval)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}

	s.logger.Info("cluster syncer starting",
		"primary_url", s.cfg.PrimaryURL,
		"sync_interval", interval,
		"node_id", s.cfg.NodeID,
	)

	if err := s.doSync(ctx); err != nil {
		s.logger.Warn("initial cluster sync failed, will retry", "err", err)
	}

	go s.runLoop(ctx, interval)
	return nil
}

// Stop halts the periodic fetch loop. Safe to call once, after Start.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("cluster syncer stopped")
}

// Status reports the syncer's current state, for the admin API's /stats endpoint.
func (s *Syncer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Mode:          s.cfg.Mode,
		NodeID:        s.cfg.NodeID,
		PrimaryURL:    s.cfg.PrimaryURL,
		LastSyncTime:  s.lastSyncTime,
		LastSyncError: s.lastSyncError,
		NextSyncTime:  s.nextSyncTime,
		SyncCount:     s.syncCount,
		ErrorCount:    s.errorCount,
	}
}

// ForceSync triggers an immediate fetch-and-merge, bypassing the ticker.
func (s *Syncer) ForceSync(ctx context.Context) error {
	return s.doSync(ctx)
}

func (s *Syncer) runLoop(ctx context.Context, interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		next := time.Now().Add(interval)
		s.mu.Lock()
		s.nextSyncTime = &next
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.doSync(ctx); err != nil {
				s.logger.Warn("cluster sync failed", "err", err)
			}
		}
	}
}

func (s *Syncer) doSync(ctx context.Context) error {
	data, err := s.fetchExport(ctx)
	if err != nil {
		s.recordError(err)
		return fmt.Errorf("cluster: fetch export: %w", err)
	}

	s.importFunc(data.Cooldowns)

	s.recordSuccess()
	s.logger.Debug("cluster sync applied", "primary_node", data.NodeID, "cooldowns", len(data.Cooldowns))
	return nil
}

func (s *Syncer) fetchExport(ctx context.Context) (*ExportData, error) {
	url := s.cfg.PrimaryURL + "/api/v1/cluster/export"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.cfg.SharedSecret != "" {
		req.Header.Set("X-Cluster-Secret", s.cfg.SharedSecret)
	}
	req.Header.Set("Accept", "application/json")
	if s.cfg.NodeID != "" {
		req.Header.Set("X-Node-ID", s.cfg.NodeID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var data ExportData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &data, nil
}

func (s *Syncer) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.lastSyncTime = &now
	s.lastSyncError = ""
	s.syncCount++
}

func (s *Syncer) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncError = err.Error()
	s.errorCount++
}

// BuildExport assembles the payload a primary node serves, from a
// SnapshotFunc over its local Stack.
func BuildExport(nodeID string, snapshot SnapshotFunc) ExportData {
	return ExportData{
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Cooldowns: snapshot(),
	}
}
