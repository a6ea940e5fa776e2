package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// ServerStatsResponse contains server runtime statistics.
type ServerStatsResponse struct {
	Uptime        string         `json:"uptime"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     time.Time      `json:"start_time"`
	GoRoutines    int            `json:"goroutines"`
	CPU           CPUStats       `json:"cpu"`
	Memory        MemoryStats    `json:"memory"`
	Dispatch      DispatchStats  `json:"dispatch"`
	Cluster       *ClusterStatus `json:"cluster,omitempty"`
}

// DispatchStats summarizes the dispatcher Stack's current load.
type DispatchStats struct {
	InFlight int `json:"in_flight"`
}

// ClusterStatus reports this node's role and sync state in a dispatcher
// farm, when cluster sync is enabled.
type ClusterStatus struct {
	Mode        string    `json:"mode"`
	NodeID      string    `json:"node_id"`
	LastSync    time.Time `json:"last_sync,omitempty"`
	LastSyncErr string    `json:"last_sync_error,omitempty"`
}

// RequestSummary describes one in-flight dispatcher Request for the
// /requests listing endpoint.
type RequestSummary struct {
	ID                  string `json:"id"`
	Method              string `json:"method"`
	URI                 string `json:"uri"`
	Host                string `json:"host"`
	Transport           string `json:"transport"`
	Stateful            bool   `json:"stateful"`
	ProvisionalReceived bool   `json:"provisional_received"`
	Canceled            bool   `json:"canceled"`
	AgeMs               int64  `json:"age_ms"`
}
