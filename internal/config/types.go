// Package config provides configuration loading for the SIP dispatcher using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the SIPDISPATCH prefix and underscore-separated keys:
//   - SIPDISPATCH_DISPATCH_MAX_CONCURRENT -> dispatch.max_concurrent
//   - SIPDISPATCH_RESOLVER_NAMESERVERS -> resolver.nameservers (comma-separated)
//   - SIPDISPATCH_API_ENABLED -> api.enabled
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode records how the dispatch.workers setting was given. The
// setting is parsed and kept on Config, but cmd/sipdispatchd does not read
// it: the daemon always runs a single dispatcher Stack.
type WorkersMode int

const (
	// WorkersAuto means dispatch.workers was "auto", empty, or not a
	// positive integer.
	WorkersAuto WorkersMode = iota
	// WorkersFixed means dispatch.workers was a positive integer, kept in
	// WorkerSetting.Value.
	WorkersFixed
)

// WorkerSetting represents the dispatcher worker configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// DispatchConfig contains dispatcher-wide settings.
type DispatchConfig struct {
	Workers        WorkerSetting `yaml:"-"               mapstructure:"-"`
	WorkersRaw     string        `yaml:"workers"         mapstructure:"workers"`
	MaxConcurrent  int           `yaml:"max_concurrent"  mapstructure:"max_concurrent"`
	CooldownPeriod string        `yaml:"cooldown_period" mapstructure:"cooldown_period"` // how long a failed (transport, ip:port) destination is deprioritized
}

// TransportConfig describes one SIP transport's availability and DNS identity.
type TransportConfig struct {
	Name        string `yaml:"name"         mapstructure:"name"         json:"name"`
	Enabled     bool   `yaml:"enabled"      mapstructure:"enabled"      json:"enabled"`
	DefaultPort int    `yaml:"default_port" mapstructure:"default_port" json:"default_port"`
	SRVID       string `yaml:"srv_id"       mapstructure:"srv_id"       json:"srv_id"` // "???" = no SRV service for this transport
	IPv4        bool   `yaml:"ipv4"         mapstructure:"ipv4"         json:"ipv4"`
	IPv6        bool   `yaml:"ipv6"         mapstructure:"ipv6"         json:"ipv6"`
}

// ResolverConfig contains settings for the DNS resolution collaborator.
type ResolverConfig struct {
	Nameservers []string `yaml:"nameservers"  mapstructure:"nameservers"  json:"nameservers"`
	QueryTimeout string  `yaml:"query_timeout" mapstructure:"query_timeout" json:"query_timeout"`
	UDPSize     int      `yaml:"udp_size"      mapstructure:"udp_size"      json:"udp_size"`
}

// TimerConfig holds the client-transaction retransmission timers
// (RFC 3261 Timer A/B/E/F). The dispatcher never schedules these itself;
// it only hands them to the ctrans collaborator.
type TimerConfig struct {
	T1 string `yaml:"t1" mapstructure:"t1"` // base retransmission interval
	B  string `yaml:"b"  mapstructure:"b"`  // INVITE transaction timeout (64*T1 default)
	F  string `yaml:"f"  mapstructure:"f"`  // non-INVITE transaction timeout (64*T1 default)
}

// AffinityConfig contains settings for the persistent SRV/A/AAAA affinity store.
type AffinityConfig struct {
	Enabled         bool   `yaml:"enabled"           mapstructure:"enabled"           json:"enabled"`
	DBPath          string `yaml:"db_path"           mapstructure:"db_path"           json:"db_path"`
	CacheMaxEntries int    `yaml:"cache_max_entries" mapstructure:"cache_max_entries" json:"cache_max_entries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// APIConfig contains management API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// ClusterMode describes a node's role in a dispatcher farm.
type ClusterMode string

const (
	ClusterStandalone ClusterMode = "standalone"
	ClusterPrimary    ClusterMode = "primary"
	ClusterSecondary  ClusterMode = "secondary"
)

// ClusterConfig controls per-destination health-state sync across a farm
// of dispatcher nodes (see internal/cluster).
type ClusterConfig struct {
	Mode         ClusterMode `yaml:"mode"          mapstructure:"mode"`
	NodeID       string      `yaml:"node_id"       mapstructure:"node_id"`
	PrimaryURL   string      `yaml:"primary_url"   mapstructure:"primary_url"`
	SharedSecret string      `yaml:"shared_secret" mapstructure:"shared_secret"`
	SyncInterval string      `yaml:"sync_interval" mapstructure:"sync_interval"`
	SyncTimeout  string      `yaml:"sync_timeout"  mapstructure:"sync_timeout"`
}

// Config is the root configuration structure.
type Config struct {
	Dispatch   DispatchConfig    `yaml:"dispatch"   mapstructure:"dispatch"`
	Transports []TransportConfig `yaml:"transports" mapstructure:"transports"`
	Resolver   ResolverConfig    `yaml:"resolver"   mapstructure:"resolver"`
	Timers     TimerConfig       `yaml:"timers"     mapstructure:"timers"`
	Affinity   AffinityConfig    `yaml:"affinity"   mapstructure:"affinity"`
	Logging    LoggingConfig     `yaml:"logging"    mapstructure:"logging"`
	API        APIConfig         `yaml:"api"        mapstructure:"api"`
	Cluster    ClusterConfig     `yaml:"cluster"    mapstructure:"cluster"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("SIPDISPATCH_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (SIPDISPATCH_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
