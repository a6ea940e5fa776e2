// Package config provides configuration loading and validation for the SIP
// client request dispatcher.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/sipdispatchd/main.go)
//  2. Environment variables (SIPDISPATCH_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// Environment variables are mapped from SIPDISPATCH_CATEGORY_SETTING format,
// e.g., SIPDISPATCH_API_PORT maps to api.port in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// DefaultTransports is the fixed UDP < TCP < TLS < WS < WSS preference order
// used when no transports section is present in the config file.
func DefaultTransports() []TransportConfig {
	return []TransportConfig{
		{Name: "udp", Enabled: true, DefaultPort: 5060, SRVID: "_sip._udp", IPv4: true, IPv6: true},
		{Name: "tcp", Enabled: true, DefaultPort: 5060, SRVID: "_sip._tcp", IPv4: true, IPv6: true},
		{Name: "tls", Enabled: true, DefaultPort: 5061, SRVID: "_sips._tcp", IPv4: true, IPv6: true},
		{Name: "ws", Enabled: true, DefaultPort: 80, SRVID: "_sip._ws", IPv4: true, IPv6: true},
		{Name: "wss", Enabled: true, DefaultPort: 443, SRVID: "_sips._wss", IPv4: true, IPv6: true},
	}
}

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variable binding
	// Uses SIPDISPATCH prefix: SIPDISPATCH_API_PORT -> api.port
	v.SetEnvPrefix("SIPDISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Dispatcher defaults
	v.SetDefault("dispatch.workers", "auto")
	v.SetDefault("dispatch.max_concurrent", 0)
	v.SetDefault("dispatch.cooldown_period", "30s")

	// Resolver defaults
	v.SetDefault("resolver.nameservers", []string{})
	v.SetDefault("resolver.query_timeout", "5s")
	v.SetDefault("resolver.udp_size", 4096)

	// Timer defaults (RFC 3261 §17.1.1.1/§17.1.2.2, T1 = 500ms)
	v.SetDefault("timers.t1", "500ms")
	v.SetDefault("timers.b", "32s")
	v.SetDefault("timers.f", "32s")

	// Affinity store defaults
	v.SetDefault("affinity.enabled", true)
	v.SetDefault("affinity.db_path", "sipdispatch.db")
	v.SetDefault("affinity.cache_max_entries", 4096)

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Management API defaults
	// Default to disabled and bound to localhost for safety.
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")

	// Cluster defaults
	v.SetDefault("cluster.mode", string(ClusterStandalone))
	v.SetDefault("cluster.node_id", "")
	v.SetDefault("cluster.primary_url", "")
	v.SetDefault("cluster.shared_secret", "")
	v.SetDefault("cluster.sync_interval", "30s")
	v.SetDefault("cluster.sync_timeout", "10s")
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadDispatchConfig(v, cfg)
	loadTransportsConfig(v, cfg)
	loadResolverConfig(v, cfg)
	loadTimerConfig(v, cfg)
	loadAffinityConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadAPIConfig(v, cfg)
	loadClusterConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDispatchConfig(v *viper.Viper, cfg *Config) {
	cfg.Dispatch.MaxConcurrent = v.GetInt("dispatch.max_concurrent")
	cfg.Dispatch.CooldownPeriod = v.GetString("dispatch.cooldown_period")
	cfg.Dispatch.WorkersRaw = v.GetString("dispatch.workers")
	cfg.Dispatch.Workers = parseWorkers(cfg.Dispatch.WorkersRaw)
}

func loadTransportsConfig(v *viper.Viper, cfg *Config) {
	if v.IsSet("transports") {
		var tcs []TransportConfig
		if err := v.UnmarshalKey("transports", &tcs); err == nil && len(tcs) > 0 {
			cfg.Transports = tcs
			return
		}
	}
	cfg.Transports = DefaultTransports()
}

func loadResolverConfig(v *viper.Viper, cfg *Config) {
	cfg.Resolver.Nameservers = getStringSliceOrSplit(v, "resolver.nameservers")
	cfg.Resolver.QueryTimeout = v.GetString("resolver.query_timeout")
	cfg.Resolver.UDPSize = v.GetInt("resolver.udp_size")
}

func loadTimerConfig(v *viper.Viper, cfg *Config) {
	cfg.Timers.T1 = v.GetString("timers.t1")
	cfg.Timers.B = v.GetString("timers.b")
	cfg.Timers.F = v.GetString("timers.f")
}

func loadAffinityConfig(v *viper.Viper, cfg *Config) {
	cfg.Affinity.Enabled = v.GetBool("affinity.enabled")
	cfg.Affinity.DBPath = v.GetString("affinity.db_path")
	cfg.Affinity.CacheMaxEntries = v.GetInt("affinity.cache_max_entries")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

func loadClusterConfig(v *viper.Viper, cfg *Config) {
	cfg.Cluster.Mode = ClusterMode(v.GetString("cluster.mode"))
	cfg.Cluster.NodeID = v.GetString("cluster.node_id")
	cfg.Cluster.PrimaryURL = v.GetString("cluster.primary_url")
	cfg.Cluster.SharedSecret = v.GetString("cluster.shared_secret")
	cfg.Cluster.SyncInterval = v.GetString("cluster.sync_interval")
	cfg.Cluster.SyncTimeout = v.GetString("cluster.sync_timeout")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// getStringSliceOrSplit handles both slice and comma-separated string values.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		result := make([]string, 0, len(slice))
		for _, s := range slice {
			for _, p := range strings.Split(s, ",") {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
		}
		return result
	}
	if s := v.GetString(key); s != "" {
		parts := strings.Split(s, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return nil
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if len(cfg.Transports) == 0 {
		cfg.Transports = DefaultTransports()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Affinity.DBPath == "" {
		cfg.Affinity.DBPath = "sipdispatch.db"
	}
	if cfg.Affinity.CacheMaxEntries <= 0 {
		cfg.Affinity.CacheMaxEntries = 4096
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	switch cfg.Cluster.Mode {
	case "", ClusterStandalone, ClusterPrimary, ClusterSecondary:
	default:
		return fmt.Errorf("cluster.mode %q is not one of standalone, primary, secondary", cfg.Cluster.Mode)
	}
	if cfg.Cluster.Mode == ClusterSecondary && cfg.Cluster.PrimaryURL == "" {
		return errors.New("cluster.primary_url is required in secondary mode")
	}

	return nil
}
