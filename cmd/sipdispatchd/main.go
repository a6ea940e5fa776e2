// Command sipdispatchd runs the SIP client request dispatcher as a
// standalone daemon: it wires configuration, logging, the RFC 3263
// resolution/transport/transaction collaborators, the persistent affinity
// store, the admin REST API, and (in primary/secondary mode) cluster
// cooldown synchronization.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/sipdispatch/internal/api"
	"github.com/jroosing/sipdispatch/internal/cluster"
	"github.com/jroosing/sipdispatch/internal/config"
	"github.com/jroosing/sipdispatch/internal/ctrans"
	"github.com/jroosing/sipdispatch/internal/database"
	"github.com/jroosing/sipdispatch/internal/dispatch"
	"github.com/jroosing/sipdispatch/internal/dnsresolve"
	"github.com/jroosing/sipdispatch/internal/logging"
	"github.com/jroosing/sipdispatch/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath     string
	apiHost        string
	apiPort        int
	jsonLogs       bool
	debug          bool
	clusterMode    string
	clusterPrimary string
	clusterSecret  string
	clusterNodeID  string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file (overrides SIPDISPATCH_CONFIG)")
	flag.StringVar(&f.apiHost, "api-host", "", "Override admin API bind host")
	flag.IntVar(&f.apiPort, "api-port", 0, "Override admin API bind port")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&f.clusterMode, "cluster-mode", "", "Cluster mode: standalone, primary, or secondary")
	flag.StringVar(&f.clusterPrimary, "cluster-primary", "", "Primary node URL for secondary mode")
	flag.StringVar(&f.clusterSecret, "cluster-secret", "", "Shared secret for cluster authentication")
	flag.StringVar(&f.clusterNodeID, "cluster-node-id", "", "Unique node ID (auto-generated if empty)")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.apiHost != "" {
		cfg.API.Host = f.apiHost
	}
	if f.apiPort != 0 {
		cfg.API.Port = f.apiPort
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if f.clusterMode != "" {
		cfg.Cluster.Mode = config.ClusterMode(f.clusterMode)
	}
	if f.clusterPrimary != "" {
		cfg.Cluster.PrimaryURL = f.clusterPrimary
	}
	if f.clusterSecret != "" {
		cfg.Cluster.SharedSecret = f.clusterSecret
	}
	if f.clusterNodeID != "" {
		cfg.Cluster.NodeID = f.clusterNodeID
	}
	if cfg.Cluster.NodeID == "" {
		cfg.Cluster.NodeID = uuid.New().String()[:8]
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("sipdispatchd starting",
		"api_host", cfg.API.Host,
		"api_port", cfg.API.Port,
		"cluster_mode", cfg.Cluster.Mode,
		"node_id", cfg.Cluster.NodeID,
	)

	var affinityStore *database.Store
	if cfg.Affinity.Enabled {
		affinityDB, err := database.Open(cfg.Affinity.DBPath)
		if err != nil {
			return fmt.Errorf("open affinity database: %w", err)
		}
		defer affinityDB.Close()
		affinityStore = database.NewStore(affinityDB, logger)
	}

	resolver, err := dnsresolve.New(dnsresolve.FromConfig(cfg.Resolver))
	if err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}

	transports := transport.New(cfg.Transports, 5*time.Second, nil)
	timers := ctrans.FromConfig(cfg.Timers)
	transactions := ctrans.New(transports, timers)

	cooldownPeriod := 30 * time.Second
	if cfg.Dispatch.CooldownPeriod != "" {
		if d, perr := time.ParseDuration(cfg.Dispatch.CooldownPeriod); perr == nil && d > 0 {
			cooldownPeriod = d
		}
	}

	stackOpts := dispatch.StackOptions{
		Logger:           logger,
		Resolver:         resolver,
		Transport:        transports,
		Ctrans:           transactions,
		DefaultTransport: dispatch.TransportUDP,
		CooldownPeriod:   cooldownPeriod,
		QueueDepth:       cfg.Dispatch.MaxConcurrent,
	}
	if affinityStore != nil {
		stackOpts.Affinity = affinityStore
	}
	stack := dispatch.NewStack(stackOpts)
	stack.Start()
	defer stack.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	apiSrv := api.New(cfg, logger, stack)

	var syncer *cluster.Syncer
	switch cfg.Cluster.Mode {
	case config.ClusterSecondary:
		syncer, err = cluster.NewSyncer(&cfg.Cluster, logger, stack.ImportCooldown)
		if err != nil {
			logger.Error("failed to create cluster syncer", "err", err)
		} else {
			apiSrv.SetClusterSyncer(syncer)
			if err := syncer.Start(ctx); err != nil {
				logger.Error("failed to start cluster syncer", "err", err)
				syncer = nil
			}
		}
	case config.ClusterPrimary:
		logger.Info("cluster mode: serving cooldown export", "node_id", cfg.Cluster.NodeID)
	}

	if cfg.API.Enabled {
		logger.Info("admin API starting", "addr", apiSrv.Addr())
		go func() {
			if serveErr := apiSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("admin API error", "err", serveErr)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if syncer != nil {
		syncer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin API shutdown error", "err", err)
	}

	logger.Info("sipdispatchd stopped")
	return nil
}
