package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/fleetwatch/gpu-observer/internal/actions"
	"github.com/fleetwatch/gpu-observer/internal/agent"
	"github.com/fleetwatch/gpu-observer/internal/config"
	agenterrors "github.com/fleetwatch/gpu-observer/internal/errors"
	"github.com/fleetwatch/gpu-observer/internal/health"
	"github.com/fleetwatch/gpu-observer/internal/logging"
	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/internal/poller"
	"github.com/fleetwatch/gpu-observer/internal/snapshot"
	"github.com/fleetwatch/gpu-observer/internal/store"
	"github.com/fleetwatch/gpu-observer/internal/transport"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// credentialsFromEnv resolves a node's SSH auth material at call time.
// A per-node private key path (GPU_OBSERVER_SSH_KEY_<NODE>) takes
// precedence over the shared GPU_OBSERVER_SSH_PASSWORD fallback. Neither
// value is ever logged.
func credentialsFromEnv(node model.NodeDescriptor) transport.Credentials {
	keyEnv := "GPU_OBSERVER_SSH_KEY_" + strings.ToUpper(node.Name)
	if path := os.Getenv(keyEnv); path != "" {
		if pem, err := os.ReadFile(path); err == nil {
			return transport.Credentials{PrivateKeyPEM: pem}
		}
	}
	return transport.Credentials{Password: os.Getenv("GPU_OBSERVER_SSH_PASSWORD")}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the agent config document")
	healthPort := flag.Int("health-port", 8080, "port for the health/metrics server")
	debugEndpoints := flag.Bool("debug-endpoints", false, "enable /debug/* and pprof endpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logOpts := logging.DefaultOptions(cfg.Paths.AgentLogFile)
	_, logCloser := logging.Init(logOpts)
	defer logCloser.Close()

	if cfg.AllowInsecureHostKey {
		slog.Warn("allow_insecure_host_key is enabled; SSH host keys are not verified")
	}

	if cfg.NodesFile == "" {
		cfg.NodesFile = "config/nodes.yaml"
	}
	if cfg.InventoryFile == "" {
		cfg.InventoryFile = "config/gpu_inventory.yaml"
	}

	nodes, err := config.LoadNodes(cfg.NodesFile)
	if err != nil {
		slog.Error("failed to load node inventory", "error", err)
		os.Exit(1)
	}
	inv, err := config.LoadInventory(cfg.InventoryFile)
	if err != nil {
		slog.Error("failed to load GPU inventory", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("gpu-observer agent starting",
		"mode", cfg.Agent.Mode,
		"dry_run", cfg.Agent.DryRun,
		"poll_interval", cfg.PollInterval(),
		"nodes", len(nodes),
	)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{Enabled: false})
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	metrics := observability.NewMetrics()
	errCollector := agenterrors.NewErrorCollector(agenterrors.RealClock{})

	exec := transport.NewExecutor(cfg.AllowInsecureHostKey, credentialsFromEnv, metrics, errCollector)

	idx := store.NewMetricsIndex()
	maxConcurrent := cfg.MaxConcurrentNodes
	if maxConcurrent <= 0 {
		maxConcurrent = len(nodes)
	}
	if maxConcurrent > 32 {
		maxConcurrent = 32
	}

	p, err := poller.New(exec, idx, metrics, maxConcurrent, cfg.Paths.MetricsFile, cfg.Paths.JobsFile, cfg.Paths.LogsDir)
	if err != nil {
		slog.Error("failed to initialize poller", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	builder := snapshot.NewBuilder(cfg.Paths.MetricsFile, cfg.Paths.SnapshotFile, inv, metrics, cfg.DisplayTimezone)

	actionMgr := actions.NewManager(actions.Mode(cfg.Agent.Mode), cfg.Agent.DryRun, nil, metrics)

	ag := agent.New(&cfg, nodes, p, builder, actionMgr, errCollector, metrics)

	healthSrv := health.NewServer(*healthPort, metrics, ag, ag, ag, ag, *debugEndpoints)
	if err := healthSrv.Start(); err != nil {
		slog.Error("failed to start health server", "error", err)
		os.Exit(1)
	}

	memMon := agent.NewMemoryPressureMonitor(0.8, func() { runtime.GC() }, 30*time.Second, nil)
	memMon.Start()

	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "error", err)
	}

	memMon.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}

	slog.Info("gpu-observer agent stopped")
}
