// Command poller runs the remote GPU/host telemetry poll in isolation,
// without the full agent loop — useful for one-off diagnostics or for
// driving the poll on an externally managed schedule.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fleetwatch/gpu-observer/internal/config"
	agenterrors "github.com/fleetwatch/gpu-observer/internal/errors"
	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/internal/poller"
	"github.com/fleetwatch/gpu-observer/internal/store"
	"github.com/fleetwatch/gpu-observer/internal/transport"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

func main() {
	configPath := flag.String("config", "config/nodes.yaml", "path to the node inventory document")
	outputPath := flag.String("output", "data/metrics.jsonl", "path to the metrics log to append to")
	jobsPath := flag.String("jobs-output", "data/jobs.jsonl", "path to the jobs log to rewrite")
	logsDir := flag.String("logs-dir", "data/logs", "directory training jobs write their own logs under")
	once := flag.Bool("once", false, "run a single tick and exit 0")
	intervalSecs := flag.Int("interval", 0, "poll interval in seconds (required unless --once)")
	allowInsecureHostKey := flag.Bool("allow-insecure-host-key", true, "skip SSH host key verification")
	flag.Parse()

	if !*once && *intervalSecs <= 0 {
		slog.Error("--interval must be a positive integer when --once is not set")
		os.Exit(1)
	}

	nodes, err := config.LoadNodes(*configPath)
	if err != nil {
		slog.Error("failed to load node inventory", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	errCollector := agenterrors.NewErrorCollector(agenterrors.RealClock{})
	exec := transport.NewExecutor(*allowInsecureHostKey, credentialsFromEnv, metrics, errCollector)
	idx := store.NewMetricsIndex()

	p, err := poller.New(exec, idx, metrics, len(nodes), *outputPath, *jobsPath, *logsDir)
	if err != nil {
		slog.Error("failed to initialize poller", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		if _, err := p.Tick(ctx, nodes); err != nil {
			slog.Error("tick failed", "error", err)
		}
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	ticker := time.NewTicker(time.Duration(*intervalSecs) * time.Second)
	defer ticker.Stop()

	if _, err := p.Tick(ctx, nodes); err != nil {
		slog.Error("tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx, nodes); err != nil {
				slog.Error("tick failed", "error", err)
			}
		}
	}
}

func credentialsFromEnv(node model.NodeDescriptor) transport.Credentials {
	keyEnv := "GPU_OBSERVER_SSH_KEY_" + strings.ToUpper(node.Name)
	if path := os.Getenv(keyEnv); path != "" {
		if pem, err := os.ReadFile(path); err == nil {
			return transport.Credentials{PrivateKeyPEM: pem}
		}
	}
	return transport.Credentials{Password: os.Getenv("GPU_OBSERVER_SSH_PASSWORD")}
}
