// Package agent wires the poller, snapshot builder, heuristic engine, and
// action manager into the fixed-cadence tick loop.
package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fleetwatch/gpu-observer/internal/actions"
	"github.com/fleetwatch/gpu-observer/internal/config"
	agenterrors "github.com/fleetwatch/gpu-observer/internal/errors"
	"github.com/fleetwatch/gpu-observer/internal/heuristics"
	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/internal/poller"
	"github.com/fleetwatch/gpu-observer/internal/snapshot"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// Agent is the main orchestrator: one goroutine runs the tick loop, each
// tick driving poller -> snapshot builder -> heuristic engine -> action
// manager in sequence.
type Agent struct {
	cfg            *config.Config
	nodes          []model.NodeDescriptor
	poller         *poller.Poller
	builder        *snapshot.Builder
	thresholds     heuristics.Thresholds
	actionMgr      *actions.Manager
	errorCollector *agenterrors.ErrorCollector
	metrics        *observability.Metrics

	latestSnapshot atomic.Pointer[model.ClusterSnapshot]
	latestJobs     atomic.Pointer[[]model.JobDescriptor]
	ready          atomic.Bool
	startedAt      time.Time

	ticksTotal         atomic.Uint64
	ticksFailedNodes   atomic.Uint64
	lastTickDurationMs atomic.Int64
	lastSnapshotMs     atomic.Int64
}

// New creates an Agent with all required dependencies.
func New(
	cfg *config.Config,
	nodes []model.NodeDescriptor,
	p *poller.Poller,
	builder *snapshot.Builder,
	actionMgr *actions.Manager,
	errCollector *agenterrors.ErrorCollector,
	metrics *observability.Metrics,
) *Agent {
	return &Agent{
		cfg:     cfg,
		nodes:   nodes,
		poller:  p,
		builder: builder,
		thresholds: heuristics.Thresholds{
			GPUIdlePercent:        cfg.Thresholds.GPUIdlePercent,
			MinUtilizationPercent: cfg.Thresholds.MinUtilizationPercent,
		},
		actionMgr:      actionMgr,
		errorCollector: errCollector,
		metrics:        metrics,
		startedAt:      time.Now(),
	}
}

// IsReady reports whether the agent has completed at least one tick.
// Implements health.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load()
}

// LatestSnapshot returns the most recent ClusterSnapshot, or nil if none
// has been built yet. Implements health.SnapshotProvider.
func (a *Agent) LatestSnapshot() interface{} {
	snap := a.latestSnapshot.Load()
	if snap == nil {
		return nil
	}
	return snap
}

// LatestJobs returns the jobs discovered on the most recent tick, or nil if
// no tick has completed yet. Implements health.JobsProvider.
func (a *Agent) LatestJobs() []model.JobDescriptor {
	jobs := a.latestJobs.Load()
	if jobs == nil {
		return nil
	}
	return *jobs
}

// Health reports the live diagnostic struct served on /healthz.
func (a *Agent) Health() model.AgentHealth {
	return model.AgentHealth{
		UptimeSeconds:       int64(time.Since(a.startedAt).Seconds()),
		TicksTotal:          a.ticksTotal.Load(),
		TicksFailedNodes:    a.ticksFailedNodes.Load(),
		LastTickDurationMs:  a.lastTickDurationMs.Load(),
		LastSnapshotBuildMs: a.lastSnapshotMs.Load(),
		Mode:                a.cfg.Agent.Mode,
		DryRun:              a.cfg.Agent.DryRun,
		ActiveErrorCodes:    a.errorCollector.GetActiveErrorCodes(),
	}
}

// Run executes the agent lifecycle: an immediate first tick, then a
// ticker-driven loop until ctx is canceled. A tick that overruns the
// configured interval logs a warning and starts the next tick immediately
// rather than queueing. On shutdown, the in-flight tick (bounded by each
// node's per-call timeout) is allowed to finish before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	interval := a.cfg.PollInterval()

	a.doTick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tickStart := time.Now()
		a.doTick(ctx)
		elapsed := time.Since(tickStart)

		if elapsed > interval {
			slog.Warn("agent: tick exceeded poll interval, starting next tick immediately",
				"elapsed", elapsed, "interval", interval)
			if a.metrics != nil {
				a.metrics.AgentTickOverrunTotal.Inc()
			}
			continue
		}
	}
}

// doTick runs one full poll -> snapshot -> heuristics -> actions pass.
func (a *Agent) doTick(ctx context.Context) {
	start := time.Now()
	tickID := uuid.New().String()
	ctx, span := observability.StartSpan(ctx, "agent.tick", attribute.String("tick.id", tickID))
	defer span.End()
	slog.Debug("agent: starting tick", "tick_id", tickID)

	jobList, err := a.poller.Tick(ctx, a.nodes)
	a.latestJobs.Store(&jobList)
	if err != nil {
		var partial *poller.PartialPollError
		if stderrors.As(err, &partial) {
			slog.Warn("agent: some nodes failed to poll, continuing with partial data",
				"failed", partial.Failed, "total", partial.Total)
			a.ticksFailedNodes.Add(uint64(len(partial.Failed)))
		} else {
			slog.Error("agent: tick poll failed entirely", "error", err)
			a.ticksTotal.Add(1)
			a.lastTickDurationMs.Store(time.Since(start).Milliseconds())
			a.ready.Store(true)
			return
		}
	}

	snapStart := time.Now()
	snap, err := a.builder.Build(ctx)
	if err != nil {
		slog.Error("agent: snapshot build failed", "error", err)
		a.errorCollector.Report(agenterrors.AgentError{
			Code:      agenterrors.ErrSnapshotBuildFailed,
			Message:   err.Error(),
			Component: "snapshot",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		})
	} else {
		a.lastSnapshotMs.Store(time.Since(snapStart).Milliseconds())
		a.latestSnapshot.Store(snap)

		if writeErr := a.builder.WriteFile(snap); writeErr != nil {
			slog.Error("agent: failed to write snapshot file", "error", writeErr)
		}

		recs := heuristics.Evaluate(snap, jobList, a.thresholds)
		a.actionMgr.Apply(recs)
	}

	a.ticksTotal.Add(1)
	a.lastTickDurationMs.Store(time.Since(start).Milliseconds())
	a.ready.Store(true)
}
