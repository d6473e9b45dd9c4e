// Package poller runs one bounded, per-tick fan-out across configured nodes:
// fetch GPU and host telemetry, append metrics records, and discover running
// training jobs.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fleetwatch/gpu-observer/internal/jobs"
	"github.com/fleetwatch/gpu-observer/internal/metricsparser"
	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/internal/store"
	"github.com/fleetwatch/gpu-observer/internal/transport"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

const (
	gpuQueryCommand = "nvidia-smi --query-gpu=utilization.gpu,memory.used,memory.total,temperature.gpu,power.draw --format=csv,noheader,nounits"

	hostStatsCommand = "top -bn1 | grep '%Cpu(s)' | awk '{print 100 - $8}'; free -m | grep Mem | awk '{print $3, $2}'"

	// gpuQueryTimeout is the heavier of the two polling calls; hostStatsTimeout
	// matches the fast-command default used elsewhere (job discovery's pgrep,
	// ps, and tail calls).
	gpuQueryTimeout  = 10 * time.Second
	hostStatsTimeout = 3 * time.Second
)

// Executor is the subset of transport.Executor the poller needs, narrowed so
// it can be faked in tests.
type Executor interface {
	Execute(ctx context.Context, node model.NodeDescriptor, command string, timeout time.Duration) (transport.Result, error)
}

// PartialPollError is returned when some (but not all) nodes fail to poll in
// a single tick. Modeled on the source's collector registry's partial-start
// reporting: callers distinguish partial from total failure with errors.As.
type PartialPollError struct {
	Failed []string
	Total  int
}

func (e *PartialPollError) Error() string {
	return fmt.Sprintf("%d of %d nodes failed to poll: %v", len(e.Failed), e.Total, e.Failed)
}

// Poller fans out across nodes each tick, bounded by a worker-pool semaphore,
// and maintains the metrics log, jobs log, and in-memory metrics index.
type Poller struct {
	executor      Executor
	index         *store.MetricsIndex
	metrics       *observability.Metrics
	maxConcurrent int

	metricsPath string
	jobsPath    string
	logsDir     string

	fileMu      sync.Mutex
	metricsFile *os.File
}

// New creates a Poller writing to metricsPath/jobsPath. maxConcurrent bounds
// the number of nodes polled at once; values <= 0 are treated as 1. logsDir
// is the directory training jobs write their own logs under, used to derive
// each discovered job's log path from its session name.
func New(executor Executor, index *store.MetricsIndex, metrics *observability.Metrics, maxConcurrent int, metricsPath, jobsPath, logsDir string) (*Poller, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	if err := os.MkdirAll(filepath.Dir(metricsPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating metrics log directory: %w", err)
	}
	f, err := os.OpenFile(metricsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics log: %w", err)
	}

	return &Poller{
		executor:      executor,
		index:         index,
		metrics:       metrics,
		maxConcurrent: maxConcurrent,
		metricsPath:   metricsPath,
		jobsPath:      jobsPath,
		logsDir:       logsDir,
		metricsFile:   f,
	}, nil
}

// Close releases the poller's open metrics log handle.
func (p *Poller) Close() error {
	return p.metricsFile.Close()
}

// Tick polls every node in parallel, bounded by the worker pool, appends
// metrics records, rewrites the jobs log, and returns the discovered jobs.
// A *PartialPollError is returned when some nodes fail; a plain error is
// returned only when every node fails.
func (p *Poller) Tick(ctx context.Context, nodes []model.NodeDescriptor) ([]model.JobDescriptor, error) {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(p.metricsPath), 0o755); err != nil {
		slog.Error("poller: failed to ensure metrics log directory exists", "error", err)
	}

	sem := make(chan struct{}, p.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed []string
	var allJobs []model.JobDescriptor

	for _, node := range nodes {
		wg.Add(1)
		sem <- struct{}{}
		go func(node model.NodeDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()

			nodeJobs, ok := p.pollNode(ctx, node)

			mu.Lock()
			if !ok {
				failed = append(failed, node.Name)
			} else {
				allJobs = append(allJobs, nodeJobs...)
			}
			mu.Unlock()

			if !ok && p.metrics != nil {
				p.metrics.PollNodesFailedTotal.Inc()
			}
		}(node)
	}
	wg.Wait()

	allJobs = dedupeSessions(allJobs)

	if err := writeJobsFile(p.jobsPath, allJobs); err != nil {
		slog.Error("poller: failed to write jobs log", "error", err)
	}

	if p.metrics != nil {
		p.metrics.PollTickDuration.Observe(time.Since(start).Seconds())
		p.metrics.JobsDiscoveredTotal.Add(float64(len(allJobs)))
		p.metrics.StoreItems.WithLabelValues("gpu_metrics_series").Set(float64(p.index.Len()))
	}

	if len(nodes) > 0 && len(failed) == len(nodes) {
		return allJobs, fmt.Errorf("all %d nodes failed to poll", len(nodes))
	}
	if len(failed) > 0 {
		return allJobs, &PartialPollError{Failed: failed, Total: len(nodes)}
	}
	return allJobs, nil
}

// pollNode fetches GPU and host telemetry for one node, appends its metrics
// records, and discovers its running jobs. ok is false only when the poll
// itself should count as a node failure (GPU query failure, or a metrics
// append failure partway through).
func (p *Poller) pollNode(ctx context.Context, node model.NodeDescriptor) ([]model.JobDescriptor, bool) {
	gpuRes, err := p.executor.Execute(ctx, node, gpuQueryCommand, gpuQueryTimeout)
	if err != nil {
		slog.Warn("poller: gpu query failed", "node", node.Name, "error", err)
		return nil, false
	}
	lines := metricsparser.ParseGPUQuery(gpuRes.Stdout)

	if node.GPUCount > 0 && len(lines) != node.GPUCount {
		slog.Warn("poller: parsed gpu count differs from configured gpu_count",
			"node", node.Name, "expected", node.GPUCount, "actual", len(lines))
	}

	var host *model.HostStats
	if hostRes, err := p.executor.Execute(ctx, node, hostStatsCommand, hostStatsTimeout); err != nil {
		slog.Warn("poller: host stats call failed", "node", node.Name, "error", err)
	} else if stats, ok := metricsparser.ParseHostStats(hostRes.Stdout); ok {
		host = stats
	} else {
		slog.Warn("poller: host stats output unparseable", "node", node.Name)
	}

	// Fixed-width nanosecond precision: RFC3339Nano trims trailing fractional
	// zeros, which breaks lexicographic sort ordering for timestamps that
	// land in the same integer second ("...01Z" sorts after "...01.5Z").
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z")
	for i, line := range lines {
		rec := model.MetricsRecord{
			Schema:      model.SchemaMetricsV1,
			Timestamp:   ts,
			Node:        node.Name,
			GPUIndex:    i,
			UtilPercent: line.UtilPercent,
			MemUsedMB:   line.MemUsedMB,
			MemTotalMB:  line.MemTotalMB,
			TempC:       line.TempC,
			PowerW:      line.PowerW,
			Host:        host,
		}

		if err := p.appendMetricsRecord(rec); err != nil {
			slog.Error("poller: failed to append metrics record", "node", node.Name, "gpu_index", i, "error", err)
			return nil, false
		}

		p.index.PutIfNewer(rec)
		if p.metrics != nil {
			p.metrics.MetricsRecordsTotal.Inc()
		}
	}

	return jobs.Discover(ctx, p.executor, node, p.logsDir), true
}

func (p *Poller) appendMetricsRecord(rec model.MetricsRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling metrics record: %w", err)
	}
	data = append(data, '\n')

	p.fileMu.Lock()
	defer p.fileMu.Unlock()

	if _, err := p.metricsFile.Write(data); err != nil {
		return fmt.Errorf("writing metrics record: %w", err)
	}
	return p.metricsFile.Sync()
}

// dedupeSessions drops later job descriptors sharing a (node, session) pair
// with one already kept, logging a warning — jobs.jsonl must contain no two
// records with the same session for the same node.
func dedupeSessions(jobList []model.JobDescriptor) []model.JobDescriptor {
	seen := make(map[string]bool, len(jobList))
	out := make([]model.JobDescriptor, 0, len(jobList))
	for _, j := range jobList {
		key := j.Node + "|" + j.Session
		if seen[key] {
			slog.Warn("poller: dropping duplicate job session", "node", j.Node, "session", j.Session, "pid", j.PID)
			continue
		}
		seen[key] = true
		out = append(out, j)
	}
	return out
}

// writeJobsFile rewrites path with one JSON line per job descriptor. Unlike
// the metrics log, the jobs log has no history: every tick replaces it.
func writeJobsFile(path string, jobList []model.JobDescriptor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating jobs log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening jobs log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, j := range jobList {
		if err := enc.Encode(j); err != nil {
			return fmt.Errorf("encoding job descriptor: %w", err)
		}
	}
	return f.Sync()
}
