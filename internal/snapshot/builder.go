// Package snapshot builds the cluster snapshot document from the metrics
// log and static GPU inventory, and persists it atomically.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/fleetwatch/gpu-observer/internal/config"
	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// Builder reads the metrics log, merges in static inventory facts, and
// produces the cluster snapshot document.
type Builder struct {
	metricsLogPath string
	snapshotPath   string
	inventory      *config.Inventory
	metrics        *observability.Metrics
	displayTZ      *time.Location
}

// NewBuilder creates a Builder. An unrecognized displayTimezone falls back
// to UTC with a warning; storage is always UTC regardless.
func NewBuilder(metricsLogPath, snapshotPath string, inventory *config.Inventory, metrics *observability.Metrics, displayTimezone string) *Builder {
	loc, err := time.LoadLocation(displayTimezone)
	if err != nil {
		slog.Warn("snapshot: unknown display timezone, falling back to UTC", "timezone", displayTimezone, "error", err)
		loc = time.UTC
	}
	return &Builder{
		metricsLogPath: metricsLogPath,
		snapshotPath:   snapshotPath,
		inventory:      inventory,
		metrics:        metrics,
		displayTZ:      loc,
	}
}

// Build does a single linear pass over the metrics log, keeps the
// largest-ts record per (node, gpu_index), and assembles the snapshot.
// context is accepted for symmetry with the rest of the pipeline; the scan
// itself is not cancellable mid-file.
func (b *Builder) Build(_ context.Context) (*model.ClusterSnapshot, error) {
	start := time.Now()

	records, err := b.latestRecords()
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading metrics log: %w", err)
	}

	byNode := lo.GroupBy(records, func(r model.MetricsRecord) string { return r.Node })
	nodeNames := lo.Keys(byNode)
	sort.Strings(nodeNames)

	snap := &model.ClusterSnapshot{
		LoginNodes: []model.LoginNode{},
		GPUNodes:   []model.GPUNodeSummary{},
	}

	var maxTS string
	var gpuCount int

	for _, name := range nodeNames {
		nodeRecords := byNode[name]
		sort.Slice(nodeRecords, func(i, j int) bool { return nodeRecords[i].GPUIndex < nodeRecords[j].GPUIndex })

		inv := b.inventory.Lookup(name)

		cpuPct := averageHostCPU(nodeRecords)
		maxRAMUsed := maxHostRAMUsed(nodeRecords)

		memUtilPct := 0
		if inv.MemTotalGB > 0 {
			memUtilPct = clampPercent(int(math.Round(100 * float64(maxRAMUsed) / (inv.MemTotalGB * 1024))))
		}

		gpus := lo.Map(nodeRecords, func(r model.MetricsRecord, _ int) model.GPUSummary {
			memUtil := 0
			if r.MemTotalMB > 0 {
				memUtil = clampPercent(int(math.Round(100 * float64(r.MemUsedMB) / float64(r.MemTotalMB))))
			}
			g := model.GPUSummary{
				GPUID:              r.GPUIndex,
				GPUName:            inv.GPUName,
				UtilizationPercent: r.UtilPercent,
				MemoryUtilPercent:  memUtil,
				MemoryUsedMiB:      r.MemUsedMB,
				MemoryTotalMiB:     r.MemTotalMB,
				TemperatureCelsius: r.TempC,
				PowerWatts:         r.PowerW,
			}
			if inv.PowerLimitWatts > 0 {
				limit := inv.PowerLimitWatts
				g.PowerLimitWatts = &limit
			}
			return g
		})

		snap.GPUNodes = append(snap.GPUNodes, model.GPUNodeSummary{
			NodeName:       name,
			CoresTotal:     inv.CoresTotal,
			MemTotalGB:     inv.MemTotalGB,
			CPUUtilPercent: cpuPct,
			MemUtilPercent: memUtilPct,
			GPUSummaryName: fmt.Sprintf("%dx %s", len(gpus), inv.GPUName),
			GPUs:           gpus,
		})

		gpuCount += len(gpus)
		for _, r := range nodeRecords {
			if r.Timestamp > maxTS {
				maxTS = r.Timestamp
			}
		}
	}

	snap.TotalPowerConsumptionWatts = lo.SumBy(snap.GPUNodes, func(n model.GPUNodeSummary) int {
		return lo.SumBy(n.GPUs, func(g model.GPUSummary) int { return g.PowerWatts })
	})

	if maxTS != "" {
		snap.LastUpdatedTimestamp = formatDisplayTimestamp(maxTS, b.displayTZ)
	} else {
		snap.LastUpdatedTimestamp = time.Now().In(b.displayTZ).Format(time.RFC3339)
	}

	if b.metrics != nil {
		b.metrics.SnapshotBuildDuration.Observe(time.Since(start).Seconds())
		b.metrics.SnapshotGPUCount.Set(float64(gpuCount))
	}

	return snap, nil
}

// WriteFile serializes snap and writes it to a temporary sibling path
// before renaming it into place, so readers never observe a partial
// document.
func (b *Builder) WriteFile(snap *model.ClusterSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(b.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("snapshot: creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshaling: %w", err)
	}

	tmp := b.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: writing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmp, b.snapshotPath); err != nil {
		return fmt.Errorf("snapshot: renaming temp snapshot file into place: %w", err)
	}
	return nil
}

// latestRecords scans the metrics log once and retains, per (node,
// gpu_index), the record with the largest ts (last-write-wins on ties).
// A missing file yields no records rather than an error — nothing has been
// polled yet.
func (b *Builder) latestRecords() ([]model.MetricsRecord, error) {
	f, err := os.Open(b.metricsLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	latest := make(map[string]model.MetricsRecord)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec model.MetricsRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("snapshot: skipping malformed metrics log line", "line_no", lineNo, "error", err)
			continue
		}
		if rec.Schema != model.SchemaMetricsV1 {
			continue
		}

		key := rec.Key()
		if existing, ok := latest[key]; !ok || existing.Timestamp <= rec.Timestamp {
			latest[key] = rec
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning metrics log: %w", err)
	}

	return lo.Values(latest), nil
}

func averageHostCPU(records []model.MetricsRecord) int {
	vals := lo.FilterMap(records, func(r model.MetricsRecord, _ int) (int, bool) {
		if r.Host == nil {
			return 0, false
		}
		return r.Host.CPUPercent, true
	})
	if len(vals) == 0 {
		return 0
	}
	avg := float64(lo.Sum(vals)) / float64(len(vals))
	return clampPercent(int(math.Round(avg)))
}

func maxHostRAMUsed(records []model.MetricsRecord) int {
	vals := lo.FilterMap(records, func(r model.MetricsRecord, _ int) (int, bool) {
		if r.Host == nil {
			return 0, false
		}
		return r.Host.RAMUsedMB, true
	})
	if len(vals) == 0 {
		return 0
	}
	return lo.Max(vals)
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatDisplayTimestamp(ts string, loc *time.Location) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		slog.Warn("snapshot: malformed timestamp in metrics log, leaving unformatted", "ts", ts, "error", err)
		return ts
	}
	return t.In(loc).Format(time.RFC3339)
}
