package metricsparser

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// ParseHostStats parses the two-line host-stats output: a floating-point
// CPU-busy percentage, then "<ram_used_mb> <ram_total_mb>". Either line
// being malformed yields (nil, false) — absence, never zero-substitution.
func ParseHostStats(output string) (*model.HostStats, bool) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) < 2 {
		slog.Warn("metricsparser: host stats output has fewer than 2 lines", "lines", len(lines))
		return nil, false
	}

	cpuPct, err := strconv.ParseFloat(strings.TrimSpace(lines[0]), 64)
	if err != nil {
		slog.Warn("metricsparser: malformed cpu-busy line", "raw", lines[0])
		return nil, false
	}

	memFields := strings.Fields(lines[1])
	if len(memFields) != 2 {
		slog.Warn("metricsparser: malformed ram line", "raw", lines[1])
		return nil, false
	}
	ramUsed, err1 := strconv.Atoi(memFields[0])
	_, err2 := strconv.Atoi(memFields[1])
	if err1 != nil || err2 != nil {
		slog.Warn("metricsparser: non-integer ram fields", "raw", lines[1])
		return nil, false
	}

	return &model.HostStats{
		CPUPercent: clampPercent("cpu_pct", int(cpuPct)),
		RAMUsedMB:  ramUsed,
	}, true
}
