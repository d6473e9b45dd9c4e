// Package metricsparser converts the raw text returned by the simulated
// nvidia-smi and host-stat remote commands into typed records.
package metricsparser

import (
	"bufio"
	"log/slog"
	"strconv"
	"strings"
)

// GPULine is one parsed GPU telemetry sample: util, mem_used, mem_total,
// temp, power, in the order emitted by the nvidia-smi query command.
type GPULine struct {
	UtilPercent int
	MemUsedMB   int
	MemTotalMB  int
	TempC       int
	PowerW      int
}

// ParseGPUQuery parses the comma-separated GPU query output, one line per
// GPU. Malformed lines are dropped with a warning; well-formed siblings are
// still returned. util_pct is clamped to [0,100] with a warning on clamp.
func ParseGPUQuery(output string) []GPULine {
	var lines []GPULine

	scanner := bufio.NewScanner(strings.NewReader(output))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		fields := strings.Split(raw, ",")
		if len(fields) != 5 {
			slog.Warn("metricsparser: dropping malformed gpu query line",
				"line_no", lineNo, "fields", len(fields))
			continue
		}

		vals := make([]int, 5)
		ok := true
		for i, f := range fields {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil || n < 0 {
				slog.Warn("metricsparser: dropping gpu query line with a field that is not a non-negative integer",
					"line_no", lineNo, "field_index", i, "raw", f)
				ok = false
				break
			}
			vals[i] = n
		}
		if !ok {
			continue
		}

		util := clampPercent("util_pct", vals[0])
		lines = append(lines, GPULine{
			UtilPercent: util,
			MemUsedMB:   vals[1],
			MemTotalMB:  vals[2],
			TempC:       vals[3],
			PowerW:      vals[4],
		})
	}

	return lines
}

func clampPercent(field string, v int) int {
	if v < 0 {
		slog.Warn("metricsparser: clamping out-of-range percent", "field", field, "value", v)
		return 0
	}
	if v > 100 {
		slog.Warn("metricsparser: clamping out-of-range percent", "field", field, "value", v)
		return 100
	}
	return v
}
