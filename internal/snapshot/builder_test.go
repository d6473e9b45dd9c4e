package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fleetwatch/gpu-observer/internal/config"
)

func writeInventory(t *testing.T, dir string, doc string) *config.Inventory {
	t.Helper()
	path := filepath.Join(dir, "gpu_inventory.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing inventory: %v", err)
	}
	inv, err := config.LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	return inv
}

func writeMetricsLog(t *testing.T, dir string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, "metrics.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing metrics log: %v", err)
	}
	return path
}

func TestBuild_SingleNodeHappyPath(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `
defaults:
  gpu_name: "GPU-X"
  cores_total: 16
  mem_total_gb: 64
  power_limit_watts: 300
`)
	metricsPath := writeMetricsLog(t, dir, []string{
		`{"schema":"metrics/v1","ts":"2026-01-01T00:00:00Z","node":"n1","gpu_index":0,"util_pct":10,"mem_used_mb":2048,"mem_total_mb":16384,"temp_c":55,"power_w":120,"host":{"cpu_pct":5,"ram_used_mb":8192}}`,
		`{"schema":"metrics/v1","ts":"2026-01-01T00:00:00Z","node":"n1","gpu_index":1,"util_pct":20,"mem_used_mb":4096,"mem_total_mb":16384,"temp_c":60,"power_w":150,"host":{"cpu_pct":5,"ram_used_mb":8192}}`,
	})

	b := NewBuilder(metricsPath, filepath.Join(dir, "cluster_snapshot.json"), inv, nil, "UTC")
	snap, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(snap.GPUNodes) != 1 {
		t.Fatalf("expected 1 gpu node, got %d", len(snap.GPUNodes))
	}
	n := snap.GPUNodes[0]
	if n.GPUSummaryName != "2x GPU-X" {
		t.Errorf("GPUSummaryName = %q, want %q", n.GPUSummaryName, "2x GPU-X")
	}
	if len(n.GPUs) != 2 {
		t.Fatalf("expected 2 gpus, got %d", len(n.GPUs))
	}
	if n.GPUs[0].UtilizationPercent != 10 {
		t.Errorf("GPUs[0].UtilizationPercent = %d, want 10", n.GPUs[0].UtilizationPercent)
	}
	if n.GPUs[0].MemoryUtilPercent != 13 {
		t.Errorf("GPUs[0].MemoryUtilPercent = %d, want 13", n.GPUs[0].MemoryUtilPercent)
	}
	if snap.TotalPowerConsumptionWatts != 270 {
		t.Errorf("TotalPowerConsumptionWatts = %d, want 270", snap.TotalPowerConsumptionWatts)
	}
	if n.GPUs[0].PowerLimitWatts == nil || *n.GPUs[0].PowerLimitWatts != 300 {
		t.Errorf("PowerLimitWatts = %v, want 300", n.GPUs[0].PowerLimitWatts)
	}
}

func TestBuild_LatestWinsOnDuplicateKey(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `
defaults: {gpu_name: "GPU-X", mem_total_gb: 64}
`)
	metricsPath := writeMetricsLog(t, dir, []string{
		`{"schema":"metrics/v1","ts":"2026-01-01T00:00:05Z","node":"n1","gpu_index":0,"util_pct":50,"mem_used_mb":1,"mem_total_mb":1,"power_w":100}`,
		`{"schema":"metrics/v1","ts":"2026-01-01T00:00:10Z","node":"n1","gpu_index":0,"util_pct":20,"mem_used_mb":1,"mem_total_mb":1,"power_w":10}`,
	})

	b := NewBuilder(metricsPath, filepath.Join(dir, "snap.json"), inv, nil, "UTC")
	snap, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if snap.GPUNodes[0].GPUs[0].UtilizationPercent != 20 {
		t.Errorf("expected the larger-ts record (util=20) to win, got %d", snap.GPUNodes[0].GPUs[0].UtilizationPercent)
	}
}

func TestBuild_DropsMalformedLineKeepsGoodOnes(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `defaults: {gpu_name: "GPU-X", mem_total_gb: 64}`)
	metricsPath := writeMetricsLog(t, dir, []string{
		`not json at all`,
		`{"schema":"metrics/v1","ts":"2026-01-01T00:00:00Z","node":"n1","gpu_index":0,"util_pct":10,"mem_used_mb":1,"mem_total_mb":1,"power_w":5}`,
	})

	b := NewBuilder(metricsPath, filepath.Join(dir, "snap.json"), inv, nil, "UTC")
	snap, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.GPUNodes) != 1 || len(snap.GPUNodes[0].GPUs) != 1 {
		t.Fatalf("expected 1 node with 1 gpu, got %+v", snap.GPUNodes)
	}
}

func TestBuild_IgnoresOtherSchemaRecords(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `defaults: {gpu_name: "GPU-X", mem_total_gb: 64}`)
	metricsPath := writeMetricsLog(t, dir, []string{
		`{"schema":"metrics/v2","ts":"2026-01-01T00:00:00Z","node":"n1","gpu_index":0,"util_pct":99}`,
	})

	b := NewBuilder(metricsPath, filepath.Join(dir, "snap.json"), inv, nil, "UTC")
	snap, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.GPUNodes) != 0 {
		t.Fatalf("expected 0 gpu nodes for an unrecognized schema, got %d", len(snap.GPUNodes))
	}
}

func TestBuild_MissingMetricsLogYieldsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `defaults: {gpu_name: "GPU-X"}`)

	b := NewBuilder(filepath.Join(dir, "does-not-exist.jsonl"), filepath.Join(dir, "snap.json"), inv, nil, "UTC")
	snap, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(snap.GPUNodes) != 0 {
		t.Errorf("expected no gpu nodes, got %d", len(snap.GPUNodes))
	}
	if len(snap.LoginNodes) != 0 {
		t.Errorf("expected no login nodes, got %d", len(snap.LoginNodes))
	}
}

func TestBuild_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `defaults: {gpu_name: "GPU-X"}`)
	b := NewBuilder(filepath.Join(dir, "missing.jsonl"), filepath.Join(dir, "snap.json"), inv, nil, "Not/A/Zone")
	if b.displayTZ.String() != "UTC" {
		t.Errorf("expected fallback to UTC, got %s", b.displayTZ.String())
	}
}

func TestWriteFile_WritesValidJSONAndRenames(t *testing.T) {
	dir := t.TempDir()
	inv := writeInventory(t, dir, `defaults: {gpu_name: "GPU-X", mem_total_gb: 64}`)
	metricsPath := writeMetricsLog(t, dir, []string{
		`{"schema":"metrics/v1","ts":"2026-01-01T00:00:00Z","node":"n1","gpu_index":0,"util_pct":10,"mem_used_mb":1,"mem_total_mb":1,"power_w":5}`,
	})
	snapPath := filepath.Join(dir, "cluster_snapshot.json")

	b := NewBuilder(metricsPath, snapPath, inv, nil, "UTC")
	snap, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := b.WriteFile(snap); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := os.Stat(snapPath); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}
	if _, err := os.Stat(snapPath + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away, stat err = %v", err)
	}
}
