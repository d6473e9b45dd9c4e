package model

// ClusterSnapshot is the merged, typed view of current cluster state,
// rewritten atomically each tick (write-temp-then-rename).
type ClusterSnapshot struct {
	LastUpdatedTimestamp       string          `json:"last_updated_timestamp"`
	TotalPowerConsumptionWatts int             `json:"total_power_consumption_watts"`
	LoginNodes                 []LoginNode     `json:"login_nodes"`
	GPUNodes                   []GPUNodeSummary `json:"gpu_nodes"`
}

// LoginNode is a reserved, host-only snapshot entry (no GPUs). The list may
// be empty; nothing in this spec currently populates it, but the shape is
// part of the wire contract.
type LoginNode struct {
	NodeName        string `json:"node_name"`
	CPUUtilPercent  int    `json:"cpu_util_percent"`
	MemUtilPercent  int    `json:"mem_util_percent"`
}

// GPUNodeSummary is one node's entry in the snapshot: static inventory facts
// joined with the latest telemetry for each of its GPUs.
type GPUNodeSummary struct {
	NodeName        string       `json:"node_name"`
	CoresTotal      int          `json:"cores_total"`
	MemTotalGB      float64      `json:"mem_total_gb"`
	CPUUtilPercent  int          `json:"cpu_util_percent"`
	MemUtilPercent  int          `json:"mem_util_percent"`
	GPUSummaryName  string       `json:"gpu_summary_name"`
	GPUs            []GPUSummary `json:"gpus"`
}

// AgentHealth is the live diagnostic struct reported on /healthz. It is
// computed on demand, not persisted.
type AgentHealth struct {
	UptimeSeconds        int64    `json:"uptime_seconds"`
	TicksTotal           uint64   `json:"ticks_total"`
	TicksFailedNodes     uint64   `json:"ticks_failed_nodes"`
	LastTickDurationMs   int64    `json:"last_tick_duration_ms"`
	LastSnapshotBuildMs  int64    `json:"last_snapshot_build_ms"`
	Mode                 string   `json:"mode"`
	DryRun               bool     `json:"dry_run"`
	ActiveErrorCodes     []string `json:"active_error_codes,omitempty"`
}
