package model

// GPUSummary is a single GPU's entry inside a GPUNodeSummary, in the
// snapshot vocabulary (field names differ from the wire metrics record:
// util_pct -> utilization_percent, mem_used_mb -> memory_used_mib, etc).
type GPUSummary struct {
	GPUID              int      `json:"gpu_id"`
	GPUName            string   `json:"gpu_name"`
	UtilizationPercent int      `json:"utilization_percent"`
	MemoryUtilPercent  int      `json:"memory_util_percent"`
	MemoryUsedMiB      int      `json:"memory_used_mib"`
	MemoryTotalMiB     int      `json:"memory_total_mib"`
	TemperatureCelsius int      `json:"temperature_celsius"`
	PowerWatts         int      `json:"power_watts"`
	PowerLimitWatts    *int     `json:"power_limit_watts,omitempty"`
}
