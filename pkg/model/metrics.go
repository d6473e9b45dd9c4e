package model

import "strconv"

// SchemaMetricsV1 is the schema tag every metrics record must carry. It
// enables forward-compatible evolution of the wire format: readers check it
// on load and skip anything tagged differently.
const SchemaMetricsV1 = "metrics/v1"

// HostStats is the host-level CPU/RAM sample attached to a tick's GPU
// records. It is nested and optional: absent (the zero value, omitted from
// JSON) when the host-stats remote call failed or returned unparseable
// output that tick. Downstream aggregation must tolerate its absence rather
// than substituting zeros.
type HostStats struct {
	CPUPercent int `json:"cpu_pct"`
	RAMUsedMB  int `json:"ram_used_mb"`
}

// MetricsRecord is a single append-only, schema-tagged sample of one GPU on
// one node at one tick. (node, gpu_index) with the largest Timestamp is the
// authoritative current state for that GPU.
type MetricsRecord struct {
	Schema      string     `json:"schema"`
	Timestamp   string     `json:"ts"`
	Node        string     `json:"node"`
	GPUIndex    int        `json:"gpu_index"`
	UtilPercent int        `json:"util_pct"`
	MemUsedMB   int        `json:"mem_used_mb"`
	MemTotalMB  int        `json:"mem_total_mb"`
	TempC       int        `json:"temp_c"`
	PowerW      int        `json:"power_w"`
	Host        *HostStats `json:"host,omitempty"`
}

// Key identifies the (node, gpu_index) series this record belongs to.
func (r MetricsRecord) Key() string {
	return r.Node + "|" + strconv.Itoa(r.GPUIndex)
}
