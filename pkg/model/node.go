package model

// NodeDescriptor is the static, configuration-loaded identity of a node
// reachable over the remote-shell transport. Node descriptors are loaded at
// start and on reload, and are immutable between reloads.
type NodeDescriptor struct {
	Name     string `yaml:"name" json:"name"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	GPUCount int    `yaml:"gpu_count" json:"gpu_count"`
}

// GPUInventoryEntry holds static per-node GPU facts that cannot be
// discovered through telemetry: model name, core count, memory size, and
// power limit. The config loader applies a defaults block underneath any
// per-node overrides.
type GPUInventoryEntry struct {
	GPUName         string  `yaml:"gpu_name" json:"gpu_name"`
	CoresTotal      int     `yaml:"cores_total" json:"cores_total"`
	MemTotalGB      float64 `yaml:"mem_total_gb" json:"mem_total_gb"`
	PowerLimitWatts int     `yaml:"power_limit_watts" json:"power_limit_watts"`
}
