package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds all agent configuration values, loaded from config.yaml and
// overridden by environment variables.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Paths      PathsConfig      `yaml:"paths"`

	// NodesFile and InventoryFile point at the sibling documents consumed by
	// the node/inventory loaders; not part of config.yaml itself, set from
	// CLI flags or defaults.
	NodesFile     string `yaml:"-"`
	InventoryFile string `yaml:"-"`

	// AllowInsecureHostKey toggles ssh.InsecureIgnoreHostKey() on the remote
	// executor. Defaults to true; cmd/agent logs a WARN at start-up whenever
	// this is left on.
	AllowInsecureHostKey bool `yaml:"allow_insecure_host_key"`

	// MaxConcurrentNodes bounds the poller's worker pool. Zero means "size
	// to the node count".
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes"`

	// DisplayTimezone names the IANA zone used to render
	// last_updated_timestamp in the snapshot. Storage is always UTC.
	DisplayTimezone string `yaml:"display_timezone"`
}

// AgentConfig is the agent.* block of config.yaml.
type AgentConfig struct {
	Mode             string `yaml:"mode"` // "recommendation" | "auto-action"
	DryRun           bool   `yaml:"dry_run"`
	PollIntervalSecs int    `yaml:"poll_interval_seconds"`
}

// ThresholdsConfig is the thresholds.* block of config.yaml.
type ThresholdsConfig struct {
	GPUIdlePercent        int `yaml:"gpu_idle_percent"`
	MinUtilizationPercent int `yaml:"min_utilization_percent"`
}

// PathsConfig is the paths.* block of config.yaml.
type PathsConfig struct {
	MetricsFile  string `yaml:"metrics_file"`
	JobsFile     string `yaml:"jobs_file"`
	SnapshotFile string `yaml:"snapshot_file"`
	AgentLogFile string `yaml:"agent_log_file"`
	// LogsDir is the directory training jobs write their own logs under,
	// matching dummy_train.py's data/logs/<session>.log convention. Job
	// discovery derives each job's log path from this directory.
	LogsDir string `yaml:"logs_dir"`
}

// defaults returns a Config pre-populated with every default value named in
// the component design before the YAML document and environment overrides
// are applied on top.
func defaults() Config {
	return Config{
		Agent: AgentConfig{
			Mode:             "recommendation",
			DryRun:           true,
			PollIntervalSecs: 60,
		},
		Thresholds: ThresholdsConfig{
			GPUIdlePercent:        95,
			MinUtilizationPercent: 40,
		},
		Paths: PathsConfig{
			MetricsFile:  "data/metrics.jsonl",
			JobsFile:     "data/jobs.jsonl",
			SnapshotFile: "data/cluster_snapshot.json",
			AgentLogFile: "",
			LogsDir:      "data/logs",
		},
		NodesFile:            "config/nodes.yaml",
		InventoryFile:        "config/gpu_inventory.yaml",
		AllowInsecureHostKey: true,
		DisplayTimezone:      "UTC",
	}
}

// Load reads config.yaml (if present) on top of defaults, then applies
// environment variable overrides. A missing file is not an error — the
// process falls back to built-in defaults, like the inventory loader's
// "optional" contract (LoadNodes, by contrast, fails on a missing file).
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides reads FLEETWATCH_* environment variables through the
// parseBool/parseInt helpers below, letting operators override any field
// without editing files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETWATCH_AGENT_MODE"); v != "" {
		cfg.Agent.Mode = v
	}
	if v, ok := parseBool("FLEETWATCH_DRY_RUN"); ok {
		cfg.Agent.DryRun = v
	}
	if v, ok := parseInt("FLEETWATCH_POLL_INTERVAL_SECONDS"); ok {
		cfg.Agent.PollIntervalSecs = v
	}
	if v, ok := parseInt("FLEETWATCH_GPU_IDLE_PERCENT"); ok {
		cfg.Thresholds.GPUIdlePercent = v
	}
	if v, ok := parseInt("FLEETWATCH_MIN_UTILIZATION_PERCENT"); ok {
		cfg.Thresholds.MinUtilizationPercent = v
	}
	if v := os.Getenv("FLEETWATCH_METRICS_FILE"); v != "" {
		cfg.Paths.MetricsFile = v
	}
	if v := os.Getenv("FLEETWATCH_JOBS_FILE"); v != "" {
		cfg.Paths.JobsFile = v
	}
	if v := os.Getenv("FLEETWATCH_SNAPSHOT_FILE"); v != "" {
		cfg.Paths.SnapshotFile = v
	}
	if v := os.Getenv("FLEETWATCH_AGENT_LOG_FILE"); v != "" {
		cfg.Paths.AgentLogFile = v
	}
	if v := os.Getenv("FLEETWATCH_LOGS_DIR"); v != "" {
		cfg.Paths.LogsDir = v
	}
	if v := os.Getenv("FLEETWATCH_NODES_FILE"); v != "" {
		cfg.NodesFile = v
	}
	if v := os.Getenv("FLEETWATCH_INVENTORY_FILE"); v != "" {
		cfg.InventoryFile = v
	}
	if v, ok := parseBool("FLEETWATCH_ALLOW_INSECURE_HOST_KEY"); ok {
		cfg.AllowInsecureHostKey = v
	}
	if v, ok := parseInt("FLEETWATCH_MAX_CONCURRENT_NODES"); ok {
		cfg.MaxConcurrentNodes = v
	}
	if v := os.Getenv("FLEETWATCH_DISPLAY_TIMEZONE"); v != "" {
		cfg.DisplayTimezone = v
	}
}

func parseBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func parseInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// PollInterval returns the configured poll interval as a time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Agent.PollIntervalSecs) * time.Second
}
