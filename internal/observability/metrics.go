package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for agent self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Remote executor metrics
	RemoteCallDuration *prometheus.HistogramVec
	RemoteCallTotal    *prometheus.CounterVec

	// Poller metrics
	PollTickDuration     prometheus.Histogram
	PollNodesFailedTotal prometheus.Counter
	MetricsRecordsTotal  prometheus.Counter
	JobsDiscoveredTotal  prometheus.Counter

	// Snapshot metrics
	SnapshotBuildDuration prometheus.Histogram
	SnapshotGPUCount      prometheus.Gauge

	// Store metrics
	StoreItems *prometheus.GaugeVec

	// Heuristics / actions metrics
	RecommendationsTotal *prometheus.CounterVec

	// Agent loop metrics
	AgentTickOverrunTotal prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RemoteCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpu_observer_remote_call_duration_seconds",
			Help:    "Duration of remote shell commands per node, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node", "status"}),
		RemoteCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpu_observer_remote_call_total",
			Help: "Total number of remote shell commands issued, by node and status.",
		}, []string{"node", "status"}),

		PollTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpu_observer_poll_tick_duration_seconds",
			Help:    "Duration of a full poller tick across all nodes, in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		PollNodesFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpu_observer_poll_nodes_failed_total",
			Help: "Total number of per-node poll failures across all ticks.",
		}),
		MetricsRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpu_observer_metrics_records_total",
			Help: "Total number of GPU metrics records appended.",
		}),
		JobsDiscoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpu_observer_jobs_discovered_total",
			Help: "Total number of training job descriptors discovered across ticks.",
		}),

		SnapshotBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpu_observer_snapshot_build_duration_seconds",
			Help:    "Duration of snapshot build operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotGPUCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpu_observer_snapshot_gpu_count",
			Help: "Number of GPUs represented in the most recent snapshot.",
		}),

		StoreItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gpu_observer_store_items",
			Help: "Current number of items held in the metrics index, by kind.",
		}, []string{"kind"}),

		RecommendationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpu_observer_recommendations_total",
			Help: "Total number of recommendations emitted, by type and severity.",
		}, []string{"type", "severity"}),

		AgentTickOverrunTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpu_observer_agent_tick_overrun_total",
			Help: "Total number of ticks whose elapsed time exceeded the poll interval.",
		}),
	}

	reg.MustRegister(
		m.RemoteCallDuration,
		m.RemoteCallTotal,
		m.PollTickDuration,
		m.PollNodesFailedTotal,
		m.MetricsRecordsTotal,
		m.JobsDiscoveredTotal,
		m.SnapshotBuildDuration,
		m.SnapshotGPUCount,
		m.StoreItems,
		m.RecommendationsTotal,
		m.AgentTickOverrunTotal,
	)

	return m
}
