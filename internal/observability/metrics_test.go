package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}

	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry — should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	const prefix = "gpu_observer_"
	for _, f := range families {
		name := f.GetName()
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			t.Errorf("metric %q does not start with %s prefix", name, prefix)
		}
	}
}

func TestNewMetrics_CounterIncrement(t *testing.T) {
	m := NewMetrics()

	m.PollNodesFailedTotal.Inc()

	pb := &dto.Metric{}
	if err := m.PollNodesFailedTotal.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("PollNodesFailedTotal = %v, want 1", got)
	}

	m.RecommendationsTotal.WithLabelValues("IDLE_GPU", "MEDIUM").Inc()
	m.RecommendationsTotal.WithLabelValues("IDLE_GPU", "MEDIUM").Inc()
	m.RecommendationsTotal.WithLabelValues("LOW_UTILIZATION", "INFO").Inc()

	pb = &dto.Metric{}
	if err := m.RecommendationsTotal.WithLabelValues("IDLE_GPU", "MEDIUM").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 2 {
		t.Errorf("RecommendationsTotal(IDLE_GPU,MEDIUM) = %v, want 2", got)
	}
}

func TestNewMetrics_HistogramObserve(t *testing.T) {
	m := NewMetrics()

	m.SnapshotBuildDuration.Observe(0.5)
	m.SnapshotBuildDuration.Observe(1.5)

	pb := &dto.Metric{}
	if err := m.SnapshotBuildDuration.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("SnapshotBuildDuration sample count = %v, want 2", got)
	}

	m.RemoteCallDuration.WithLabelValues("n1", "success").Observe(0.2)
	pb = &dto.Metric{}
	if err := m.RemoteCallDuration.WithLabelValues("n1", "success").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("RemoteCallDuration(n1,success) sample count = %v, want 1", got)
	}
}

func TestNewMetrics_GaugeSet(t *testing.T) {
	m := NewMetrics()

	m.SnapshotGPUCount.Set(8)

	pb := &dto.Metric{}
	if err := m.SnapshotGPUCount.Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 8 {
		t.Errorf("SnapshotGPUCount = %v, want 8", got)
	}
}

func TestNewMetrics_VecLabels(t *testing.T) {
	m := NewMetrics()

	m.StoreItems.WithLabelValues("gpu").Set(42)
	pb := &dto.Metric{}
	if err := m.StoreItems.WithLabelValues("gpu").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetGauge().GetValue(); got != 42 {
		t.Errorf("StoreItems(gpu) = %v, want 42", got)
	}

	m.RemoteCallTotal.WithLabelValues("n1", "error").Inc()
	pb = &dto.Metric{}
	if err := m.RemoteCallTotal.WithLabelValues("n1", "error").(prometheus.Metric).Write(pb); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := pb.GetCounter().GetValue(); got != 1 {
		t.Errorf("RemoteCallTotal(n1,error) = %v, want 1", got)
	}
}

func TestNewMetrics_NoDuplicateRegistrationPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("creating Metrics twice panicked: %v", r)
		}
	}()

	_ = NewMetrics()
	_ = NewMetrics()
}

func TestNewMetrics_AllFieldsNonNil(t *testing.T) {
	m := NewMetrics()

	if m.RemoteCallDuration == nil {
		t.Error("RemoteCallDuration is nil")
	}
	if m.RemoteCallTotal == nil {
		t.Error("RemoteCallTotal is nil")
	}
	if m.PollTickDuration == nil {
		t.Error("PollTickDuration is nil")
	}
	if m.PollNodesFailedTotal == nil {
		t.Error("PollNodesFailedTotal is nil")
	}
	if m.MetricsRecordsTotal == nil {
		t.Error("MetricsRecordsTotal is nil")
	}
	if m.JobsDiscoveredTotal == nil {
		t.Error("JobsDiscoveredTotal is nil")
	}
	if m.SnapshotBuildDuration == nil {
		t.Error("SnapshotBuildDuration is nil")
	}
	if m.SnapshotGPUCount == nil {
		t.Error("SnapshotGPUCount is nil")
	}
	if m.StoreItems == nil {
		t.Error("StoreItems is nil")
	}
	if m.RecommendationsTotal == nil {
		t.Error("RecommendationsTotal is nil")
	}
	if m.AgentTickOverrunTotal == nil {
		t.Error("AgentTickOverrunTotal is nil")
	}
}
