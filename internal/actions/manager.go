// Package actions consumes heuristic recommendations and either logs them
// (recommendation mode) or gates a remediation callback behind dry_run
// (auto-action mode). The catalog of real remediations is out of scope;
// this package only implements the mode contract.
package actions

import (
	"log/slog"

	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// Mode selects how the manager treats recommendations.
type Mode string

const (
	ModeRecommendation Mode = "recommendation"
	ModeAutoAction     Mode = "auto-action"
)

// Remediate is the out-of-scope remediation callback auto-action mode would
// invoke when dry_run is false. No concrete implementation ships with this
// observer; callers that want real remediation supply their own.
type Remediate func(rec model.Recommendation) error

// Manager applies a Mode to a batch of recommendations.
type Manager struct {
	mode      Mode
	dryRun    bool
	remediate Remediate
	metrics   *observability.Metrics
}

// NewManager creates a Manager. remediate may be nil; it is only consulted
// in auto-action mode with dry_run false.
func NewManager(mode Mode, dryRun bool, remediate Remediate, metrics *observability.Metrics) *Manager {
	return &Manager{mode: mode, dryRun: dryRun, remediate: remediate, metrics: metrics}
}

// Apply processes every recommendation according to the configured mode.
func (m *Manager) Apply(recs []model.Recommendation) {
	for _, rec := range recs {
		if m.metrics != nil {
			m.metrics.RecommendationsTotal.WithLabelValues(string(rec.Type), string(rec.Severity)).Inc()
		}

		switch m.mode {
		case ModeAutoAction:
			m.applyAutoAction(rec)
		default:
			logRecommendation(rec)
		}
	}
}

func (m *Manager) applyAutoAction(rec model.Recommendation) {
	if m.dryRun || m.remediate == nil {
		slog.Info("actions: dry-run, would act on recommendation",
			"type", rec.Type, "severity", rec.Severity, "node", strOrEmpty(rec.Node), "message", rec.Message)
		return
	}

	if err := m.remediate(rec); err != nil {
		slog.Error("actions: remediation failed",
			"type", rec.Type, "severity", rec.Severity, "node", strOrEmpty(rec.Node), "error", err)
	}
}

func logRecommendation(rec model.Recommendation) {
	slog.Info("recommendation",
		"type", rec.Type, "severity", rec.Severity,
		"node", strOrEmpty(rec.Node), "session", strOrEmpty(rec.Session),
		"message", rec.Message)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
