// Package heuristics evaluates a cluster snapshot and job list against
// built-in rules and emits recommendations. Rules are pure functions of
// their inputs; evaluation order is stable but callers must not depend on
// it.
package heuristics

import (
	"fmt"

	"github.com/fleetwatch/gpu-observer/pkg/model"
)

// Thresholds configures the built-in rules.
type Thresholds struct {
	// GPUIdlePercent is the idle threshold: a GPU is idle when its
	// utilization falls below 100 - GPUIdlePercent.
	GPUIdlePercent int
	// MinUtilizationPercent is the floor for the cluster-wide mean
	// cpu_util_percent before LOW_UTILIZATION fires.
	MinUtilizationPercent int
}

// Evaluate runs every built-in rule against snap and jobList and returns
// their combined recommendations.
func Evaluate(snap *model.ClusterSnapshot, jobList []model.JobDescriptor, thresholds Thresholds) []model.Recommendation {
	var recs []model.Recommendation
	recs = append(recs, idleGPU(snap, jobList, thresholds)...)
	recs = append(recs, lowUtilization(snap, thresholds)...)
	return recs
}

// idleGPU flags any GPU whose utilization falls below the idle threshold.
// When a training session is running on that node, the session is named in
// the message so operators can act on it directly.
func idleGPU(snap *model.ClusterSnapshot, jobList []model.JobDescriptor, thresholds Thresholds) []model.Recommendation {
	idleBelow := 100 - thresholds.GPUIdlePercent

	sessionsByNode := make(map[string][]string)
	for _, j := range jobList {
		sessionsByNode[j.Node] = append(sessionsByNode[j.Node], j.Session)
	}

	var recs []model.Recommendation
	for _, node := range snap.GPUNodes {
		for _, gpu := range node.GPUs {
			if gpu.UtilizationPercent >= idleBelow {
				continue
			}

			nodeName := node.NodeName
			gpuID := gpu.GPUID
			msg := fmt.Sprintf("GPU %d on %s is idle (%d%% utilization)", gpuID, nodeName, gpu.UtilizationPercent)

			var session *string
			if sessions := sessionsByNode[node.NodeName]; len(sessions) > 0 {
				s := sessions[0]
				session = &s
				msg = fmt.Sprintf("%s, attributed to session %s", msg, s)
			}

			recs = append(recs, model.Recommendation{
				Type:     model.RecommendationIdleGPU,
				Severity: model.SeverityMedium,
				Node:     &nodeName,
				GPUID:    &gpuID,
				Session:  session,
				Message:  msg,
			})
		}
	}
	return recs
}

// lowUtilization fires once for the whole cluster when the mean
// cpu_util_percent across gpu nodes falls below the configured floor.
func lowUtilization(snap *model.ClusterSnapshot, thresholds Thresholds) []model.Recommendation {
	if len(snap.GPUNodes) == 0 {
		return nil
	}

	var sum int
	for _, node := range snap.GPUNodes {
		sum += node.CPUUtilPercent
	}
	mean := float64(sum) / float64(len(snap.GPUNodes))

	if mean >= float64(thresholds.MinUtilizationPercent) {
		return nil
	}

	return []model.Recommendation{{
		Type:     model.RecommendationLowUtilization,
		Severity: model.SeverityInfo,
		Message:  fmt.Sprintf("cluster mean cpu_util_percent is %.1f%%, below the %d%% floor", mean, thresholds.MinUtilizationPercent),
	}}
}
