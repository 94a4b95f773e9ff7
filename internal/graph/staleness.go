package graph

import (
	"sort"
	"time"

	"kraph/core/internal/db"
	"kraph/core/internal/names"
)

const day = 24 * time.Hour

// StaleNode is an entity or reagent with no recent edge activity
type StaleNode struct {
	NodeID            string `json:"node_id"`
	Label             string `json:"label"`
	Type              string `json:"type"`
	DaysSinceActivity int64  `json:"days_since_activity"`
}

// StaleMetric is a metric whose target took part in later events
type StaleMetric struct {
	MetricNodeID string `json:"metric_node_id"`
	MetricLabel  string `json:"metric_label"`
	TargetNodeID string `json:"target_node_id"`
	TargetLabel  string `json:"target_label"`
	DriftDays    int64  `json:"drift_days"`
}

// StalenessReport contains staleness analysis results
type StalenessReport struct {
	StaleNodes       []StaleNode   `json:"stale_nodes"`
	StaleMetrics     []StaleMetric `json:"stale_metrics"`
	ExpiredEdgeIDs   []string      `json:"expired_edge_ids"`
	StaleNodeCount   int           `json:"stale_node_count"`
	StaleMetricCount int           `json:"stale_metric_count"`
}

// ComputeStaleness finds dormant instances, metrics that predate their
// target's latest edge, and edges whose validity window closed before now.
// Records without a creation time are skipped.
func ComputeStaleness(snap *GraphSnapshot, now time.Time, staleDays int64) *StalenessReport {
	threshold := now.Add(-time.Duration(staleDays) * day)

	// Latest non-DESCRIBES edge per vertex
	lastActivity := make(map[int64]time.Time)
	touch := func(id int64, t time.Time) {
		if t.After(lastActivity[id]) {
			lastActivity[id] = t
		}
	}
	for _, e := range snap.Edges {
		if e.Kind == names.DescribesLabel || e.CreatedAt.IsZero() {
			continue
		}
		touch(e.Source, e.CreatedAt)
		touch(e.Target, e.CreatedAt)
	}

	var staleNodes []StaleNode
	for _, id := range snap.NodeIDs() {
		node := snap.Nodes[id]
		if node.Type != string(db.KindEntity) && node.Type != string(db.KindReagent) {
			continue
		}
		last := node.CreatedAt
		if t, ok := lastActivity[id]; ok && t.After(last) {
			last = t
		}
		if last.IsZero() || !last.Before(threshold) {
			continue
		}
		staleNodes = append(staleNodes, StaleNode{
			NodeID:            node.NodeID,
			Label:             node.Label,
			Type:              node.Type,
			DaysSinceActivity: int64(now.Sub(last) / day),
		})
	}
	sort.SliceStable(staleNodes, func(i, j int) bool {
		return staleNodes[i].DaysSinceActivity > staleNodes[j].DaysSinceActivity
	})

	var staleMetrics []StaleMetric
	var expired []string
	for _, e := range snap.Edges {
		if e.ValidTo != nil && e.ValidTo.Before(now) {
			expired = append(expired, e.EdgeID)
		}
		if e.Kind != names.DescribesLabel {
			continue
		}
		metric, target := snap.Nodes[e.Source], snap.Nodes[e.Target]
		if metric == nil || target == nil || metric.CreatedAt.IsZero() {
			continue
		}
		if last, ok := lastActivity[target.ID]; ok && last.After(metric.CreatedAt) {
			staleMetrics = append(staleMetrics, StaleMetric{
				MetricNodeID: metric.NodeID,
				MetricLabel:  metric.Label,
				TargetNodeID: target.NodeID,
				TargetLabel:  target.Label,
				DriftDays:    int64(last.Sub(metric.CreatedAt) / day),
			})
		}
	}
	sort.SliceStable(staleMetrics, func(i, j int) bool {
		return staleMetrics[i].DriftDays > staleMetrics[j].DriftDays
	})

	return &StalenessReport{
		StaleNodes:       staleNodes,
		StaleMetrics:     staleMetrics,
		ExpiredEdgeIDs:   expired,
		StaleNodeCount:   len(staleNodes),
		StaleMetricCount: len(staleMetrics),
	}
}
