package graph

import (
	"math"
	"time"

	"kraph/core/internal/db"
)

// HealthBreakdown holds the signals folded into the health score, each the
// share of records in good standing.
type HealthBreakdown struct {
	Linked     float64 `json:"linked"`     // vertices with at least one edge
	Cohesion   float64 `json:"cohesion"`   // vertices in the largest component
	Freshness  float64 `json:"freshness"`  // instances and metrics not stale
	Validity   float64 `json:"validity"`   // edges whose validity window is open
	Redundancy float64 `json:"redundancy"` // edges that are not bridges
}

// HealthWeights weigh the breakdown into the score; they sum to 1.
var HealthWeights = HealthBreakdown{Linked: 0.25, Cohesion: 0.20, Freshness: 0.20, Validity: 0.15, Redundancy: 0.20}

func (b HealthBreakdown) score(w HealthBreakdown) float64 {
	return b.Linked*w.Linked + b.Cohesion*w.Cohesion + b.Freshness*w.Freshness +
		b.Validity*w.Validity + b.Redundancy*w.Redundancy
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	HealthScore     float64          `json:"health_score"`
	HealthBreakdown HealthBreakdown  `json:"health_breakdown"`
	Topology        *TopologyReport  `json:"topology"`
	Staleness       *StalenessReport `json:"staleness"`
	Bridges         *BridgeReport    `json:"bridges"`
}

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	HubThreshold int   `mapstructure:"hub_threshold" yaml:"hub_threshold" validate:"min=0"`
	TopN         int   `mapstructure:"top_n" yaml:"top_n" validate:"min=1"`
	StaleDays    int64 `mapstructure:"stale_days" yaml:"stale_days" validate:"min=1"`
}

// DefaultConfig returns the defaults used when nothing is configured
func DefaultConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		HubThreshold: 10,
		TopN:         50,
		StaleDays:    30,
	}
}

// Analyze runs all analyses and computes a composite health score in
// [0,1]. An empty graph scores 0.
func Analyze(snap *GraphSnapshot, config *AnalyzerConfig, now time.Time) *AnalysisReport {
	report := &AnalysisReport{
		Topology:  ComputeTopology(snap, config.HubThreshold, config.TopN),
		Staleness: ComputeStaleness(snap, now, config.StaleDays),
		Bridges:   ComputeBridges(snap),
	}
	t, st := report.Topology, report.Staleness
	if t.TotalNodes == 0 {
		return report
	}

	tracked := t.TypeCounts[string(db.KindEntity)] + t.TypeCounts[string(db.KindReagent)] + t.TypeCounts[string(db.KindMetric)]
	report.HealthBreakdown = HealthBreakdown{
		Linked:     share(t.TotalNodes-t.OrphanCount, t.TotalNodes),
		Cohesion:   share(t.LargestComponent, t.TotalNodes),
		Freshness:  1 - share(st.StaleNodeCount+st.StaleMetricCount, tracked),
		Validity:   1 - share(len(st.ExpiredEdgeIDs), t.TotalEdges),
		Redundancy: 1 - share(report.Bridges.BridgeCount, t.TotalEdges),
	}
	if t.TotalEdges == 0 {
		report.HealthBreakdown.Redundancy = 0
	}
	report.HealthScore = report.HealthBreakdown.score(HealthWeights)
	return report
}

// share is part/whole clamped to [0,1], 0 for an empty whole.
func share(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, float64(part)/float64(whole)))
}
