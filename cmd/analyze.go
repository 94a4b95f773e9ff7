package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"kraph/core/internal/graph"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/kraph"
	"kraph/core/internal/names"
)

var (
	analyzeGraph        string
	analyzeCategories   []string
	analyzeJSON         bool
	analyzeTopN         int
	analyzeStaleDays    int64
	analyzeHubThreshold int
	similarGraph        string
	similarMin          float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze graph structure: topology, staleness, bridges, health score",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		snap, err := graph.Load(cmd.Context(), e.svc, analyzeGraph)
		if err != nil {
			return err
		}
		if len(analyzeCategories) > 0 {
			snap = snap.FilterToCategories(analyzeCategories...)
		}

		config := analyzerConfig(cmd, e)
		report := graph.Analyze(snap, config, time.Now())

		if analyzeJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printHumanReadable(cmd.OutOrStdout(), report)
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <metric-node-id>",
	Short: "Rank vector metrics of a graph by cosine similarity to one of them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, id, err := names.ParseNodeID(args[0])
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			graphID, err := nodeGraph(ctx, svc, similarGraph, args[0])
			if err != nil {
				return err
			}
			snap, err := graph.Load(ctx, svc, graphID)
			if err != nil {
				return err
			}
			target, ok := snap.Nodes[id]
			if !ok {
				return kgerr.New(kgerr.KindNotFound, "cmd.similar", "node %s is not in graph %s", args[0], graphID)
			}
			if target.Vector == nil {
				return kgerr.New(kgerr.KindValidation, "cmd.similar", "node %s has no vector value", args[0])
			}
			return printJSON(cmd.OutOrStdout(), graph.FindSimilar(snap, target.Vector, id, analyzeTopN, similarMin))
		})
	},
}

// analyzerConfig starts from the configured analysis section and applies
// the flags that were set.
func analyzerConfig(cmd *cobra.Command, e *env) *graph.AnalyzerConfig {
	a := e.cfg.Analysis
	config := &graph.AnalyzerConfig{HubThreshold: a.HubThreshold, TopN: a.TopN, StaleDays: a.StaleDays}
	if cmd.Flags().Changed("top-n") {
		config.TopN = analyzeTopN
	}
	if cmd.Flags().Changed("stale-days") {
		config.StaleDays = analyzeStaleDays
	}
	if cmd.Flags().Changed("hub-threshold") {
		config.HubThreshold = analyzeHubThreshold
	}
	return config
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeGraph, "graph", "", "Graph id")
	analyzeCmd.Flags().StringSliceVar(&analyzeCategories, "category", nil, "Scope analysis to vertices of these categories")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output as JSON")
	analyzeCmd.Flags().IntVar(&analyzeTopN, "top-n", 10, "Number of top items to show per section")
	analyzeCmd.Flags().Int64Var(&analyzeStaleDays, "stale-days", 30, "Days without edge activity to consider an instance stale")
	analyzeCmd.Flags().IntVar(&analyzeHubThreshold, "hub-threshold", 10, "Minimum degree to consider a vertex a hub")
	_ = analyzeCmd.MarkFlagRequired("graph")

	similarCmd.Flags().StringVar(&similarGraph, "graph", "", "Graph id (defaults to the graph named by the node id)")
	similarCmd.Flags().IntVar(&analyzeTopN, "top-n", 10, "Number of results")
	similarCmd.Flags().Float64Var(&similarMin, "min", 0.5, "Minimum cosine similarity")

	rootCmd.AddCommand(analyzeCmd, similarCmd)
}

func printHumanReadable(w io.Writer, report *graph.AnalysisReport) {
	barLen := int(report.HealthScore * 20)
	if barLen > 20 {
		barLen = 20
	}
	bar := strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
	fmt.Fprintf(w, "\n  Graph Health: %.0f%%  [%s]\n", report.HealthScore*100, bar)
	hb := report.HealthBreakdown
	fmt.Fprintf(w, "  breakdown: linked=%.2f cohesion=%.2f freshness=%.2f validity=%.2f redundancy=%.2f\n\n",
		hb.Linked, hb.Cohesion, hb.Freshness, hb.Validity, hb.Redundancy)

	t := report.Topology
	fmt.Fprintln(w, "  TOPOLOGY")
	fmt.Fprintln(w, "  ────────────────────────────────────────")
	fmt.Fprintf(w, "  Vertices: %d  Edges: %d  Components: %d\n", t.TotalNodes, t.TotalEdges, t.NumComponents)
	fmt.Fprintf(w, "  Largest component: %d  Smallest: %d\n", t.LargestComponent, t.SmallestComponent)

	if t.OrphanCount > 0 {
		fmt.Fprintf(w, "  Orphans: %d disconnected vertices\n", t.OrphanCount)
		for _, id := range head(t.OrphanIDs, 5) {
			fmt.Fprintf(w, "    - %s\n", id)
		}
		if t.OrphanCount > 5 {
			fmt.Fprintf(w, "    ... and %d more\n", t.OrphanCount-5)
		}
	}

	fmt.Fprintln(w, "\n  Degree distribution:")
	for _, b := range t.DegreeHistogram {
		if b.Count > 0 {
			barWidth := int(math.Log2(float64(b.Count))) + 2
			fmt.Fprintf(w, "    %5s: %4d  %s\n", b.Label, b.Count, strings.Repeat("=", barWidth))
		}
	}

	if len(t.Hubs) > 0 {
		fmt.Fprintln(w, "\n  Top hubs (degree > threshold):")
		for _, hub := range t.Hubs {
			fmt.Fprintf(w, "    %s degree=%d (in=%d, out=%d)  %s\n",
				hub.NodeID, hub.Degree, hub.InDegree, hub.OutDegree, truncTitle(hub.Label, 40))
		}
	}

	if len(t.Categories) > 0 {
		fmt.Fprintln(w, "\n  Categories:")
		for _, c := range head(t.Categories, 10) {
			fmt.Fprintf(w, "    %-36s %-15s vertices=%d edges=%d\n", c.CategoryID, c.Type, c.Nodes, c.Edges)
		}
	}

	s := report.Staleness
	if s.StaleNodeCount > 0 || s.StaleMetricCount > 0 || len(s.ExpiredEdgeIDs) > 0 {
		fmt.Fprintln(w, "\n  STALENESS")
		fmt.Fprintln(w, "  ────────────────────────────────────────")
		if s.StaleNodeCount > 0 {
			fmt.Fprintf(w, "  %d stale instances (no recent edges):\n", s.StaleNodeCount)
			for _, n := range head(s.StaleNodes, 10) {
				fmt.Fprintf(w, "    %s %s idle %dd  %s\n", n.NodeID, n.Type, n.DaysSinceActivity, truncTitle(n.Label, 40))
			}
		}
		if s.StaleMetricCount > 0 {
			fmt.Fprintf(w, "  %d stale metrics (target changed after the metric):\n", s.StaleMetricCount)
			for _, m := range head(s.StaleMetrics, 10) {
				fmt.Fprintf(w, "    %s -> %s (%dd drift)\n",
					truncTitle(m.MetricLabel, 25), truncTitle(m.TargetLabel, 25), m.DriftDays)
			}
		}
		if len(s.ExpiredEdgeIDs) > 0 {
			fmt.Fprintf(w, "  %d edges past their validity window\n", len(s.ExpiredEdgeIDs))
		}
	}

	br := report.Bridges
	if br.APCount > 0 || br.BridgeCount > 0 || len(br.FragileConnections) > 0 {
		fmt.Fprintln(w, "\n  STRUCTURAL FRAGILITY")
		fmt.Fprintln(w, "  ────────────────────────────────────────")
		if br.APCount > 0 {
			fmt.Fprintf(w, "  %d articulation points (removal disconnects graph):\n", br.APCount)
			for _, ap := range head(br.ArticulationPoints, 10) {
				fmt.Fprintf(w, "    %s (splits into %d)  %s\n", ap.NodeID, ap.ComponentsIfRemoved, truncTitle(ap.Label, 40))
			}
		}
		if br.BridgeCount > 0 {
			fmt.Fprintf(w, "  %d bridge edges (removal disconnects graph):\n", br.BridgeCount)
			for _, be := range head(br.BridgeEdges, 10) {
				fmt.Fprintf(w, "    %s -> %s\n", truncTitle(be.SourceLabel, 30), truncTitle(be.TargetLabel, 30))
			}
		}
		if len(br.FragileConnections) > 0 {
			fmt.Fprintf(w, "  %d fragile category connections (<=%d edges):\n", len(br.FragileConnections), graph.FragileCrossEdges)
			for _, fc := range head(br.FragileConnections, 10) {
				plural := ""
				if fc.CrossEdges != 1 {
					plural = "s"
				}
				fmt.Fprintf(w, "    %s <-> %s (%d edge%s)\n", fc.CategoryA, fc.CategoryB, fc.CrossEdges, plural)
			}
		}
	}

	fmt.Fprintln(w)
}

func head[T any](items []T, n int) []T {
	if len(items) < n {
		return items
	}
	return items[:n]
}

func truncTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
