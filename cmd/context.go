package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kraph/core/internal/graph"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/kraph"
	"kraph/core/internal/names"
)

var (
	ctxGraph     string
	ctxBudget    int
	ctxMaxHops   int
	ctxMaxCost   float64
	ctxValidOnly bool
	ctxTypes     []string
	ctxEdgeKinds []string
	ctxExclude   []string
	ctxJSON      bool
)

var contextCmd = &cobra.Command{
	Use:   "context <node-id>",
	Short: "Dijkstra context expansion from a vertex",
	Long:  "Walks the graph outward from a vertex, ignoring edge direction, and lists the closest vertices with the path that reached them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, id, err := names.ParseNodeID(args[0])
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			graphID, err := nodeGraph(ctx, svc, ctxGraph, args[0])
			if err != nil {
				return err
			}
			snap, err := graph.Load(ctx, svc, graphID)
			if err != nil {
				return err
			}
			source, ok := snap.Nodes[id]
			if !ok {
				return kgerr.New(kgerr.KindNotFound, "cmd.context", "node %s is not in graph %s", args[0], graphID)
			}

			config := &graph.ContextConfig{
				Budget:           ctxBudget,
				MaxHops:          ctxMaxHops,
				MaxCost:          ctxMaxCost,
				EdgeKinds:        ctxEdgeKinds,
				ExcludeEdgeKinds: ctxExclude,
				Types:            ctxTypes,
				ValidOnly:        ctxValidOnly,
			}
			results := graph.ExpandContext(snap, id, config, time.Now())

			if ctxJSON {
				return printJSON(cmd.OutOrStdout(), struct {
					Source  *graph.NodeInfo     `json:"source"`
					Budget  int                 `json:"budget"`
					Results []graph.ContextNode `json:"results"`
					Count   int                 `json:"count"`
				}{source, ctxBudget, results, len(results)})
			}
			printContextHumanReadable(cmd.OutOrStdout(), source, results)
			return nil
		})
	},
}

func init() {
	contextCmd.Flags().StringVar(&ctxGraph, "graph", "", "Graph id (defaults to the graph named by the node id)")
	contextCmd.Flags().IntVar(&ctxBudget, "budget", 20, "Max vertices to return")
	contextCmd.Flags().IntVar(&ctxMaxHops, "max-hops", 6, "Max graph depth")
	contextCmd.Flags().Float64Var(&ctxMaxCost, "max-cost", 3.0, "Cost ceiling")
	contextCmd.Flags().BoolVar(&ctxValidOnly, "valid-only", false, "Skip edges whose validity window has ended")
	contextCmd.Flags().StringSliceVar(&ctxTypes, "type", nil, "Only report vertices of these types (others are still traversed)")
	contextCmd.Flags().StringSliceVar(&ctxEdgeKinds, "edge-kinds", nil, "Engine edge label allowlist")
	contextCmd.Flags().StringSliceVar(&ctxExclude, "exclude-edge-kinds", nil, "Engine edge label blocklist")
	contextCmd.Flags().BoolVar(&ctxJSON, "json", false, "JSON output")
	rootCmd.AddCommand(contextCmd)
}

// nodeGraph returns graphID, or when it is empty the id of the graph that
// holds nodeID.
func nodeGraph(ctx context.Context, svc *kraph.Service, graphID, nodeID string) (string, error) {
	if graphID != "" {
		return graphID, nil
	}
	g, err := svc.GraphOfNode(ctx, nodeID)
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

func printContextHumanReadable(w io.Writer, source *graph.NodeInfo, results []graph.ContextNode) {
	if len(results) == 0 {
		fmt.Fprintf(w, "No context vertices found for: %s\n", source.Label)
		return
	}

	fmt.Fprintf(w, "Context for: %s (%s)  budget=%d\n\n", source.Label, source.NodeID, ctxBudget)

	for _, r := range results {
		fmt.Fprintf(w, "  %2d. [%s] %s  dist=%.3f rel=%.0f%% hops=%d\n",
			r.Rank, r.Type, r.Label, r.Distance, r.Relevance*100, r.Hops)

		if len(r.Path) > 0 {
			hops := make([]string, len(r.Path))
			for i, hop := range r.Path {
				hops[i] = fmt.Sprintf("→[%s]→ %s", hop.EdgeKind, truncTitle(hop.Label, 40))
			}
			fmt.Fprintf(w, "      %s\n", strings.Join(hops, " "))
		}
	}

	fmt.Fprintf(w, "\n%d vertex(es) within budget\n", len(results))
}
