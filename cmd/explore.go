package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"kraph/core/internal/db"
	"kraph/core/internal/kraph"
)

var (
	explorePage  kraph.Page
	exploreGraph string
	latestTypes  []string
	pairFilter   kraph.PairFilter
	pairLeft     string
	pairRight    string
)

var neighborsCmd = &cobra.Command{
	Use:   "neighbors <node-id>",
	Short: "Show a vertex with its adjacent edges and vertices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			sg, err := svc.GetNeighborsAndEdges(ctx, args[0], explorePage)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sg)
		})
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "List the most recently created vertices of a graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		var types []db.Kind
		for _, t := range latestTypes {
			types = append(types, db.Kind(t))
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			nodes, err := svc.SelectLatestNodes(ctx, exploreGraph, types, explorePage)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), nodes)
		})
	},
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List (left, right, edge) triples matching category filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := pairFilter
		f.GraphID = exploreGraph
		f.Page = explorePage
		f.LeftSearch = optionalString(cmd, "left-search", pairLeft)
		f.RightSearch = optionalString(cmd, "right-search", pairRight)
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			pairs, err := svc.SelectPairedEntities(ctx, f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pairs)
		})
	},
}

func init() {
	addPageFlags(neighborsCmd, &explorePage)

	latestCmd.Flags().StringVar(&exploreGraph, "graph", "", "Graph id")
	latestCmd.Flags().StringSliceVar(&latestTypes, "type", nil, "Vertex kind (repeatable), e.g. ENTITY or PROTOCOL_EVENT")
	addPageFlags(latestCmd, &explorePage)
	_ = latestCmd.MarkFlagRequired("graph")

	pairsCmd.Flags().StringVar(&exploreGraph, "graph", "", "Graph id")
	pairsCmd.Flags().StringSliceVar(&pairFilter.LeftCategories, "left", nil, "Left category id (repeatable)")
	pairsCmd.Flags().StringSliceVar(&pairFilter.RightCategories, "right", nil, "Right category id (repeatable)")
	pairsCmd.Flags().StringSliceVar(&pairFilter.RelationCategories, "relation", nil, "Edge category id (repeatable)")
	pairsCmd.Flags().StringVar(&pairLeft, "left-search", "", "Left name substring")
	pairsCmd.Flags().StringVar(&pairRight, "right-search", "", "Right name substring")
	addPageFlags(pairsCmd, &explorePage)
	_ = pairsCmd.MarkFlagRequired("graph")

	rootCmd.AddCommand(neighborsCmd, latestCmd, pairsCmd)
}
