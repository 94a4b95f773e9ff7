package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"kraph/core/internal/kraph"
)

var (
	graphName        string
	graphOwner       string
	graphDescription string
	graphUser        string
	graphUnpin       bool
	graphPinnedBy    string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Manage graphs",
}

var graphCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a graph and its engine graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			g, err := svc.CreateGraph(ctx, kraph.GraphInput{
				Name:        graphName,
				Owner:       graphOwner,
				Description: optionalString(cmd, "description", graphDescription),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		})
	},
}

var graphUpdateCmd = &cobra.Command{
	Use:   "update <graph-id>",
	Short: "Rename or describe a graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			g, err := svc.UpdateGraph(ctx, args[0], kraph.GraphUpdate{
				Name:        optionalString(cmd, "name", graphName),
				Description: optionalString(cmd, "description", graphDescription),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		})
	},
}

var graphDeleteCmd = &cobra.Command{
	Use:   "delete <graph-id>",
	Short: "Drop a graph with every category and record in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			if err := svc.DeleteGraph(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		})
	},
}

var graphPinCmd = &cobra.Command{
	Use:   "pin <graph-id>",
	Short: "Pin or unpin a graph for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			g, err := svc.PinGraph(ctx, args[0], graphUser, !graphUnpin)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		})
	},
}

var graphGetCmd = &cobra.Command{
	Use:   "get <graph-id>",
	Short: "Show a graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			g, err := svc.GetGraph(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), g)
		})
	},
}

var graphSequencesCmd = &cobra.Command{
	Use:   "sequences <graph-id>",
	Short: "List the sequences of a graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			seqs, err := svc.ListSequences(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), seqs)
		})
	},
}

var graphListCmd = &cobra.Command{
	Use:   "list",
	Short: "List graphs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			graphs, err := svc.ListGraphs(ctx, graphPinnedBy)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), graphs)
		})
	},
}

func init() {
	graphCreateCmd.Flags().StringVar(&graphName, "name", "", "Graph name (engine name is derived from it)")
	graphCreateCmd.Flags().StringVar(&graphOwner, "owner", "", "Owning user")
	graphCreateCmd.Flags().StringVar(&graphDescription, "description", "", "Description")
	_ = graphCreateCmd.MarkFlagRequired("name")

	graphUpdateCmd.Flags().StringVar(&graphName, "name", "", "New name")
	graphUpdateCmd.Flags().StringVar(&graphDescription, "description", "", "New description")

	graphPinCmd.Flags().StringVar(&graphUser, "user", "", "User pinning the graph")
	graphPinCmd.Flags().BoolVar(&graphUnpin, "unpin", false, "Remove the pin instead")
	_ = graphPinCmd.MarkFlagRequired("user")

	graphListCmd.Flags().StringVar(&graphPinnedBy, "pinned-by", "", "Only graphs pinned by this user")

	graphCmd.AddCommand(graphCreateCmd, graphUpdateCmd, graphDeleteCmd, graphPinCmd, graphGetCmd, graphListCmd, graphSequencesCmd)
	rootCmd.AddCommand(graphCmd)
}
