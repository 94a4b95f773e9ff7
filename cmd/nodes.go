package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"kraph/core/internal/age"
	"kraph/core/internal/kraph"
)

var (
	nodeCategory   string
	nodeName       string
	nodeExternalID string
	nodeActive     bool
	nodeFilter     kraph.NodeFilter
	nodeSearch     string
	nodeAfter      string
	nodeBefore     string
	nodeOrder      string

	structureGraph  string
	structureScalar string
	structureObject string
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Create and list entities",
}

var reagentCmd = &cobra.Command{
	Use:   "reagent",
	Short: "Create, list and activate reagents",
}

var structureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Reference external objects",
}

func instanceInput(cmd *cobra.Command) kraph.EntityInput {
	return kraph.EntityInput{
		CategoryID: nodeCategory,
		Name:       optionalString(cmd, "name", nodeName),
		ExternalID: optionalString(cmd, "external-id", nodeExternalID),
		SetActive:  nodeActive,
	}
}

var entityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an entity (upserts on --external-id)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			e, err := svc.CreateEntity(ctx, instanceInput(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		})
	},
}

var reagentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a reagent (upserts on --external-id)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			r, err := svc.CreateReagent(ctx, instanceInput(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		})
	},
}

var entityGetCmd = &cobra.Command{
	Use:   "get <node-id>",
	Short: "Show a vertex by its <graph>:<id> node id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			e, err := svc.GetEntity(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		})
	},
}

// listFilter completes the shared filter flags.
func listFilter(cmd *cobra.Command) (kraph.NodeFilter, error) {
	f := nodeFilter
	f.Search = optionalString(cmd, "search", nodeSearch)
	f.Order = kraph.Order(nodeOrder)
	for flag, dst := range map[string]**time.Time{"created-after": &f.CreatedAfter, "created-before": &f.CreatedBefore} {
		v, _ := cmd.Flags().GetString(flag)
		t, err := parseTime(flag, v)
		if err != nil {
			return f, err
		}
		*dst = t
	}
	return f, nil
}

func listCmd(short string, list func(*kraph.Service) func(context.Context, kraph.NodeFilter) ([]age.RetrievedEntity, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := listFilter(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
				nodes, err := list(svc)(ctx, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nodes)
			})
		},
	}
}

var entityListCmd = listCmd("List entities", func(s *kraph.Service) func(context.Context, kraph.NodeFilter) ([]age.RetrievedEntity, error) {
	return s.GetEntities
})

var reagentListCmd = listCmd("List reagents", func(s *kraph.Service) func(context.Context, kraph.NodeFilter) ([]age.RetrievedEntity, error) {
	return s.GetReagents
})

var reagentActivateCmd = &cobra.Command{
	Use:   "activate <node-id>",
	Short: "Make a reagent the active one of its category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			r, err := svc.SetActiveReagent(ctx, nodeCategory, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		})
	},
}

var reagentActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the active reagent of a category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			r, err := svc.GetActiveReagent(ctx, nodeCategory)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		})
	},
}

var structureCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Get or create the structure vertex of an object",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			s, err := svc.CreateStructure(ctx, kraph.StructureInput{
				GraphID:    structureGraph,
				CategoryID: nodeCategory,
				Object:     structureObject,
				Structure:  structureScalar,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		})
	},
}

func addInstanceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&nodeCategory, "category", "", "Category id")
	cmd.Flags().StringVar(&nodeName, "name", "", "Instance name (defaults to the category label)")
	cmd.Flags().StringVar(&nodeExternalID, "external-id", "", "External id; an existing instance with it is updated")
	_ = cmd.MarkFlagRequired("category")
}

func addListFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&nodeFilter.GraphID, "graph", "", "Graph id")
	cmd.Flags().StringSliceVar(&nodeFilter.Categories, "category", nil, "Category id (repeatable)")
	cmd.Flags().StringSliceVar(&nodeFilter.Tags, "tag", nil, "Category tag (repeatable)")
	cmd.Flags().StringSliceVar(&nodeFilter.ExternalIDs, "external-id", nil, "External id (repeatable)")
	cmd.Flags().StringSliceVar(&nodeFilter.IDs, "id", nil, "Node id (repeatable)")
	cmd.Flags().StringVar(&nodeSearch, "search", "", "Case-insensitive name substring")
	cmd.Flags().String("created-after", "", "ISO-8601 lower bound on creation time")
	cmd.Flags().String("created-before", "", "ISO-8601 upper bound on creation time")
	cmd.Flags().StringVar(&nodeOrder, "order", "", "latest or id")
	addPageFlags(cmd, &nodeFilter.Page)
}

func init() {
	addInstanceFlags(entityCreateCmd)
	addInstanceFlags(reagentCreateCmd)
	reagentCreateCmd.Flags().BoolVar(&nodeActive, "active", false, "Activate the reagent after creating it")

	addListFlags(entityListCmd)
	addListFlags(reagentListCmd)
	reagentListCmd.Flags().BoolVar(&nodeFilter.Active, "active", false, "Only active reagents")

	for _, c := range []*cobra.Command{reagentActivateCmd, reagentActiveCmd} {
		c.Flags().StringVar(&nodeCategory, "category", "", "Reagent category id")
		_ = c.MarkFlagRequired("category")
	}

	structureCreateCmd.Flags().StringVar(&structureGraph, "graph", "", "Graph id (with --structure)")
	structureCreateCmd.Flags().StringVar(&nodeCategory, "category", "", "Structure category id")
	structureCreateCmd.Flags().StringVar(&structureScalar, "structure", "", "Structure scalar <identifier>:<object>, e.g. @mikro/image:566")
	structureCreateCmd.Flags().StringVar(&structureObject, "object", "", "External object id (with --category)")

	entityCmd.AddCommand(entityCreateCmd, entityGetCmd, entityListCmd)
	reagentCmd.AddCommand(reagentCreateCmd, reagentActivateCmd, reagentActiveCmd, reagentListCmd)
	structureCmd.AddCommand(structureCreateCmd)
	rootCmd.AddCommand(entityCmd, reagentCmd, structureCmd)
}
