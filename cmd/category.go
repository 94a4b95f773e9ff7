package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/kraph"
)

var (
	categoryFile     string
	categoryGraph    string
	categoryKind     string
	categoryLabel    string
	categoryTags     []string
	categorySequence bool
	categoryUser     string
	categoryUnpin    bool
	categoryPinSet   []string
	categoryFilter   db.CategoryFilter
	categoryKinds    []string
)

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Manage categories",
}

var categoryCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or upsert a category",
	Long: `Creates a category from flags, or from a JSON document with -f (use - for stdin).
A category whose engine label and kind already exist in the graph is updated instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := kraph.CategoryInput{
			GraphID:            categoryGraph,
			Kind:               db.Kind(categoryKind),
			Label:              categoryLabel,
			Tags:               categoryTags,
			AutoCreateSequence: categorySequence,
		}
		if categoryFile != "" {
			in = kraph.CategoryInput{}
			if err := readInput(categoryFile, os.Stdin, &in); err != nil {
				return err
			}
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			cat, err := svc.CreateCategory(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cat)
		})
	},
}

var categoryUpdateCmd = &cobra.Command{
	Use:   "update <category-id>",
	Short: "Update a category from a JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd kraph.CategoryUpdate
		if err := readInput(categoryFile, os.Stdin, &upd); err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			cat, err := svc.UpdateCategory(ctx, args[0], upd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cat)
		})
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <category-id>",
	Short: "Delete a category, its label, its instances and its sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			if err := svc.DeleteCategory(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		})
	},
}

var categoryPinCmd = &cobra.Command{
	Use:   "pin <category-id>",
	Short: "Pin or unpin a category for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			var (
				cat *db.Category
				err error
			)
			if cmd.Flags().Changed("set") {
				cat, err = svc.SetCategoryPins(ctx, args[0], categoryPinSet)
			} else if categoryUser == "" {
				return kgerr.New(kgerr.KindValidation, "cmd.category.pin", "--user or --set is required")
			} else {
				cat, err = svc.PinCategory(ctx, args[0], categoryUser, !categoryUnpin)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cat)
		})
	},
}

var categorySequenceCmd = &cobra.Command{
	Use:   "sequence <category-id>",
	Short: "Show the sequence bound to a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			seq, err := svc.CategorySequence(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), seq)
		})
	},
}

var categoryGetCmd = &cobra.Command{
	Use:   "get <category-id>",
	Short: "Show a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			cat, err := svc.GetCategory(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cat)
		})
	},
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := categoryFilter
		for _, k := range categoryKinds {
			f.Kinds = append(f.Kinds, db.Kind(k))
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			cats, err := svc.ListCategories(ctx, f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cats)
		})
	},
}

var categorySearchLimit int

var categorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find categories of a graph by label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			cats, err := svc.SearchCategories(ctx, categoryFilter.GraphID, args[0], categorySearchLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cats)
		})
	},
}

func init() {
	categoryCreateCmd.Flags().StringVarP(&categoryFile, "file", "f", "", "JSON category document (- for stdin)")
	categoryCreateCmd.Flags().StringVar(&categoryGraph, "graph", "", "Graph id")
	categoryCreateCmd.Flags().StringVar(&categoryKind, "kind", "", "ENTITY, REAGENT, STRUCTURE, METRIC, NATURAL_EVENT, PROTOCOL_EVENT, MEASUREMENT or RELATION")
	categoryCreateCmd.Flags().StringVar(&categoryLabel, "label", "", "Category label")
	categoryCreateCmd.Flags().StringSliceVar(&categoryTags, "tag", nil, "Tag (repeatable)")
	categoryCreateCmd.Flags().BoolVar(&categorySequence, "sequence", false, "Bind a default sequence")

	categoryUpdateCmd.Flags().StringVarP(&categoryFile, "file", "f", "-", "JSON update document (- for stdin)")

	categoryPinCmd.Flags().StringVar(&categoryUser, "user", "", "User pinning the category")
	categoryPinCmd.Flags().BoolVar(&categoryUnpin, "unpin", false, "Remove the pin instead")
	categoryPinCmd.Flags().StringSliceVar(&categoryPinSet, "set", nil, "Replace every pin with these users (empty clears)")
	categoryPinCmd.MarkFlagsMutuallyExclusive("user", "set")

	categoryListCmd.Flags().StringVar(&categoryFilter.GraphID, "graph", "", "Graph id")
	categoryListCmd.Flags().StringSliceVar(&categoryFilter.IDs, "id", nil, "Category id (repeatable)")
	categoryListCmd.Flags().StringSliceVar(&categoryKinds, "kind", nil, "Category kind (repeatable)")
	categoryListCmd.Flags().StringSliceVar(&categoryFilter.Tags, "tag", nil, "Categories carrying any of these tags")
	categoryListCmd.Flags().StringVar(&categoryFilter.Search, "search", "", "Case-insensitive label substring")
	categoryListCmd.Flags().StringVar(&categoryFilter.PinnedBy, "pinned-by", "", "Only categories pinned by this user")
	categoryListCmd.Flags().IntVar(&categoryFilter.Limit, "limit", 0, "Maximum results (0 for all)")
	categoryListCmd.Flags().IntVar(&categoryFilter.Offset, "offset", 0, "Results to skip")

	categorySearchCmd.Flags().StringVar(&categoryFilter.GraphID, "graph", "", "Graph id")
	categorySearchCmd.Flags().IntVar(&categorySearchLimit, "limit", 20, "Maximum results")
	_ = categorySearchCmd.MarkFlagRequired("graph")

	categoryCmd.AddCommand(categoryCreateCmd, categoryUpdateCmd, categoryDeleteCmd, categoryPinCmd, categoryGetCmd, categoryListCmd, categorySearchCmd, categorySequenceCmd)
	rootCmd.AddCommand(categoryCmd)
}
