package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"kraph/core/internal/db"
	"kraph/core/internal/kraph"
)

var (
	queryInput queryFlags
	queryScope string
	queryNode  string
)

// queryFlags collects `query save` flags.
type queryFlags struct {
	GraphID     string
	Name        string
	Description string
	Kind        string
	Scope       string
	Body        string
	Columns     []string
	CategoryIDs []string
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Save and render read-only Cypher queries",
}

var querySaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save a query",
	Long: `Saves a read-only query. PATH queries return one path column, PAIRS queries
return left, right and edge columns, TABLE queries return the listed columns.
NODE-scoped queries bind the seed vertex as $id.`,
	Example: `  kraph query save --graph <id> --name around --kind PAIRS --scope NODE \
    --body 'MATCH (n)-[r]->(m) WHERE id(n) = $id RETURN n, m, r'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := kraph.QueryInput{
			GraphID:     queryInput.GraphID,
			Name:        queryInput.Name,
			Description: optionalString(cmd, "description", queryInput.Description),
			Kind:        queryInput.Kind,
			Scope:       queryInput.Scope,
			Body:        queryInput.Body,
			Columns:     queryInput.Columns,
			CategoryIDs: queryInput.CategoryIDs,
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			q, err := svc.SaveQuery(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), q)
		})
	},
}

var queryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a graph's saved queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			qs, err := svc.ListQueries(ctx, queryInput.GraphID, db.QueryScope(queryScope))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), qs)
		})
	},
}

var queryGetCmd = &cobra.Command{
	Use:   "get <query-id>",
	Short: "Show a saved query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			q, err := svc.GetQuery(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), q)
		})
	},
}

var queryDeleteCmd = &cobra.Command{
	Use:   "delete <query-id>",
	Short: "Delete a saved query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			if err := svc.DeleteQuery(ctx, args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"deleted": args[0]})
		})
	},
}

var queryRenderCmd = &cobra.Command{
	Use:   "render <query-id>",
	Short: "Run a graph-scoped query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			out, err := svc.RenderGraphQuery(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var queryRenderNodeCmd = &cobra.Command{
	Use:   "render-node <query-id>",
	Short: "Run a node-scoped query seeded at --node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			out, err := svc.RenderNodeQuery(ctx, args[0], queryNode)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

func init() {
	f := querySaveCmd.Flags()
	f.StringVar(&queryInput.GraphID, "graph", "", "Graph id")
	f.StringVar(&queryInput.Name, "name", "", "Query name, unique per graph")
	f.StringVar(&queryInput.Description, "description", "", "Description")
	f.StringVar(&queryInput.Kind, "kind", "", "PATH, PAIRS or TABLE")
	f.StringVar(&queryInput.Scope, "scope", "", "GRAPH (default) or NODE")
	f.StringVar(&queryInput.Body, "body", "", "Cypher body")
	f.StringSliceVar(&queryInput.Columns, "column", nil, "TABLE column name (repeatable, in RETURN order)")
	f.StringSliceVar(&queryInput.CategoryIDs, "category", nil, "Category the NODE query applies to (repeatable)")

	queryListCmd.Flags().StringVar(&queryInput.GraphID, "graph", "", "Graph id")
	queryListCmd.Flags().StringVar(&queryScope, "scope", "", "Only GRAPH or NODE queries")
	_ = queryListCmd.MarkFlagRequired("graph")

	queryRenderNodeCmd.Flags().StringVar(&queryNode, "node", "", "Seed node id")
	_ = queryRenderNodeCmd.MarkFlagRequired("node")

	queryCmd.AddCommand(querySaveCmd, queryListCmd, queryGetCmd, queryDeleteCmd, queryRenderCmd, queryRenderNodeCmd)
	rootCmd.AddCommand(queryCmd)
}
