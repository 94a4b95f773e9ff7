package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"kraph/core/internal/kraph"
	"kraph/core/internal/ontology"
)

var (
	applyFile  string
	applyOwner string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Import categories from a YAML ontology",
	Long: `Creates the ontology's graph when no graph of that name exists, then creates
or updates every category, referenced categories first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := ontology.ParseFile(applyFile)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			res, err := ontology.Apply(ctx, svc, doc, applyOwner, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Ontology YAML file")
	applyCmd.Flags().StringVar(&applyOwner, "owner", "", "Owner of a newly created graph")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
