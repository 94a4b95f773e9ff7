package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"kraph/core/internal/age"
	"kraph/core/internal/kraph"
)

var (
	edgeCategory   string
	edgeSource     string
	edgeTarget     string
	edgeValidFrom  string
	edgeValidTo    string
	edgeCreatedBy  string
	edgeThrough    string
	metricValueArg string
)

var measurementCmd = &cobra.Command{
	Use:   "measurement",
	Short: "Record measurements",
}

var relationCmd = &cobra.Command{
	Use:   "relation",
	Short: "Relate vertices",
}

var metricCmd = &cobra.Command{
	Use:   "metric",
	Short: "Attach metric values",
}

func edgeInput(cmd *cobra.Command) (kraph.EdgeInput, error) {
	in := kraph.EdgeInput{
		CategoryID:     edgeCategory,
		Source:         edgeSource,
		Target:         edgeTarget,
		CreatedBy:      optionalString(cmd, "created-by", edgeCreatedBy),
		CreatedThrough: optionalString(cmd, "created-through", edgeThrough),
	}
	var err error
	if in.ValidFrom, err = parseTime("valid-from", edgeValidFrom); err != nil {
		return in, err
	}
	if in.ValidTo, err = parseTime("valid-to", edgeValidTo); err != nil {
		return in, err
	}
	return in, nil
}

func edgeCreateCmd(short string, create func(*kraph.Service) func(context.Context, kraph.EdgeInput) (age.RetrievedRelation, error)) *cobra.Command {
	c := &cobra.Command{
		Use:   "create",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := edgeInput(cmd)
			if err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
				r, err := create(svc)(ctx, in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), r)
			})
		},
	}
	c.Flags().StringVar(&edgeCategory, "category", "", "Edge category id")
	c.Flags().StringVar(&edgeSource, "source", "", "Source node id")
	c.Flags().StringVar(&edgeTarget, "target", "", "Target node id")
	c.Flags().StringVar(&edgeValidFrom, "valid-from", "", "ISO-8601 start of validity")
	c.Flags().StringVar(&edgeValidTo, "valid-to", "", "ISO-8601 end of validity")
	c.Flags().StringVar(&edgeCreatedBy, "created-by", "", "Creating user")
	c.Flags().StringVar(&edgeThrough, "created-through", "", "Creating client")
	for _, f := range []string{"category", "source", "target"} {
		_ = c.MarkFlagRequired(f)
	}
	return c
}

// metricValue reads a JSON value (number, bool, list, quoted string) and
// falls back to the raw text.
func metricValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}

var metricCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Attach a metric to a vertex",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			m, err := svc.CreateMetric(ctx, kraph.MetricInput{
				CategoryID:     edgeCategory,
				Target:         edgeTarget,
				Value:          metricValue(metricValueArg),
				CreatedBy:      optionalString(cmd, "created-by", edgeCreatedBy),
				CreatedThrough: optionalString(cmd, "created-through", edgeThrough),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

func init() {
	measurementCmd.AddCommand(edgeCreateCmd("Create a measurement edge", func(s *kraph.Service) func(context.Context, kraph.EdgeInput) (age.RetrievedRelation, error) {
		return s.CreateMeasurement
	}))
	relationCmd.AddCommand(edgeCreateCmd("Create a relation edge", func(s *kraph.Service) func(context.Context, kraph.EdgeInput) (age.RetrievedRelation, error) {
		return s.CreateRelation
	}))

	metricCreateCmd.Flags().StringVar(&edgeCategory, "category", "", "Metric category id")
	metricCreateCmd.Flags().StringVar(&edgeTarget, "target", "", "Described node id")
	metricCreateCmd.Flags().StringVar(&metricValueArg, "value", "", "Value as JSON (42.5, true, [1,2]) or plain text")
	metricCreateCmd.Flags().StringVar(&edgeCreatedBy, "created-by", "", "Creating user")
	metricCreateCmd.Flags().StringVar(&edgeThrough, "created-through", "", "Creating client")
	for _, f := range []string{"category", "target", "value"} {
		_ = metricCreateCmd.MarkFlagRequired(f)
	}
	metricCmd.AddCommand(metricCreateCmd)

	rootCmd.AddCommand(measurementCmd, relationCmd, metricCmd)
}
