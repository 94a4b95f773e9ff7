package cmd

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kraph/core/internal/kgerr"
	"kraph/core/internal/kraph"
)

var (
	eventFile       string
	eventNatural    bool
	eventCategory   string
	eventName       string
	eventExternalID string
	eventSources    []string
	eventTargets    []string
	eventVariables  []string
	eventValidFrom  string
	eventValidTo    string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Record events",
}

var eventRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a protocol or natural event",
	Long: `Records an event from flags or from a JSON document with -f.
Roles are given as role=node or role=node@quantity, variables as key=value
where value is read as JSON when it parses.`,
	Example: `  kraph event record --category <id> --source dye=lab:12@2.5 --target sample=lab:7 --var duration=30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := eventInput(cmd)
		if err != nil {
			return err
		}
		return withService(cmd, func(ctx context.Context, svc *kraph.Service) error {
			record := svc.RecordProtocolEvent
			if eventNatural {
				record = svc.RecordNaturalEvent
			}
			rec, err := record(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rec)
		})
	},
}

func eventInput(cmd *cobra.Command) (kraph.EventInput, error) {
	var in kraph.EventInput
	if eventFile != "" {
		err := readInput(eventFile, os.Stdin, &in)
		return in, err
	}
	in = kraph.EventInput{
		CategoryID: eventCategory,
		Name:       optionalString(cmd, "name", eventName),
		ExternalID: optionalString(cmd, "external-id", eventExternalID),
	}
	var err error
	if in.Sources, err = parseRoleMappings(eventSources); err != nil {
		return in, err
	}
	if in.Targets, err = parseRoleMappings(eventTargets); err != nil {
		return in, err
	}
	for _, raw := range eventVariables {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return in, kgerr.New(kgerr.KindValidation, "cmd.eventInput", "variable %q must be key=value", raw)
		}
		in.Variables = append(in.Variables, kraph.VariableMapping{Key: key, Value: metricValue(value)})
	}
	if in.ValidFrom, err = parseTime("valid-from", eventValidFrom); err != nil {
		return in, err
	}
	if in.ValidTo, err = parseTime("valid-to", eventValidTo); err != nil {
		return in, err
	}
	return in, nil
}

// parseRoleMappings reads role=node[@quantity] arguments.
func parseRoleMappings(raw []string) ([]kraph.RoleMapping, error) {
	var out []kraph.RoleMapping
	for _, r := range raw {
		role, node, ok := strings.Cut(r, "=")
		if !ok || role == "" || node == "" {
			return nil, kgerr.New(kgerr.KindValidation, "cmd.parseRoleMappings", "role mapping %q must be role=node[@quantity]", r)
		}
		m := kraph.RoleMapping{Key: role, Node: node}
		if node, qty, ok := strings.Cut(node, "@"); ok {
			q, err := strconv.ParseFloat(qty, 64)
			if err != nil {
				return nil, kgerr.Wrap(kgerr.KindValidation, "cmd.parseRoleMappings", err, "quantity in %q", r)
			}
			m.Node, m.Quantity = node, &q
		}
		out = append(out, m)
	}
	return out, nil
}

func init() {
	f := eventRecordCmd.Flags()
	f.StringVarP(&eventFile, "file", "f", "", "JSON event document (- for stdin)")
	f.BoolVar(&eventNatural, "natural", false, "Record a natural event")
	f.StringVar(&eventCategory, "category", "", "Event category id")
	f.StringVar(&eventName, "name", "", "Event name (defaults to the category label)")
	f.StringVar(&eventExternalID, "external-id", "", "External id; recording it again returns the existing event")
	f.StringArrayVar(&eventSources, "source", nil, "Source role mapping role=node[@quantity] (repeatable)")
	f.StringArrayVar(&eventTargets, "target", nil, "Target role mapping role=node[@quantity] (repeatable)")
	f.StringArrayVar(&eventVariables, "var", nil, "Protocol variable key=value (repeatable)")
	f.StringVar(&eventValidFrom, "valid-from", "", "ISO-8601 start of validity")
	f.StringVar(&eventValidTo, "valid-to", "", "ISO-8601 end of validity")
	eventCmd.AddCommand(eventRecordCmd)
	rootCmd.AddCommand(eventCmd)
}
