// Package names derives engine identifiers (graph names, vertex and edge
// labels, role labels) from human input, and encodes the identifiers that
// cross the service boundary.
//
// Derivation is deterministic and happens once, when a graph or category is
// created. Renaming a category never renames its engine label.
package names

import (
	"regexp"
	"strings"

	"kraph/core/internal/kgerr"
)

var identRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate rejects anything that is not a safe engine identifier. Every
// identifier interpolated into statement text must pass through here.
func Validate(ident string) error {
	if !identRE.MatchString(ident) {
		return kgerr.New(kgerr.KindInvalidName, "names.Validate", "invalid identifier %q", ident)
	}
	return nil
}

// slug keeps ASCII letters and underscores and turns spaces and hyphens into
// underscores. keepDigits additionally keeps 0-9.
func slug(s string, keepDigits bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-':
			b.WriteByte('_')
		case keepDigits && r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checked(op, input, out string) (string, error) {
	if out == "" || strings.Trim(out, "_") == "" {
		return "", kgerr.New(kgerr.KindInvalidName, op, "%q does not yield an identifier", input)
	}
	return out, Validate(out)
}

// GraphName maps a human graph name to its engine graph ("Lab A" -> "lab_a").
func GraphName(name string) (string, error) {
	return checked("names.GraphName", name, strings.ToLower(slug(name, false)))
}

// EntityName is the vertex label for entity, reagent, metric, structure and
// the edge label for measurement categories.
func EntityName(label string) (string, error) {
	return checked("names.EntityName", label, strings.ToLower(slug(label, false)))
}

// RelationName is the edge label of a relation category ("is about" -> "IS_ABOUT").
func RelationName(label string) (string, error) {
	return checked("names.RelationName", label, strings.ToUpper(slug(label, false)))
}

// EventName is the vertex label of protocol and natural event categories:
// the label's alphanumerics, lowercased, followed by "Event".
func EventName(label string) (string, error) {
	var b strings.Builder
	for _, r := range label {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", kgerr.New(kgerr.KindInvalidName, "names.EventName", "%q does not yield an identifier", label)
	}
	return checked("names.EventName", label, strings.ToLower(b.String())+"Event")
}

func roleLabel(prefix, role string) (string, error) {
	s := strings.ToUpper(slug(role, true))
	if s == "" {
		return "", kgerr.New(kgerr.KindInvalidName, "names.roleLabel", "role %q does not yield an identifier", role)
	}
	return checked("names.roleLabel", role, prefix+s)
}

// InRole is the edge label joining a source participant to an event.
func InRole(role string) (string, error) { return roleLabel("IN_", role) }

// OutRole is the edge label joining an event to a target participant.
func OutRole(role string) (string, error) { return roleLabel("OUT_", role) }

// DescribesLabel is the edge label joining a metric to the node it describes.
const DescribesLabel = "DESCRIBES"
