package db

import (
	"context"
	"strings"
)

// likePattern builds a substring LIKE pattern, escaping % and _ with '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}

// SearchCategories finds categories whose label contains query, ignoring
// case. Returns an empty slice for a blank query.
func (q *Queries) SearchCategories(ctx context.Context, graphID, query string, limit int) ([]Category, error) {
	if strings.TrimSpace(query) == "" {
		return []Category{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return q.ListCategories(ctx, CategoryFilter{GraphID: graphID, Search: query, Limit: limit})
}
