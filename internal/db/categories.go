package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const categorySelect = `
	SELECT c.id, c.graph_id, g.age_name, c.kind, c.label, c.age_name,
	       c.description, c.purl, c.color, c.store_id, c.sequence_id, s.name,
	       c.position_x, c.position_y, c.variant, c.created_at, c.updated_at
	FROM categories c
	JOIN graphs g ON g.id = c.graph_id
	LEFT JOIN sequences s ON s.id = c.sequence_id`

// scanCategory scans a row produced by categorySelect.
func scanCategory(scanner interface{ Scan(dest ...any) error }) (Category, error) {
	var (
		c       Category
		color   sql.NullString
		payload string
	)
	err := scanner.Scan(
		&c.ID, &c.GraphID, &c.GraphAgeName, &c.Kind, &c.Label, &c.AgeName,
		&c.Description, &c.Purl, &color, &c.StoreID, &c.SequenceID, &c.SequenceName,
		&c.PositionX, &c.PositionY, &payload, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	if color.Valid && color.String != "" {
		if err := json.Unmarshal([]byte(color.String), &c.Color); err != nil {
			return c, fmt.Errorf("decoding color of category %s: %w", c.ID, err)
		}
	}
	var v variant
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return c, fmt.Errorf("decoding variant of category %s: %w", c.ID, err)
	}
	c.Structure, c.Metric, c.Edge, c.Event = v.Structure, v.Metric, v.Edge, v.Event
	return c, nil
}

func encodeCategory(c *Category) (color *string, payload string, identifier *string, err error) {
	if len(c.Color) > 0 {
		b, err := json.Marshal(c.Color)
		if err != nil {
			return nil, "", nil, err
		}
		s := string(b)
		color = &s
	}
	b, err := json.Marshal(variant{Structure: c.Structure, Metric: c.Metric, Edge: c.Edge, Event: c.Event})
	if err != nil {
		return nil, "", nil, err
	}
	if c.Structure != nil {
		id := c.Structure.Identifier
		identifier = &id
	}
	return color, string(b), identifier, nil
}

// InsertCategory stores c together with its tags. ID and timestamps are
// assigned when unset.
func (q *Queries) InsertCategory(ctx context.Context, c *Category) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := q.nowMillis()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	color, payload, identifier, err := encodeCategory(c)
	if err != nil {
		return fmt.Errorf("encoding category %q: %w", c.Label, err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO categories (id, graph_id, kind, label, age_name, description, purl, color,
		                        store_id, sequence_id, identifier, position_x, position_y,
		                        variant, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GraphID, string(c.Kind), c.Label, c.AgeName, c.Description, c.Purl, color,
		c.StoreID, c.SequenceID, identifier, c.PositionX, c.PositionY,
		payload, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return classify("db.InsertCategory", err, "category %q in graph %s", c.AgeName, c.GraphID)
	}
	return q.SetCategoryTags(ctx, c.ID, c.Tags)
}

// UpdateCategory rewrites the mutable columns of c. age_name, kind and
// graph never change.
func (q *Queries) UpdateCategory(ctx context.Context, c *Category) error {
	c.UpdatedAt = q.nowMillis()
	color, payload, identifier, err := encodeCategory(c)
	if err != nil {
		return fmt.Errorf("encoding category %q: %w", c.Label, err)
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE categories
		SET label = ?, description = ?, purl = ?, color = ?, store_id = ?, sequence_id = ?,
		    identifier = ?, position_x = ?, position_y = ?, variant = ?, updated_at = ?
		WHERE id = ?`,
		c.Label, c.Description, c.Purl, color, c.StoreID, c.SequenceID,
		identifier, c.PositionX, c.PositionY, payload, c.UpdatedAt, c.ID,
	)
	return expectOne("db.UpdateCategory", res, err, "category %s", c.ID)
}

// GetCategory returns a single category by ID
func (q *Queries) GetCategory(ctx context.Context, id string) (*Category, error) {
	row := q.q.QueryRowContext(ctx, categorySelect+` WHERE c.id = ?`, id)
	c, err := scanCategory(row)
	if err != nil {
		return nil, classify("db.GetCategory", err, "category %s", id)
	}
	if err := q.attachCategoryRelations(ctx, []*Category{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCategory returns the category of a graph with the given engine label.
func (q *Queries) FindCategory(ctx context.Context, graphID, ageName string) (*Category, error) {
	row := q.q.QueryRowContext(ctx, categorySelect+` WHERE c.graph_id = ? AND c.age_name = ?`, graphID, ageName)
	c, err := scanCategory(row)
	if err != nil {
		return nil, classify("db.FindCategory", err, "category %q in graph %s", ageName, graphID)
	}
	if err := q.attachCategoryRelations(ctx, []*Category{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindStructureCategory returns the structure category with an identifier
// such as "@mikro/image".
func (q *Queries) FindStructureCategory(ctx context.Context, graphID, identifier string) (*Category, error) {
	row := q.q.QueryRowContext(ctx, categorySelect+` WHERE c.graph_id = ? AND c.identifier = ?`, graphID, identifier)
	c, err := scanCategory(row)
	if err != nil {
		return nil, classify("db.FindStructureCategory", err, "structure %q in graph %s", identifier, graphID)
	}
	if err := q.attachCategoryRelations(ctx, []*Category{&c}); err != nil {
		return nil, err
	}
	return &c, nil
}

// CategoryFilter selects categories. Zero fields do not filter.
type CategoryFilter struct {
	GraphID  string
	IDs      []string
	Kinds    []Kind
	Tags     []string // category carries any of these
	Search   string   // case-insensitive substring of label
	PinnedBy string
	Limit    int
	Offset   int
}

// ListCategories returns categories matching f ordered by creation time.
func (q *Queries) ListCategories(ctx context.Context, f CategoryFilter) ([]Category, error) {
	var (
		where []string
		args  []any
	)
	if f.GraphID != "" {
		where = append(where, "c.graph_id = ?")
		args = append(args, f.GraphID)
	}
	if len(f.IDs) > 0 {
		where = append(where, "c.id IN ("+placeholders(len(f.IDs))+")")
		args = append(args, stringArgs(f.IDs)...)
	}
	if len(f.Kinds) > 0 {
		where = append(where, "c.kind IN ("+placeholders(len(f.Kinds))+")")
		for _, k := range f.Kinds {
			args = append(args, string(k))
		}
	}
	if len(f.Tags) > 0 {
		where = append(where, `c.id IN (SELECT ct.category_id FROM category_tags ct
			JOIN tags t ON t.id = ct.tag_id WHERE t.value IN (`+placeholders(len(f.Tags))+`))`)
		args = append(args, stringArgs(f.Tags)...)
	}
	if f.Search != "" {
		where = append(where, `c.label LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Search))
	}
	if f.PinnedBy != "" {
		where = append(where, "c.id IN (SELECT category_id FROM category_pins WHERE user_id = ?)")
		args = append(args, f.PinnedBy)
	}

	query := categorySelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.created_at, c.id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("db.ListCategories", err, "listing categories")
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, classify("db.ListCategories", err, "scanning category")
		}
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("db.ListCategories", err, "listing categories")
	}

	ptrs := make([]*Category, len(cats))
	for i := range cats {
		ptrs[i] = &cats[i]
	}
	if err := q.attachCategoryRelations(ctx, ptrs); err != nil {
		return nil, err
	}
	return cats, nil
}

// DeleteCategory removes a category row; tags and pins cascade.
func (q *Queries) DeleteCategory(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	return expectOne("db.DeleteCategory", res, err, "category %s", id)
}

// SetCategoryTags replaces the tag set of a category (clear, then add).
func (q *Queries) SetCategoryTags(ctx context.Context, id string, tags []string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM category_tags WHERE category_id = ?`, id); err != nil {
		return classify("db.SetCategoryTags", err, "clearing tags of %s", id)
	}
	for _, tag := range tags {
		if _, err := q.q.ExecContext(ctx, `INSERT OR IGNORE INTO tags (value) VALUES (?)`, tag); err != nil {
			return classify("db.SetCategoryTags", err, "tag %q", tag)
		}
		_, err := q.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO category_tags (category_id, tag_id)
			SELECT ?, id FROM tags WHERE value = ?`, id, tag)
		if err != nil {
			return classify("db.SetCategoryTags", err, "tagging %s with %q", id, tag)
		}
	}
	return nil
}

// SetCategoryPins replaces the users pinning a category (clear, then add).
func (q *Queries) SetCategoryPins(ctx context.Context, id string, users []string) error {
	if _, err := q.q.ExecContext(ctx, `DELETE FROM category_pins WHERE category_id = ?`, id); err != nil {
		return classify("db.SetCategoryPins", err, "clearing pins of %s", id)
	}
	for _, u := range users {
		if err := q.SetCategoryPin(ctx, id, u, true); err != nil {
			return err
		}
	}
	return nil
}

// SetCategoryPin pins or unpins a category for one user.
func (q *Queries) SetCategoryPin(ctx context.Context, id, user string, pinned bool) error {
	var err error
	if pinned {
		_, err = q.q.ExecContext(ctx, `INSERT OR IGNORE INTO category_pins (category_id, user_id) VALUES (?, ?)`, id, user)
	} else {
		_, err = q.q.ExecContext(ctx, `DELETE FROM category_pins WHERE category_id = ? AND user_id = ?`, id, user)
	}
	return classify("db.SetCategoryPin", err, "pinning category %s", id)
}

// BindSequence attaches (or with nil detaches) a sequence to a category.
func (q *Queries) BindSequence(ctx context.Context, categoryID string, sequenceID *string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE categories SET sequence_id = ?, updated_at = ? WHERE id = ?`,
		sequenceID, q.nowMillis(), categoryID)
	return expectOne("db.BindSequence", res, err, "category %s", categoryID)
}

// attachCategoryRelations loads tags and pins for cats in two queries.
func (q *Queries) attachCategoryRelations(ctx context.Context, cats []*Category) error {
	if len(cats) == 0 {
		return nil
	}
	byID := make(map[string]*Category, len(cats))
	ids := make([]string, len(cats))
	for i, c := range cats {
		c.Tags, c.PinnedBy = []string{}, []string{}
		byID[c.ID] = c
		ids[i] = c.ID
	}

	load := func(query string, add func(c *Category, v string)) error {
		rows, err := q.q.QueryContext(ctx, query, stringArgs(ids)...)
		if err != nil {
			return classify("db.attachCategoryRelations", err, "loading category relations")
		}
		defer rows.Close()
		for rows.Next() {
			var id, v string
			if err := rows.Scan(&id, &v); err != nil {
				return classify("db.attachCategoryRelations", err, "scanning category relations")
			}
			if c, ok := byID[id]; ok {
				add(c, v)
			}
		}
		return rows.Err()
	}

	in := placeholders(len(ids))
	if err := load(`SELECT ct.category_id, t.value FROM category_tags ct JOIN tags t ON t.id = ct.tag_id
		WHERE ct.category_id IN (`+in+`) ORDER BY t.value`,
		func(c *Category, v string) { c.Tags = append(c.Tags, v) }); err != nil {
		return err
	}
	return load(`SELECT category_id, user_id FROM category_pins WHERE category_id IN (`+in+`) ORDER BY user_id`,
		func(c *Category, v string) { c.PinnedBy = append(c.PinnedBy, v) })
}
