package kraph

import (
	"context"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

// EntityInput creates an entity or a reagent. With ExternalID set the call
// is an upsert: a node of the category with that id is relabelled and
// returned instead of creating another.
type EntityInput struct {
	CategoryID string  `json:"category_id" validate:"required"`
	Name       *string `json:"name"`
	ExternalID *string `json:"external_id"`
	SetActive  bool    `json:"set_active"` // reagents only
}

// CreateEntity creates or upserts an entity.
func (s *Service) CreateEntity(ctx context.Context, in EntityInput) (age.RetrievedEntity, error) {
	return s.createInstance(ctx, "kraph.CreateEntity", db.KindEntity, in)
}

// CreateReagent creates or upserts a reagent, optionally making it the
// active reagent of its category.
func (s *Service) CreateReagent(ctx context.Context, in EntityInput) (age.RetrievedEntity, error) {
	return s.createInstance(ctx, "kraph.CreateReagent", db.KindReagent, in)
}

func (s *Service) createInstance(ctx context.Context, op string, kind db.Kind, in EntityInput) (age.RetrievedEntity, error) {
	if err := s.check(op, in); err != nil {
		return age.RetrievedEntity{}, err
	}
	if in.SetActive && kind != db.KindReagent {
		return age.RetrievedEntity{}, kgerr.New(kgerr.KindValidation, op, "only reagents can be active")
	}
	cat, err := s.category(ctx, op, in.CategoryID, kind)
	if err != nil {
		return age.RetrievedEntity{}, err
	}

	var out age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		v := vertex{cat: cat, label: cat.Label, externalID: in.ExternalID}
		if in.Name != nil {
			v.label = *in.Name
		}
		var err error
		if out, _, err = s.upsertVertex(ctx, c, v); err != nil {
			return err
		}
		if in.SetActive {
			out, err = activate(ctx, c, cat, out.ID)
		}
		return err
	})
	return out, err
}

// vertex describes a node about to be written.
type vertex struct {
	cat        *db.Category
	label      string
	externalID *string
	props      map[string]any // extra properties, reserved or user
}

// upsertVertex either relabels the node carrying the external id or creates
// a new one. created reports which happened.
func (s *Service) upsertVertex(ctx context.Context, c age.Querier, v vertex) (age.RetrievedEntity, bool, error) {
	if e, ok, err := s.matchExternal(ctx, c, v); err != nil || ok {
		return e, false, err
	}
	e, err := s.createVertex(ctx, c, v)
	return e, true, err
}

// matchExternal relabels the node of v's category carrying v's external id.
// ok is false when v has no external id or no node carries it.
func (s *Service) matchExternal(ctx context.Context, c age.Querier, v vertex) (age.RetrievedEntity, bool, error) {
	if v.externalID == nil {
		return age.RetrievedEntity{}, false, nil
	}
	cat := v.cat
	params := map[string]any{
		"category_id":   cat.ID,
		"category_type": string(cat.Kind),
		"external_id":   *v.externalID,
		"label":         v.label,
		"created_at":    s.stamp(),
	}
	set := "n.__label = $label, n.__created_at = $created_at"
	for _, key := range []string{age.PropValidFrom, age.PropValidTo} {
		if val, ok := v.props[key]; ok && val != nil {
			set += ", n." + key + " = $" + paramName(key)
			params[paramName(key)] = val
		}
	}
	rows, err := c.Cypher(ctx, age.Statement{
		Op:    opVertexUpsert,
		Graph: cat.GraphAgeName,
		Label: cat.AgeName,
		Body: "MATCH (n:" + cat.AgeName + ") WHERE n.__category_id = $category_id" +
			" AND n.__category_type = $category_type AND n.__external_id = $external_id" +
			" SET " + set + " RETURN n",
		Params: params,
	})
	if err != nil || len(rows) == 0 {
		return age.RetrievedEntity{}, false, err
	}
	e, err := parseEntity(cat.GraphAgeName, rows[0])
	return e, err == nil, err
}

// createVertex stamps the next sequence value, if the category has one, and
// creates the node.
func (s *Service) createVertex(ctx context.Context, c age.Querier, v vertex) (age.RetrievedEntity, error) {
	cat := v.cat
	graph := cat.GraphAgeName

	var seq any
	if cat.SequenceName != nil {
		n, err := c.NextVal(ctx, age.QualifiedSequence(graph, *cat.SequenceName))
		if err != nil {
			return age.RetrievedEntity{}, err
		}
		seq = n
	}

	props := map[string]any{
		age.PropType:         string(cat.Kind),
		age.PropCategoryID:   cat.ID,
		age.PropCategoryType: string(cat.Kind),
		age.PropLabel:        v.label,
		age.PropCreatedAt:    s.stamp(),
		age.PropExternalID:   optional(v.externalID),
		age.PropSequence:     seq,
	}
	for k, val := range v.props {
		props[k] = val
	}
	params := map[string]any{}
	rows, err := c.Cypher(ctx, age.Statement{
		Op:     opVertexCreate,
		Graph:  graph,
		Label:  cat.AgeName,
		Body:   "CREATE (n:" + cat.AgeName + " " + propertyMap(props, params) + ") RETURN n",
		Params: params,
	})
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	row, err := age.One(opVertexCreate, rows)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	return parseEntity(graph, row)
}

// nodeIn resolves a node id that must belong to the graph of cat.
func nodeIn(op string, cat *db.Category, nodeID string) (int64, error) {
	graph, id, err := names.ParseNodeID(nodeID)
	if err != nil {
		return 0, err
	}
	if graph != cat.GraphAgeName {
		return 0, kgerr.New(kgerr.KindValidation, op, "node %s is not in graph %s", nodeID, cat.GraphAgeName)
	}
	return id, nil
}

// SetActiveReagent makes the reagent the single active one of its category.
func (s *Service) SetActiveReagent(ctx context.Context, categoryID, nodeID string) (age.RetrievedEntity, error) {
	const op = "kraph.SetActiveReagent"
	cat, err := s.category(ctx, op, categoryID, db.KindReagent)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	id, err := nodeIn(op, cat, nodeID)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	var out age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		var err error
		out, err = activate(ctx, c, cat, id)
		return err
	})
	return out, err
}

// activate clears every active reagent of cat, then flags id.
func activate(ctx context.Context, c age.Querier, cat *db.Category, id int64) (age.RetrievedEntity, error) {
	graph := cat.GraphAgeName
	_, err := c.Cypher(ctx, age.Statement{
		Op:    opClearActive,
		Graph: graph,
		Label: cat.AgeName,
		Body: "MATCH (n:" + cat.AgeName + ") WHERE n.__category_id = $category_id AND n.__active = true" +
			" SET n.__active = false RETURN id(n)",
		Params: map[string]any{"category_id": cat.ID},
	})
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	rows, err := c.Cypher(ctx, age.Statement{
		Op:    opSetActive,
		Graph: graph,
		Label: cat.AgeName,
		Body: "MATCH (n:" + cat.AgeName + ") WHERE id(n) = $id AND n.__category_id = $category_id" +
			" SET n.__active = true RETURN n",
		Params: map[string]any{"id": id, "category_id": cat.ID},
	})
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	row, err := age.One(opSetActive, rows)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	return parseEntity(graph, row)
}

// GetActiveReagent returns the active reagent of a category. If several are
// flagged the most recently created wins.
func (s *Service) GetActiveReagent(ctx context.Context, categoryID string) (age.RetrievedEntity, error) {
	cat, err := s.category(ctx, "kraph.GetActiveReagent", categoryID, db.KindReagent)
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	var out age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		var err error
		out, err = activeReagent(ctx, c, cat)
		return err
	})
	return out, err
}

func activeReagent(ctx context.Context, c age.Querier, cat *db.Category) (age.RetrievedEntity, error) {
	rows, err := c.Cypher(ctx, age.Statement{
		Op:    opActive,
		Graph: cat.GraphAgeName,
		Label: cat.AgeName,
		Body: "MATCH (n:" + cat.AgeName + ") WHERE n.__category_id = $category_id AND n.__active = true" +
			" RETURN n ORDER BY n.__created_at DESC LIMIT 1",
		Params: map[string]any{"category_id": cat.ID},
	})
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	if len(rows) == 0 {
		return age.RetrievedEntity{}, kgerr.New(kgerr.KindNotFound, "kraph.activeReagent", "category %s has no active reagent", cat.ID)
	}
	return parseEntity(cat.GraphAgeName, rows[0])
}

// StructureInput creates a structure node, either from a category and an
// object id or from a "@ns/name:object" scalar resolved within GraphID.
type StructureInput struct {
	GraphID    string `json:"graph_id"`
	CategoryID string `json:"category_id"`
	Object     string `json:"object"`
	Structure  string `json:"structure"`
}

// CreateStructure returns the structure node for an object, creating it on
// first use.
func (s *Service) CreateStructure(ctx context.Context, in StructureInput) (age.RetrievedEntity, error) {
	const op = "kraph.CreateStructure"
	var (
		cat *db.Category
		err error
	)
	object := in.Object
	switch {
	case in.Structure != "":
		st, perr := names.ParseStructure(in.Structure)
		if perr != nil {
			return age.RetrievedEntity{}, perr
		}
		if in.GraphID == "" {
			return age.RetrievedEntity{}, kgerr.New(kgerr.KindValidation, op, "graph id is required with a structure scalar")
		}
		cat, err = s.catalog.FindStructureCategory(ctx, in.GraphID, st.Identifier)
		object = st.Object
	default:
		if object == "" {
			return age.RetrievedEntity{}, kgerr.New(kgerr.KindValidation, op, "object is required")
		}
		cat, err = s.category(ctx, op, in.CategoryID, db.KindStructure)
	}
	if err != nil {
		return age.RetrievedEntity{}, err
	}
	identifier := cat.Structure.Identifier
	graph := cat.GraphAgeName

	var out age.RetrievedEntity
	err = s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
		rows, err := c.Cypher(ctx, age.Statement{
			Op:    opStructureFind,
			Graph: graph,
			Label: cat.AgeName,
			Body: "MATCH (n:" + cat.AgeName + ") WHERE n.__category_id = $category_id AND n.__object = $object" +
				" RETURN n LIMIT 1",
			Params: map[string]any{"category_id": cat.ID, "object": object},
		})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			out, err = parseEntity(graph, rows[0])
			return err
		}
		out, _, err = s.upsertVertex(ctx, c, vertex{
			cat:   cat,
			label: names.Structure{Identifier: identifier, Object: object}.String(),
			props: map[string]any{age.PropIdentifier: identifier, age.PropObject: object},
		})
		return err
	})
	return out, err
}
