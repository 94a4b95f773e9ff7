package kraph

import (
	"context"
	"slices"
	"strings"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
	"kraph/core/internal/names"
)

// SequenceInput requests a sequence bound to a category. A zero Step means
// 1; when Start and Min are both zero the sequence starts at 1.
type SequenceInput struct {
	Start int64  `json:"start" yaml:"start"`
	Step  int64  `json:"step" yaml:"step"`
	Min   int64  `json:"min" yaml:"min"`
	Max   *int64 `json:"max" yaml:"max"`
	Cycle bool   `json:"cycle" yaml:"cycle"`
}

func (in *SequenceInput) spec(ageName string) age.SequenceSpec {
	spec := age.SequenceSpec{Name: ageName + "_sequence", Start: 1, Step: 1, Min: 1}
	if in == nil {
		return spec
	}
	spec.Start, spec.Step, spec.Min, spec.Max, spec.Cycle = in.Start, in.Step, in.Min, in.Max, in.Cycle
	if spec.Step == 0 {
		spec.Step = 1
	}
	if spec.Start == 0 && spec.Min == 0 {
		spec.Start, spec.Min = 1, 1
	}
	return spec
}

// CategoryInput creates a category. Exactly the payload matching Kind may
// be set; measurement, relation and event payloads default to empty.
type CategoryInput struct {
	GraphID            string         `json:"graph_id" validate:"required"`
	Kind               db.Kind        `json:"kind" validate:"required"`
	Label              string         `json:"label"`
	Description        *string        `json:"description"`
	Purl               *string        `json:"purl"`
	Color              []int          `json:"color" validate:"omitempty,min=3,max=4,dive,min=0,max=255"`
	StoreID            *string        `json:"store_id"`
	Tags               []string       `json:"tags"`
	PositionX          float64        `json:"position_x"`
	PositionY          float64        `json:"position_y"`
	Sequence           *SequenceInput `json:"sequence"`
	AutoCreateSequence bool           `json:"auto_create_sequence"`

	Structure *db.StructureSpec `json:"structure"`
	Metric    *db.MetricSpec    `json:"metric"`
	Edge      *db.EdgeSpec      `json:"edge"`
	Event     *db.EventSpec     `json:"event"`
}

// CategoryUpdate changes a category. Nil fields stay unchanged. The engine
// label, kind, graph and structure identifier never change.
type CategoryUpdate struct {
	Label              *string        `json:"label"`
	Description        *string        `json:"description"`
	Purl               *string        `json:"purl"`
	Color              []int          `json:"color" validate:"omitempty,min=3,max=4,dive,min=0,max=255"`
	StoreID            *string        `json:"store_id"`
	Tags               *[]string      `json:"tags"`
	PositionX          *float64       `json:"position_x"`
	PositionY          *float64       `json:"position_y"`
	Sequence           *SequenceInput `json:"sequence"`
	AutoCreateSequence bool           `json:"auto_create_sequence"`

	Metric *db.MetricSpec `json:"metric"`
	Edge   *db.EdgeSpec   `json:"edge"`
	Event  *db.EventSpec  `json:"event"`
}

func (in CategoryInput) update() CategoryUpdate {
	upd := CategoryUpdate{
		Label:              &in.Label,
		Description:        in.Description,
		Purl:               in.Purl,
		Color:              in.Color,
		StoreID:            in.StoreID,
		PositionX:          &in.PositionX,
		PositionY:          &in.PositionY,
		Sequence:           in.Sequence,
		AutoCreateSequence: in.AutoCreateSequence,
		Metric:             in.Metric,
		Edge:               in.Edge,
		Event:              in.Event,
	}
	if in.Tags != nil {
		upd.Tags = &in.Tags
	}
	return upd
}

// normalize fills variant defaults and rejects payloads that do not belong
// to the kind.
func (in *CategoryInput) normalize(op string) error {
	if !in.Kind.Valid() {
		return kgerr.New(kgerr.KindValidation, op, "unknown category kind %q", in.Kind)
	}
	want := map[db.Kind]string{
		db.KindStructure: "structure", db.KindMetric: "metric",
		db.KindMeasurement: "edge", db.KindRelation: "edge",
		db.KindNaturalEvent: "event", db.KindProtocolEvent: "event",
	}[in.Kind]
	for name, set := range map[string]bool{
		"structure": in.Structure != nil, "metric": in.Metric != nil,
		"edge": in.Edge != nil, "event": in.Event != nil,
	} {
		if set && name != want {
			return kgerr.New(kgerr.KindValidation, op, "%s payload not allowed for %s categories", name, in.Kind)
		}
	}

	switch in.Kind {
	case db.KindStructure:
		if in.Structure == nil {
			return kgerr.New(kgerr.KindValidation, op, "structure categories need an identifier")
		}
		if err := names.ValidateStructureIdentifier(in.Structure.Identifier); err != nil {
			return err
		}
		if in.Label == "" {
			in.Label = in.Structure.Identifier
		}
	case db.KindMetric:
		if in.Metric == nil {
			return kgerr.New(kgerr.KindValidation, op, "metric categories need a metric kind")
		}
	case db.KindMeasurement, db.KindRelation:
		if in.Edge == nil {
			in.Edge = &db.EdgeSpec{}
		}
	case db.KindNaturalEvent, db.KindProtocolEvent:
		if in.Event == nil {
			in.Event = &db.EventSpec{}
		}
	}
	if strings.TrimSpace(in.Label) == "" {
		return kgerr.New(kgerr.KindValidation, op, "label is required")
	}
	return validatePayload(op, in.Kind, in.Metric, in.Event)
}

func validatePayload(op string, kind db.Kind, metric *db.MetricSpec, event *db.EventSpec) error {
	if metric != nil {
		if err := validateMetricKind(op, metric.MetricKind); err != nil {
			return err
		}
	}
	if event == nil {
		return nil
	}
	if kind == db.KindNaturalEvent &&
		(len(event.SourceReagentRoles) > 0 || len(event.TargetReagentRoles) > 0 || len(event.VariableDefinitions) > 0) {
		return kgerr.New(kgerr.KindValidation, op, "natural events take entity roles only")
	}
	seen := map[string]bool{}
	check := func(roles []db.RoleDefinition, label func(string) (string, error)) error {
		for _, r := range roles {
			if r.Role == "" {
				return kgerr.New(kgerr.KindValidation, op, "role name is required")
			}
			if seen[r.Role] {
				return kgerr.New(kgerr.KindValidation, op, "role %q is defined twice", r.Role)
			}
			seen[r.Role] = true
			if _, err := label(r.Role); err != nil {
				return err
			}
		}
		return nil
	}
	for _, err := range []error{
		check(event.SourceEntityRoles, names.InRole),
		check(event.SourceReagentRoles, names.InRole),
		check(event.TargetEntityRoles, names.OutRole),
		check(event.TargetReagentRoles, names.OutRole),
	} {
		if err != nil {
			return err
		}
	}
	params := map[string]bool{}
	for _, v := range event.VariableDefinitions {
		if err := names.Validate(v.Param); err != nil {
			return err
		}
		if strings.HasPrefix(v.Param, "__") {
			return kgerr.New(kgerr.KindValidation, op, "variable %q uses the reserved prefix __", v.Param)
		}
		if params[v.Param] {
			return kgerr.New(kgerr.KindValidation, op, "variable %q is defined twice", v.Param)
		}
		params[v.Param] = true
		if err := validateMetricKind(op, v.ValueKind); err != nil {
			return err
		}
	}
	return nil
}

func validateMetricKind(op string, k db.MetricKind) error {
	switch k {
	case db.MetricString, db.MetricNumber, db.MetricBoolean, db.MetricDate, db.MetricVector:
		return nil
	}
	return kgerr.New(kgerr.KindValidation, op, "unknown value kind %q", k)
}

// ageNameFor derives the engine label of a new category.
func ageNameFor(kind db.Kind, label string, st *db.StructureSpec) (string, error) {
	switch kind {
	case db.KindStructure:
		slug, err := names.StructureSlug(st.Identifier)
		if err != nil {
			return "", err
		}
		return strings.ToLower(slug), nil
	case db.KindRelation:
		return names.RelationName(label)
	case db.KindNaturalEvent, db.KindProtocolEvent:
		return names.EventName(label)
	default:
		return names.EntityName(label)
	}
}

// CreateCategory creates a category and its engine labels. A category with
// the same engine label and kind in the graph is updated instead.
func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (*db.Category, error) {
	const op = "kraph.CreateCategory"
	if err := s.check(op, in); err != nil {
		return nil, err
	}
	if err := in.normalize(op); err != nil {
		return nil, err
	}
	ageName, err := ageNameFor(in.Kind, in.Label, in.Structure)
	if err != nil {
		return nil, err
	}

	existing, err := s.catalog.FindCategory(ctx, in.GraphID, ageName)
	switch {
	case err == nil:
		if existing.Kind != in.Kind {
			return nil, kgerr.New(kgerr.KindExists, op, "label %q is taken by %s category %s", ageName, existing.Kind, existing.ID)
		}
		if existing.Structure != nil && existing.Structure.Identifier != in.Structure.Identifier {
			return nil, kgerr.New(kgerr.KindExists, op, "label %q is taken by structure %s", ageName, existing.Structure.Identifier)
		}
		return s.UpdateCategory(ctx, existing.ID, in.update())
	case !kgerr.Is(err, kgerr.KindNotFound):
		return nil, err
	}

	cat := &db.Category{
		GraphID:     in.GraphID,
		Kind:        in.Kind,
		Label:       in.Label,
		AgeName:     ageName,
		Description: in.Description,
		Purl:        in.Purl,
		Color:       in.Color,
		StoreID:     in.StoreID,
		Tags:        in.Tags,
		PositionX:   in.PositionX,
		PositionY:   in.PositionY,
		Structure:   in.Structure,
		Metric:      in.Metric,
		Edge:        in.Edge,
		Event:       in.Event,
	}
	var seq *age.SequenceSpec
	if in.Sequence != nil || in.AutoCreateSequence {
		spec := in.Sequence.spec(ageName)
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		seq = &spec
	}

	err = s.catalog.WithTx(ctx, func(q *db.Queries) error {
		g, err := q.GetGraph(ctx, in.GraphID)
		if err != nil {
			return err
		}
		cat.GraphAgeName = g.AgeName
		if err := checkReferences(ctx, q, op, cat); err != nil {
			return err
		}
		if seq != nil {
			row, err := insertSequence(ctx, q, cat.GraphID, *seq)
			if err != nil {
				return err
			}
			cat.SequenceID = &row.ID
		}
		if err := q.InsertCategory(ctx, cat); err != nil {
			return err
		}
		return s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
			return provision(ctx, c, cat, seq)
		})
	})
	if err != nil {
		if kgerr.Is(err, kgerr.KindSequence) || kgerr.Is(err, kgerr.KindEngine) {
			s.logger.Warn("category creation rolled back", "graph", in.GraphID, "age_name", ageName, "error", err)
		}
		return nil, err
	}
	s.logger.Info("category created", "category", cat.ID, "kind", cat.Kind, "age_name", ageName)
	return s.catalog.GetCategory(ctx, cat.ID)
}

func insertSequence(ctx context.Context, q *db.Queries, graphID string, spec age.SequenceSpec) (*db.Sequence, error) {
	row := &db.Sequence{
		GraphID: graphID,
		Name:    spec.Name,
		Start:   spec.Start,
		Step:    spec.Step,
		Min:     spec.Min,
		Max:     spec.Max,
		Cycle:   spec.Cycle,
	}
	if err := q.InsertSequence(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// provision creates every engine object cat needs. Existing labels are kept.
func provision(ctx context.Context, c age.Querier, cat *db.Category, seq *age.SequenceSpec) error {
	graph := cat.GraphAgeName
	if err := ensureLabel(ctx, c, graph, cat.AgeName, cat.Kind.IsEdge()); err != nil {
		return err
	}
	if cat.Kind == db.KindMetric {
		if err := ensureLabel(ctx, c, graph, names.DescribesLabel, true); err != nil {
			return err
		}
	}
	labels, err := roleLabels(cat)
	if err != nil {
		return err
	}
	for _, l := range labels {
		if err := ensureLabel(ctx, c, graph, l, true); err != nil {
			return err
		}
	}
	if seq != nil {
		if err := c.CreateSequence(ctx, graph, *seq); err != nil {
			return kgerr.Wrap(kgerr.KindSequence, "kraph.provision", err, "creating sequence %s", seq.Name)
		}
	}
	return nil
}

func ensureLabel(ctx context.Context, c age.Querier, graph, label string, edge bool) error {
	ok, err := c.LabelExists(ctx, graph, label)
	if err != nil || ok {
		return err
	}
	if edge {
		return c.CreateEdgeLabel(ctx, graph, label)
	}
	return c.CreateVertexLabel(ctx, graph, label)
}

// roleLabels returns the IN_/OUT_ edge labels of an event category.
func roleLabels(cat *db.Category) ([]string, error) {
	if cat.Event == nil {
		return nil, nil
	}
	var out []string
	for _, r := range cat.Event.SourceRoles() {
		l, err := names.InRole(r.Role)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	for _, r := range cat.Event.TargetRoles() {
		l, err := names.OutRole(r.Role)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// checkReferences verifies that every category named by a definition lives
// in the same graph, and that role defaults point at reagent categories.
func checkReferences(ctx context.Context, q *db.Queries, op string, cat *db.Category) error {
	type ref struct {
		id      string
		reagent bool
	}
	var refs []ref
	addDef := func(d db.CategoryDefinition) {
		for _, id := range d.CategoryFilters {
			refs = append(refs, ref{id: id})
		}
		if d.DefaultUseActive != nil {
			refs = append(refs, ref{id: *d.DefaultUseActive, reagent: true})
		}
		if d.DefaultUseNew != nil {
			refs = append(refs, ref{id: *d.DefaultUseNew, reagent: true})
		}
	}
	if cat.Metric != nil {
		addDef(cat.Metric.StructureDefinition)
	}
	if cat.Edge != nil {
		addDef(cat.Edge.SourceDefinition)
		addDef(cat.Edge.TargetDefinition)
	}
	for _, r := range cat.Roles() {
		addDef(r.CategoryDefinition)
	}

	for _, r := range refs {
		other, err := q.GetCategory(ctx, r.id)
		if kgerr.Is(err, kgerr.KindNotFound) {
			return kgerr.New(kgerr.KindValidation, op, "definition references unknown category %s", r.id)
		}
		if err != nil {
			return err
		}
		if other.GraphID != cat.GraphID {
			return kgerr.New(kgerr.KindValidation, op, "definition references category %s of another graph", r.id)
		}
		if r.reagent && other.Kind != db.KindReagent {
			return kgerr.New(kgerr.KindValidation, op, "role default %s is a %s category, want REAGENT", r.id, other.Kind)
		}
	}
	return nil
}

// UpdateCategory applies upd. Roles added to an event category get their
// engine labels; labels are never renamed.
func (s *Service) UpdateCategory(ctx context.Context, id string, upd CategoryUpdate) (*db.Category, error) {
	const op = "kraph.UpdateCategory"
	if err := s.check(op, upd); err != nil {
		return nil, err
	}
	err := s.catalog.WithTx(ctx, func(q *db.Queries) error {
		cat, err := q.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		if err := applyUpdate(op, cat, upd); err != nil {
			return err
		}
		if err := validatePayload(op, cat.Kind, cat.Metric, cat.Event); err != nil {
			return err
		}
		if err := checkReferences(ctx, q, op, cat); err != nil {
			return err
		}
		if err := q.UpdateCategory(ctx, cat); err != nil {
			return err
		}
		if upd.Tags != nil {
			if err := q.SetCategoryTags(ctx, cat.ID, *upd.Tags); err != nil {
				return err
			}
		}

		var seq *age.SequenceSpec
		if (upd.Sequence != nil || upd.AutoCreateSequence) && cat.SequenceID == nil {
			spec := upd.Sequence.spec(cat.AgeName)
			if err := spec.Validate(); err != nil {
				return err
			}
			row, err := insertSequence(ctx, q, cat.GraphID, spec)
			if err != nil {
				return err
			}
			if err := q.BindSequence(ctx, cat.ID, &row.ID); err != nil {
				return err
			}
			seq = &spec
		}
		return s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
			return provision(ctx, c, cat, seq)
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("category updated", "category", id)
	return s.catalog.GetCategory(ctx, id)
}

func applyUpdate(op string, cat *db.Category, upd CategoryUpdate) error {
	if upd.Label != nil {
		if strings.TrimSpace(*upd.Label) == "" {
			return kgerr.New(kgerr.KindValidation, op, "label must not be empty")
		}
		cat.Label = *upd.Label
	}
	if upd.Description != nil {
		cat.Description = upd.Description
	}
	if upd.Purl != nil {
		cat.Purl = upd.Purl
	}
	if upd.Color != nil {
		cat.Color = upd.Color
	}
	if upd.StoreID != nil {
		cat.StoreID = upd.StoreID
	}
	if upd.PositionX != nil {
		cat.PositionX = *upd.PositionX
	}
	if upd.PositionY != nil {
		cat.PositionY = *upd.PositionY
	}
	if upd.Metric != nil {
		if cat.Kind != db.KindMetric {
			return kgerr.New(kgerr.KindValidation, op, "metric payload not allowed for %s categories", cat.Kind)
		}
		cat.Metric = upd.Metric
	}
	if upd.Edge != nil {
		if !cat.Kind.IsEdge() {
			return kgerr.New(kgerr.KindValidation, op, "edge payload not allowed for %s categories", cat.Kind)
		}
		cat.Edge = upd.Edge
	}
	if upd.Event != nil {
		if !cat.Kind.IsEvent() {
			return kgerr.New(kgerr.KindValidation, op, "event payload not allowed for %s categories", cat.Kind)
		}
		cat.Event = upd.Event
	}
	return nil
}

// DeleteCategory removes a category. Its label is dropped with every
// instance, together with its sequence and any role label no other event
// category of the graph still uses. Filters and role defaults of other
// categories that name it are cleared.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	var detached []string
	err := s.catalog.WithTx(ctx, func(q *db.Queries) error {
		cat, err := q.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		drop, err := unusedRoleLabels(ctx, q, cat)
		if err != nil {
			return err
		}
		if detached, err = detachReferences(ctx, q, cat); err != nil {
			return err
		}
		if err := q.DeleteCategory(ctx, id); err != nil {
			return err
		}
		if cat.SequenceID != nil {
			if err := q.DeleteSequence(ctx, *cat.SequenceID); err != nil {
				return err
			}
		}
		return s.engine.WithCursor(ctx, func(ctx context.Context, c age.Querier) error {
			graph := cat.GraphAgeName
			for _, l := range append([]string{cat.AgeName}, drop...) {
				ok, err := c.LabelExists(ctx, graph, l)
				if err != nil {
					return err
				}
				if ok {
					if err := c.DropLabel(ctx, graph, l); err != nil {
						return err
					}
				}
			}
			if cat.SequenceName != nil {
				return c.DropSequence(ctx, graph, *cat.SequenceName)
			}
			return nil
		})
	})
	if err == nil {
		s.logger.Info("category deleted", "category", id, "detached", detached)
	}
	return err
}

// detachReferences removes cat from the definitions of every other category
// of its graph and returns the ids of the categories it rewrote.
func detachReferences(ctx context.Context, q *db.Queries, cat *db.Category) ([]string, error) {
	others, err := q.ListCategories(ctx, db.CategoryFilter{GraphID: cat.GraphID})
	if err != nil {
		return nil, err
	}
	var out []string
	for i := range others {
		o := &others[i]
		if o.ID == cat.ID || !forgetCategory(o, cat.ID) {
			continue
		}
		if err := q.UpdateCategory(ctx, o); err != nil {
			return nil, err
		}
		out = append(out, o.ID)
	}
	return out, nil
}

// forgetCategory strips id from the definitions of c and reports whether
// anything changed.
func forgetCategory(c *db.Category, id string) bool {
	changed := false
	strip := func(d *db.CategoryDefinition) {
		n := len(d.CategoryFilters)
		d.CategoryFilters = slices.DeleteFunc(d.CategoryFilters, func(f string) bool { return f == id })
		if len(d.CategoryFilters) != n {
			changed = true
		}
		if d.DefaultUseActive != nil && *d.DefaultUseActive == id {
			d.DefaultUseActive = nil
			changed = true
		}
		if d.DefaultUseNew != nil && *d.DefaultUseNew == id {
			d.DefaultUseNew = nil
			changed = true
		}
	}
	if c.Metric != nil {
		strip(&c.Metric.StructureDefinition)
	}
	if c.Edge != nil {
		strip(&c.Edge.SourceDefinition)
		strip(&c.Edge.TargetDefinition)
	}
	if e := c.Event; e != nil {
		for _, roles := range [][]db.RoleDefinition{
			e.SourceEntityRoles, e.TargetEntityRoles, e.SourceReagentRoles, e.TargetReagentRoles,
		} {
			for i := range roles {
				strip(&roles[i].CategoryDefinition)
			}
		}
		if e.SupportDefinition != nil {
			strip(e.SupportDefinition)
		}
	}
	return changed
}

func unusedRoleLabels(ctx context.Context, q *db.Queries, cat *db.Category) ([]string, error) {
	own, err := roleLabels(cat)
	if err != nil || len(own) == 0 {
		return nil, err
	}
	others, err := q.ListCategories(ctx, db.CategoryFilter{
		GraphID: cat.GraphID,
		Kinds:   []db.Kind{db.KindNaturalEvent, db.KindProtocolEvent},
	})
	if err != nil {
		return nil, err
	}
	used := map[string]bool{}
	for i := range others {
		if others[i].ID == cat.ID {
			continue
		}
		labels, err := roleLabels(&others[i])
		if err != nil {
			return nil, err
		}
		for _, l := range labels {
			used[l] = true
		}
	}
	var out []string
	seen := map[string]bool{}
	for _, l := range own {
		if !used[l] && !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out, nil
}

// PinCategory pins or unpins a category for a user.
func (s *Service) PinCategory(ctx context.Context, id, user string, pin bool) (*db.Category, error) {
	if _, err := s.catalog.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	if err := s.catalog.SetCategoryPin(ctx, id, user, pin); err != nil {
		return nil, err
	}
	return s.catalog.GetCategory(ctx, id)
}

// SetCategoryPins replaces the set of users pinning a category.
func (s *Service) SetCategoryPins(ctx context.Context, id string, users []string) (*db.Category, error) {
	err := s.catalog.WithTx(ctx, func(q *db.Queries) error {
		if _, err := q.GetCategory(ctx, id); err != nil {
			return err
		}
		return q.SetCategoryPins(ctx, id, uniq(users))
	})
	if err != nil {
		return nil, err
	}
	return s.catalog.GetCategory(ctx, id)
}

// CategorySequence returns the sequence bound to a category.
func (s *Service) CategorySequence(ctx context.Context, id string) (*db.Sequence, error) {
	cat, err := s.catalog.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if cat.SequenceID == nil {
		return nil, kgerr.New(kgerr.KindNotFound, "kraph.CategorySequence", "category %s has no sequence", id)
	}
	return s.catalog.GetSequence(ctx, *cat.SequenceID)
}

// GetCategory returns one category.
func (s *Service) GetCategory(ctx context.Context, id string) (*db.Category, error) {
	return s.catalog.GetCategory(ctx, id)
}

// ListCategories returns the categories matching f.
func (s *Service) ListCategories(ctx context.Context, f db.CategoryFilter) ([]db.Category, error) {
	return s.catalog.ListCategories(ctx, f)
}

// SearchCategories is the autocomplete lookup: label substring within one
// graph, at most limit results.
func (s *Service) SearchCategories(ctx context.Context, graphID, query string, limit int) ([]db.Category, error) {
	return s.catalog.SearchCategories(ctx, graphID, query, limit)
}
