package kraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
)

func TestCreateCategory_Validation(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	other := h.graph(t, "Lab B")
	foreign := h.category(t, CategoryInput{GraphID: other.ID, Kind: db.KindReagent, Label: "Dye"})
	entity := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell"})

	tests := []struct {
		name string
		in   CategoryInput
		kind kgerr.Kind
	}{
		{"unknown kind", CategoryInput{GraphID: g.ID, Kind: "GIZMO", Label: "x"}, kgerr.KindValidation},
		{"label without letters", CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "123"}, kgerr.KindInvalidName},
		{"missing label", CategoryInput{GraphID: g.ID, Kind: db.KindEntity}, kgerr.KindValidation},
		{"missing graph", CategoryInput{Kind: db.KindEntity, Label: "x"}, kgerr.KindValidation},
		{"unknown graph", CategoryInput{GraphID: "nope", Kind: db.KindEntity, Label: "x"}, kgerr.KindNotFound},
		{"bad color", CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "x", Color: []int{300, 0, 0}}, kgerr.KindValidation},
		{"foreign payload", CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "x", Event: &db.EventSpec{}}, kgerr.KindValidation},
		{"bad identifier", CategoryInput{GraphID: g.ID, Kind: db.KindStructure, Structure: &db.StructureSpec{Identifier: "mikro/image"}}, kgerr.KindValidation},
		{"metric without kind", CategoryInput{GraphID: g.ID, Kind: db.KindMetric, Label: "area"}, kgerr.KindValidation},
		{"metric with bad kind", CategoryInput{GraphID: g.ID, Kind: db.KindMetric, Label: "area", Metric: &db.MetricSpec{MetricKind: "COLOR"}}, kgerr.KindValidation},
		{"natural event with reagent role", CategoryInput{GraphID: g.ID, Kind: db.KindNaturalEvent, Label: "Split", Event: &db.EventSpec{
			SourceReagentRoles: []db.RoleDefinition{{Role: "dye"}},
		}}, kgerr.KindValidation},
		{"duplicate role", CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
			SourceEntityRoles: []db.RoleDefinition{{Role: "sample"}},
			TargetEntityRoles: []db.RoleDefinition{{Role: "sample"}},
		}}, kgerr.KindValidation},
		{"reserved variable", CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
			VariableDefinitions: []db.VariableDefinition{{Param: "__label", ValueKind: db.MetricString}},
		}}, kgerr.KindValidation},
		{"foreign reference", CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
			SourceReagentRoles: []db.RoleDefinition{{Role: "dye", CategoryDefinition: db.CategoryDefinition{DefaultUseActive: &foreign.ID}}},
		}}, kgerr.KindValidation},
		{"default is not a reagent", CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
			SourceReagentRoles: []db.RoleDefinition{{Role: "dye", CategoryDefinition: db.CategoryDefinition{DefaultUseNew: &entity.ID}}},
		}}, kgerr.KindValidation},
		{"unknown filter", CategoryInput{GraphID: g.ID, Kind: db.KindRelation, Label: "touches", Edge: &db.EdgeSpec{
			SourceDefinition: db.CategoryDefinition{CategoryFilters: []string{"missing"}},
		}}, kgerr.KindValidation},
		{"zero step sequence", CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Tube", Sequence: &SequenceInput{Start: 5, Min: 1, Step: 0}}, ""},
		{"start below min", CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Well", Sequence: &SequenceInput{Start: 1, Min: 10}}, kgerr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.CreateCategory(h.ctx, tt.in)
			if tt.kind == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, kgerr.KindOf(err), "got %v", err)
		})
	}
}

func TestCreateCategory_Upsert(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")

	first := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell"})
	second, err := h.svc.CreateCategory(h.ctx, CategoryInput{
		GraphID: g.ID, Kind: db.KindEntity, Label: "cell", Description: strPtr("a cell"), Tags: []string{"bio"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "cell", second.Label)
	assert.Equal(t, "cell", second.AgeName)
	require.NotNil(t, second.Description)
	assert.Equal(t, "a cell", *second.Description)
	assert.Equal(t, []string{"bio"}, second.Tags)

	_, err = h.svc.CreateCategory(h.ctx, CategoryInput{GraphID: g.ID, Kind: db.KindReagent, Label: "CELL"})
	assert.True(t, kgerr.Is(err, kgerr.KindExists), "got %v", err)

	cats, err := h.svc.ListCategories(h.ctx, db.CategoryFilter{GraphID: g.ID})
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}

func TestCreateCategory_Sequence(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")

	cat := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell", AutoCreateSequence: true})
	require.NotNil(t, cat.SequenceName)
	assert.Equal(t, "cell_sequence", *cat.SequenceName)
	assert.True(t, h.engine.hasSequence("lab_a", "cell_sequence"))

	var last int64
	for i := 0; i < 3; i++ {
		e := h.entity(t, cat.ID, "c")
		seq, ok := e.Sequence()
		require.True(t, ok)
		assert.Greater(t, seq, last)
		last = seq
	}
	assert.Equal(t, int64(3), last)

	t.Run("custom bounds", func(t *testing.T) {
		c := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindReagent, Label: "Tube", Sequence: &SequenceInput{Start: 100, Min: 100, Step: 10}})
		a, err := h.svc.CreateReagent(h.ctx, EntityInput{CategoryID: c.ID})
		require.NoError(t, err)
		b, err := h.svc.CreateReagent(h.ctx, EntityInput{CategoryID: c.ID})
		require.NoError(t, err)
		sa, _ := a.Sequence()
		sb, _ := b.Sequence()
		assert.Equal(t, int64(100), sa)
		assert.Equal(t, int64(110), sb)
	})

	t.Run("bound on update", func(t *testing.T) {
		c := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Dish"})
		assert.Nil(t, c.SequenceName)
		c, err := h.svc.UpdateCategory(h.ctx, c.ID, CategoryUpdate{AutoCreateSequence: true})
		require.NoError(t, err)
		require.NotNil(t, c.SequenceName)
		e := h.entity(t, c.ID, "d")
		seq, ok := e.Sequence()
		assert.True(t, ok)
		assert.Equal(t, int64(1), seq)
	})

	t.Run("mixed-case event label", func(t *testing.T) {
		c := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindNaturalEvent, Label: "Split", AutoCreateSequence: true})
		require.NotNil(t, c.SequenceName)
		assert.Equal(t, "splitEvent_sequence", *c.SequenceName)
		assert.True(t, h.engine.hasSequence("lab_a", "splitEvent_sequence"))
		for want := int64(1); want <= 2; want++ {
			rec, err := h.svc.RecordNaturalEvent(h.ctx, EventInput{CategoryID: c.ID})
			require.NoError(t, err)
			seq, ok := rec.Event.Sequence()
			require.True(t, ok)
			assert.Equal(t, want, seq)
		}
	})
}

func TestCreateCategory_SequenceFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	h.engine.failSequence = true

	_, err := h.svc.CreateCategory(h.ctx, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell", AutoCreateSequence: true})
	require.Error(t, err)
	assert.Equal(t, kgerr.KindSequence, kgerr.KindOf(err))

	cats, err := h.svc.ListCategories(h.ctx, db.CategoryFilter{GraphID: g.ID})
	require.NoError(t, err)
	assert.Empty(t, cats)
	seqs, err := h.svc.Catalog().ListSequences(h.ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, seqs)
	assert.False(t, h.engine.hasLabel("lab_a", "cell"), "label creation rolled back with the cursor")

	h.engine.failSequence = false
	cat := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell", AutoCreateSequence: true})
	assert.NotNil(t, cat.SequenceID)
}

func TestUpdateCategory(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	stain := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
		TargetEntityRoles: []db.RoleDefinition{{Role: "sample"}},
	}})

	renamed, err := h.svc.UpdateCategory(h.ctx, stain.ID, CategoryUpdate{
		Label: strPtr("Staining"),
		Event: &db.EventSpec{
			SourceEntityRoles: []db.RoleDefinition{{Role: "slide"}},
			TargetEntityRoles: []db.RoleDefinition{{Role: "sample"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Staining", renamed.Label)
	assert.Equal(t, "stainEvent", renamed.AgeName, "engine label is never recomputed")
	assert.True(t, h.engine.hasLabel("lab_a", "IN_SLIDE"))
	assert.True(t, h.engine.hasLabel("lab_a", "OUT_SAMPLE"))

	_, err = h.svc.UpdateCategory(h.ctx, stain.ID, CategoryUpdate{Edge: &db.EdgeSpec{}})
	assert.True(t, kgerr.Is(err, kgerr.KindValidation), "got %v", err)
	_, err = h.svc.UpdateCategory(h.ctx, stain.ID, CategoryUpdate{Label: strPtr("  ")})
	assert.True(t, kgerr.Is(err, kgerr.KindValidation), "got %v", err)

	tags := []string{"imaging", "core"}
	tagged, err := h.svc.UpdateCategory(h.ctx, stain.ID, CategoryUpdate{Tags: &tags})
	require.NoError(t, err)
	assert.ElementsMatch(t, tags, tagged.Tags)
}

func TestDeleteCategory(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	sample := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Sample", AutoCreateSequence: true})
	stain := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Stain", Event: &db.EventSpec{
		SourceEntityRoles: []db.RoleDefinition{{Role: "slide"}},
		TargetEntityRoles: []db.RoleDefinition{{Role: "sample"}},
	}})
	img := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindProtocolEvent, Label: "Image", Event: &db.EventSpec{
		TargetEntityRoles: []db.RoleDefinition{{Role: "sample"}},
	}})
	h.entity(t, sample.ID, "s1")

	require.NoError(t, h.svc.DeleteCategory(h.ctx, stain.ID))
	assert.False(t, h.engine.hasLabel("lab_a", "stainEvent"))
	assert.False(t, h.engine.hasLabel("lab_a", "IN_SLIDE"))
	assert.True(t, h.engine.hasLabel("lab_a", "OUT_SAMPLE"), "still used by Image")

	require.NoError(t, h.svc.DeleteCategory(h.ctx, img.ID))
	assert.False(t, h.engine.hasLabel("lab_a", "OUT_SAMPLE"))

	require.NoError(t, h.svc.DeleteCategory(h.ctx, sample.ID))
	assert.False(t, h.engine.hasLabel("lab_a", "sample"))
	assert.False(t, h.engine.hasSequence("lab_a", "sample_sequence"))
	nodes, err := h.svc.SelectAllEntities(h.ctx, g.ID, Page{})
	require.NoError(t, err)
	assert.Empty(t, nodes, "instances go with the label")

	err = h.svc.DeleteCategory(h.ctx, sample.ID)
	assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)
}

func TestDeleteCategory_DetachesReferences(t *testing.T) {
	h := newHarness(t)
	f := newStainFixture(t, h)
	area := h.category(t, CategoryInput{GraphID: f.graph.ID, Kind: db.KindMetric, Label: "Area", Metric: &db.MetricSpec{
		MetricKind:          db.MetricNumber,
		StructureDefinition: db.CategoryDefinition{CategoryFilters: []string{f.sample.ID}},
	}})

	require.NoError(t, h.svc.DeleteCategory(h.ctx, f.dye.ID))
	stain, err := h.svc.GetCategory(h.ctx, f.stain.ID)
	require.NoError(t, err)
	assert.Nil(t, stain.Event.SourceReagentRoles[0].CategoryDefinition.DefaultUseActive)
	assert.Equal(t, []string{f.sample.ID}, stain.Event.TargetEntityRoles[0].CategoryDefinition.CategoryFilters)

	_, err = h.svc.UpdateCategory(h.ctx, f.stain.ID, CategoryUpdate{Description: strPtr("still editable")})
	require.NoError(t, err)

	// the dye role has no default any more, so it must be mapped
	s := h.entity(t, f.sample.ID, "s1")
	_, err = h.svc.RecordProtocolEvent(h.ctx, EventInput{
		CategoryID: f.stain.ID,
		Targets:    []RoleMapping{{Key: "sample", Node: s.NodeID()}},
	})
	assert.True(t, kgerr.Is(err, kgerr.KindRoleUnfilled), "got %v", err)

	require.NoError(t, h.svc.DeleteCategory(h.ctx, f.sample.ID))
	got, err := h.svc.GetCategory(h.ctx, area.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Metric.StructureDefinition.CategoryFilters)
	stain, err = h.svc.GetCategory(h.ctx, f.stain.ID)
	require.NoError(t, err)
	assert.Empty(t, stain.Event.TargetEntityRoles[0].CategoryDefinition.CategoryFilters)
}

func TestMetricCategoryEnsuresDescribes(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindMetric, Label: "Area", Metric: &db.MetricSpec{MetricKind: db.MetricNumber}})
	assert.True(t, h.engine.hasLabel("lab_a", "area"))
	assert.True(t, h.engine.hasLabel("lab_a", "DESCRIBES"))

	// a second metric reuses the existing DESCRIBES label
	h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindMetric, Label: "Perimeter", Metric: &db.MetricSpec{MetricKind: db.MetricNumber}})
	assert.True(t, h.engine.hasLabel("lab_a", "perimeter"))
}

func TestPins(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	c := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell"})

	pinned, err := h.svc.PinGraph(h.ctx, g.ID, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, pinned.PinnedBy)
	graphs, err := h.svc.ListGraphs(h.ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, graphs, 1)

	cp, err := h.svc.PinCategory(h.ctx, c.ID, "bob", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, cp.PinnedBy)
	cp, err = h.svc.PinCategory(h.ctx, c.ID, "bob", false)
	require.NoError(t, err)
	assert.Empty(t, cp.PinnedBy)

	_, err = h.svc.PinGraph(h.ctx, "missing", "alice", true)
	assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)

	t.Run("replace the pin set", func(t *testing.T) {
		_, err := h.svc.PinCategory(h.ctx, c.ID, "bob", true)
		require.NoError(t, err)
		cp, err := h.svc.SetCategoryPins(h.ctx, c.ID, []string{"carol", "dave", "carol"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"carol", "dave"}, cp.PinnedBy)

		cp, err = h.svc.SetCategoryPins(h.ctx, c.ID, nil)
		require.NoError(t, err)
		assert.Empty(t, cp.PinnedBy)

		_, err = h.svc.SetCategoryPins(h.ctx, "missing", []string{"carol"})
		assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)
	})
}

func TestSequenceLookups(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	cell := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell", AutoCreateSequence: true})
	dish := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Dish"})
	h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindReagent, Label: "Tube", Sequence: &SequenceInput{Start: 100, Min: 100, Step: 10}})

	seq, err := h.svc.CategorySequence(h.ctx, cell.ID)
	require.NoError(t, err)
	assert.Equal(t, "cell_sequence", seq.Name)
	assert.Equal(t, int64(1), seq.Start)

	_, err = h.svc.CategorySequence(h.ctx, dish.ID)
	assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)

	seqs, err := h.svc.ListSequences(h.ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, seqs, 2)
	assert.Equal(t, "cell_sequence", seqs[0].Name)
	assert.Equal(t, "tube_sequence", seqs[1].Name)
	assert.Equal(t, int64(10), seqs[1].Step)

	_, err = h.svc.ListSequences(h.ctx, "missing")
	assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)
}

func TestGraphOfNode(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	cell := h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell"})
	e := h.entity(t, cell.ID, "c1")

	got, err := h.svc.GraphOfNode(h.ctx, e.NodeID())
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)

	_, err = h.svc.GraphOfNode(h.ctx, "lab_b:1")
	assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)
	_, err = h.svc.GraphOfNode(h.ctx, "not-a-node")
	assert.Error(t, err)
}

func TestGraphLifecycle(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	assert.NotNil(t, h.engine.graph("lab_a"))

	_, err := h.svc.CreateGraph(h.ctx, GraphInput{Name: "lab-a"})
	assert.True(t, kgerr.Is(err, kgerr.KindExists), "got %v", err)

	_, err = h.svc.CreateGraph(h.ctx, GraphInput{Name: "42"})
	assert.True(t, kgerr.Is(err, kgerr.KindInvalidName), "got %v", err)

	upd, err := h.svc.UpdateGraph(h.ctx, g.ID, GraphUpdate{Name: strPtr("Lab Alpha")})
	require.NoError(t, err)
	assert.Equal(t, "Lab Alpha", upd.Name)
	assert.Equal(t, "lab_a", upd.AgeName)

	h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Cell"})
	require.NoError(t, h.svc.DeleteGraph(h.ctx, g.ID))
	assert.Nil(t, h.engine.graph("lab_a"))
	_, err = h.svc.GetGraph(h.ctx, g.ID)
	assert.True(t, kgerr.Is(err, kgerr.KindNotFound), "got %v", err)
}

func TestSearchCategories(t *testing.T) {
	h := newHarness(t)
	g := h.graph(t, "Lab A")
	other := h.graph(t, "Lab B")
	h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindEntity, Label: "Tissue Section"})
	h.category(t, CategoryInput{GraphID: g.ID, Kind: db.KindReagent, Label: "Antibody"})
	h.category(t, CategoryInput{GraphID: other.ID, Kind: db.KindEntity, Label: "Tissue"})

	got, err := h.svc.SearchCategories(h.ctx, g.ID, "tiss", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Tissue Section", got[0].Label)

	blank, err := h.svc.SearchCategories(h.ctx, g.ID, " ", 10)
	require.NoError(t, err)
	assert.Empty(t, blank)
}
