package kraph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kraph/core/internal/age"
	"kraph/core/internal/db"
	"kraph/core/internal/kgerr"
)

// fakeEngine is an in-memory age.Session. It recognises statements by
// their operation code and reads property keys and parameters from the
// rendered statement, so the Cypher the service builds is still checked for
// names and parameter encoding.
type fakeEngine struct {
	mu    sync.Mutex
	state *fakeState

	failSequence bool
	render       func(st age.Statement, g *fakeGraph, params map[string]any) ([]age.Row, error)
	ops          []string
}

type fakeState struct {
	graphs map[string]*fakeGraph
	seqs   map[string]*fakeSeq // "graph.name"
	nextID int64
}

type fakeGraph struct {
	name    string
	vlabels map[string]bool
	elabels map[string]bool
	nodes   []age.RetrievedEntity
	edges   []age.RetrievedRelation
}

type fakeSeq struct {
	spec    age.SequenceSpec
	current *int64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{state: &fakeState{
		graphs: map[string]*fakeGraph{},
		seqs:   map[string]*fakeSeq{},
		nextID: 1,
	}}
}

func cloneProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (s *fakeState) clone() *fakeState {
	out := &fakeState{graphs: map[string]*fakeGraph{}, seqs: map[string]*fakeSeq{}, nextID: s.nextID}
	for name, g := range s.graphs {
		c := &fakeGraph{name: name, vlabels: map[string]bool{}, elabels: map[string]bool{}}
		for l := range g.vlabels {
			c.vlabels[l] = true
		}
		for l := range g.elabels {
			c.elabels[l] = true
		}
		for _, n := range g.nodes {
			n.Properties = cloneProps(n.Properties)
			c.nodes = append(c.nodes, n)
		}
		for _, e := range g.edges {
			e.Properties = cloneProps(e.Properties)
			c.edges = append(c.edges, e)
		}
		out.graphs[name] = c
	}
	for k, seq := range s.seqs {
		c := &fakeSeq{spec: seq.spec}
		if seq.current != nil {
			v := *seq.current
			c.current = &v
		}
		out.seqs[k] = c
	}
	return out
}

// WithCursor runs fn against a copy of the state and keeps it only when fn
// succeeds, like a transaction.
func (f *fakeEngine) WithCursor(ctx context.Context, fn func(ctx context.Context, q age.Querier) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	work := &fakeCursor{engine: f, state: f.state.clone()}
	if err := fn(ctx, work); err != nil {
		return err
	}
	f.state = work.state
	return nil
}

func (f *fakeEngine) graph(name string) *fakeGraph {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.graphs[name]
}

func (f *fakeEngine) hasLabel(graph, label string) bool {
	g := f.graph(graph)
	return g != nil && (g.vlabels[label] || g.elabels[label])
}

func (f *fakeEngine) hasSequence(graph, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state.seqs[graph+"."+name]
	return ok
}

// regclass resolves sequence text the way postgres does: quoted parts keep
// their case, bare parts fold to lower case.
func regclass(text string) string {
	var parts []string
	for _, p := range strings.Split(text, ".") {
		if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
			parts = append(parts, strings.ReplaceAll(p[1:len(p)-1], `""`, `"`))
		} else {
			parts = append(parts, strings.ToLower(p))
		}
	}
	return strings.Join(parts, ".")
}

func (f *fakeEngine) countOps(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.ops {
		if o == op {
			n++
		}
	}
	return n
}

type fakeCursor struct {
	engine *fakeEngine
	state  *fakeState
}

func fakeErr(format string, args ...any) error {
	return kgerr.New(kgerr.KindEngine, "fake", format, args...)
}

func (c *fakeCursor) graphOf(name string) (*fakeGraph, error) {
	g, ok := c.state.graphs[name]
	if !ok {
		return nil, fakeErr("graph %q does not exist", name)
	}
	return g, nil
}

func (c *fakeCursor) CreateGraph(_ context.Context, graph string) error {
	if _, ok := c.state.graphs[graph]; ok {
		return kgerr.New(kgerr.KindExists, "fake", "graph %q already exists", graph)
	}
	c.state.graphs[graph] = &fakeGraph{name: graph, vlabels: map[string]bool{}, elabels: map[string]bool{}}
	return nil
}

func (c *fakeCursor) DropGraph(_ context.Context, graph string) error {
	if _, err := c.graphOf(graph); err != nil {
		return err
	}
	delete(c.state.graphs, graph)
	for k := range c.state.seqs {
		if strings.HasPrefix(k, graph+".") {
			delete(c.state.seqs, k)
		}
	}
	return nil
}

func (c *fakeCursor) createLabel(graph, label string, edge bool) error {
	g, err := c.graphOf(graph)
	if err != nil {
		return err
	}
	if g.vlabels[label] || g.elabels[label] {
		return kgerr.New(kgerr.KindExists, "fake", "label %q already exists", label)
	}
	if edge {
		g.elabels[label] = true
	} else {
		g.vlabels[label] = true
	}
	return nil
}

func (c *fakeCursor) CreateVertexLabel(_ context.Context, graph, label string) error {
	return c.createLabel(graph, label, false)
}

func (c *fakeCursor) CreateEdgeLabel(_ context.Context, graph, label string) error {
	return c.createLabel(graph, label, true)
}

func (c *fakeCursor) DropLabel(_ context.Context, graph, label string) error {
	g, err := c.graphOf(graph)
	if err != nil {
		return err
	}
	if !g.vlabels[label] && !g.elabels[label] {
		return fakeErr("label %q does not exist", label)
	}
	delete(g.vlabels, label)
	delete(g.elabels, label)
	dropped := map[int64]bool{}
	nodes := g.nodes[:0]
	for _, n := range g.nodes {
		if n.KindAgeName == label {
			dropped[n.ID] = true
			continue
		}
		nodes = append(nodes, n)
	}
	g.nodes = nodes
	edges := g.edges[:0]
	for _, e := range g.edges {
		if e.KindAgeName == label || dropped[e.LeftID] || dropped[e.RightID] {
			continue
		}
		edges = append(edges, e)
	}
	g.edges = edges
	return nil
}

func (c *fakeCursor) LabelExists(_ context.Context, graph, label string) (bool, error) {
	g, err := c.graphOf(graph)
	if err != nil {
		return false, err
	}
	return g.vlabels[label] || g.elabels[label], nil
}

func (c *fakeCursor) CreateSequence(_ context.Context, graph string, spec age.SequenceSpec) error {
	if c.engine.failSequence {
		return fakeErr("sequence creation disabled")
	}
	if _, err := c.graphOf(graph); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	key := graph + "." + spec.Name
	if _, ok := c.state.seqs[key]; ok {
		return kgerr.New(kgerr.KindExists, "fake", "sequence %s exists", key)
	}
	c.state.seqs[key] = &fakeSeq{spec: spec}
	return nil
}

func (c *fakeCursor) DropSequence(_ context.Context, graph, name string) error {
	delete(c.state.seqs, graph+"."+name)
	return nil
}

func (c *fakeCursor) NextVal(_ context.Context, sequence string) (int64, error) {
	seq, ok := c.state.seqs[regclass(sequence)]
	if !ok {
		return 0, fakeErr("sequence %s does not exist", sequence)
	}
	next := seq.spec.Start
	if seq.current != nil {
		next = *seq.current + seq.spec.Step
	}
	if seq.spec.Max != nil && next > *seq.spec.Max {
		if !seq.spec.Cycle {
			return 0, fakeErr("sequence %s reached its maximum", sequence)
		}
		next = seq.spec.Min
	}
	seq.current = &next
	return next, nil
}

var (
	propPattern  = regexp.MustCompile(`(\w+): \$(\w+)`)
	setPattern   = regexp.MustCompile(`n\.(\w+) = \$(\w+)`)
	pagePattern  = regexp.MustCompile(`SKIP (\d+) LIMIT (\d+)`)
	limitPattern = regexp.MustCompile(`LIMIT (\d+)$`)
)

// Cypher renders st exactly as the pool would, then interprets it.
func (c *fakeCursor) Cypher(_ context.Context, st age.Statement) ([]age.Row, error) {
	_, args, err := st.SQL()
	if err != nil {
		return nil, err
	}
	params := map[string]any{}
	if len(args) == 1 {
		dec := json.NewDecoder(strings.NewReader(args[0].(string)))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return nil, fakeErr("decoding params: %v", err)
		}
	}
	c.engine.ops = append(c.engine.ops, st.Op)
	g, err := c.graphOf(st.Graph)
	if err != nil {
		return nil, err
	}

	switch st.Op {
	case opVertexCreate:
		if !g.vlabels[st.Label] {
			return nil, fakeErr("vertex label %q does not exist", st.Label)
		}
		n := c.addNode(g, st.Label, bodyProps(st.Body, params))
		return []age.Row{{n.Literal()}}, nil

	case opVertexUpsert:
		_, set, _ := strings.Cut(st.Body, " SET ")
		for i := range g.nodes {
			n := &g.nodes[i]
			if n.KindAgeName == st.Label &&
				same(n.Properties[age.PropCategoryID], params["category_id"]) &&
				same(n.Properties[age.PropCategoryType], params["category_type"]) &&
				same(n.Properties[age.PropExternalID], params["external_id"]) {
				for _, m := range setPattern.FindAllStringSubmatch(set, -1) {
					n.Properties[m[1]] = params[m[2]]
				}
				return []age.Row{{n.Literal()}}, nil
			}
		}
		return nil, nil

	case opVertexGet:
		for _, n := range g.nodes {
			if same(n.ID, params["id"]) {
				return []age.Row{{n.Literal()}}, nil
			}
		}
		return nil, nil

	case opVertexLookup:
		var rows []age.Row
		for _, n := range g.nodes {
			if contains(params["ids"], n.ID) {
				rows = append(rows, age.Row{strconv.FormatInt(n.ID, 10)})
			}
		}
		return rows, nil

	case opVertexList:
		var matched []age.RetrievedEntity
		for _, n := range g.nodes {
			if matchNode(n, params, st.Body) {
				matched = append(matched, n)
			}
		}
		switch {
		case strings.Contains(st.Body, "ORDER BY n.__created_at DESC"):
			sortLatest(matched)
		}
		return vertexRows(page(matched, st.Body)), nil

	case opVertexLatest:
		var matched []age.RetrievedEntity
		for _, n := range g.nodes {
			if params["types"] == nil || contains(params["types"], n.Properties[age.PropType]) {
				matched = append(matched, n)
			}
		}
		sortLatest(matched)
		return vertexRows(page(matched, st.Body)), nil

	case opVertexAll:
		return vertexRows(page(append([]age.RetrievedEntity{}, g.nodes...), st.Body)), nil

	case opEdgeAll:
		var rows []age.Row
		for _, e := range page(append([]age.RetrievedRelation{}, g.edges...), st.Body) {
			rows = append(rows, age.Row{e.Literal()})
		}
		return rows, nil

	case opEdgeCreate, opRoleEdge:
		if !g.elabels[st.Label] {
			return nil, fakeErr("edge label %q does not exist", st.Label)
		}
		left, lok := g.node(params["left"])
		right, rok := g.node(params["right"])
		if !lok || !rok ||
			!allowed(params["left_categories"], left) || !allowed(params["right_categories"], right) {
			return nil, nil
		}
		e := c.addEdge(g, st.Label, left.ID, right.ID, bodyProps(st.Body, params))
		return []age.Row{{e.Literal()}}, nil

	case opStructureFind:
		for _, n := range g.nodes {
			if n.KindAgeName == st.Label && same(n.Properties[age.PropCategoryID], params["category_id"]) &&
				same(n.Properties[age.PropObject], params["object"]) {
				return []age.Row{{n.Literal()}}, nil
			}
		}
		return nil, nil

	case opClearActive:
		var rows []age.Row
		for i := range g.nodes {
			n := &g.nodes[i]
			if n.KindAgeName == st.Label && same(n.Properties[age.PropCategoryID], params["category_id"]) &&
				n.Properties[age.PropActive] == true {
				n.Properties[age.PropActive] = false
				rows = append(rows, age.Row{strconv.FormatInt(n.ID, 10)})
			}
		}
		return rows, nil

	case opSetActive:
		for i := range g.nodes {
			n := &g.nodes[i]
			if n.KindAgeName == st.Label && same(n.ID, params["id"]) &&
				same(n.Properties[age.PropCategoryID], params["category_id"]) {
				n.Properties[age.PropActive] = true
				return []age.Row{{n.Literal()}}, nil
			}
		}
		return nil, nil

	case opActive:
		var matched []age.RetrievedEntity
		for _, n := range g.nodes {
			if n.KindAgeName == st.Label && same(n.Properties[age.PropCategoryID], params["category_id"]) &&
				n.Properties[age.PropActive] == true {
				matched = append(matched, n)
			}
		}
		sortLatest(matched)
		if len(matched) == 0 {
			return nil, nil
		}
		return []age.Row{{matched[0].Literal()}}, nil

	case opMetricCreate:
		if !g.vlabels[st.Label] || !g.elabels["DESCRIBES"] {
			return nil, fakeErr("metric labels missing")
		}
		target, ok := g.node(params["target"])
		if !ok || !allowed(params["target_categories"], target) {
			return nil, nil
		}
		node, edge, _ := strings.Cut(st.Body, "-[:DESCRIBES")
		m := c.addNode(g, st.Label, bodyProps(node, params))
		c.addEdge(g, "DESCRIBES", m.ID, target.ID, bodyProps(edge, params))
		return []age.Row{{m.Literal()}}, nil

	case opPairs:
		var matched []age.Row
		for _, e := range g.edges {
			a, _ := g.node(e.LeftID)
			b, _ := g.node(e.RightID)
			if !allowed(params["left_categories"], a) || !allowed(params["right_categories"], b) ||
				(params["relation_categories"] != nil && !contains(params["relation_categories"], e.Properties[age.PropCategoryID])) ||
				!labelContains(a, params["left_search"]) || !labelContains(b, params["right_search"]) {
				continue
			}
			matched = append(matched, age.Row{a.Literal(), b.Literal(), e.Literal()})
		}
		return page(matched, st.Body), nil

	case opNeighbors:
		var rows []age.Row
		for _, e := range g.edges {
			var other int64
			switch {
			case same(e.LeftID, params["id"]):
				other = e.RightID
			case same(e.RightID, params["id"]):
				other = e.LeftID
			default:
				continue
			}
			m, _ := g.node(other)
			rows = append(rows, age.Row{e.Literal(), m.Literal()})
		}
		return page(rows, st.Body), nil

	case opRender:
		if c.engine.render == nil {
			return nil, fakeErr("no render handler installed")
		}
		return c.engine.render(st, g, params)
	}
	return nil, fakeErr("unsupported statement %s", st.Op)
}

func (c *fakeCursor) addNode(g *fakeGraph, label string, props map[string]any) age.RetrievedEntity {
	n := age.RetrievedEntity{GraphName: g.name, ID: c.state.nextID, KindAgeName: label, Properties: props}
	c.state.nextID++
	g.nodes = append(g.nodes, n)
	return n
}

func (c *fakeCursor) addEdge(g *fakeGraph, label string, left, right int64, props map[string]any) age.RetrievedRelation {
	e := age.RetrievedRelation{GraphName: g.name, ID: c.state.nextID, KindAgeName: label, LeftID: left, RightID: right, Properties: props}
	c.state.nextID++
	g.edges = append(g.edges, e)
	return e
}

func (g *fakeGraph) node(id any) (age.RetrievedEntity, bool) {
	for _, n := range g.nodes {
		if same(n.ID, id) {
			return n, true
		}
	}
	return age.RetrievedEntity{}, false
}

// bodyProps collects "key: $param" pairs of a property map.
func bodyProps(body string, params map[string]any) map[string]any {
	props := map[string]any{}
	for _, m := range propPattern.FindAllStringSubmatch(body, -1) {
		props[m[1]] = params[m[2]]
	}
	return props
}

func same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func contains(list, v any) bool {
	items, _ := list.([]any)
	for _, item := range items {
		if same(item, v) {
			return true
		}
	}
	return false
}

func allowed(cats any, n age.RetrievedEntity) bool {
	return cats == nil || contains(cats, n.Properties[age.PropCategoryID])
}

func labelContains(n age.RetrievedEntity, search any) bool {
	if search == nil {
		return true
	}
	return strings.Contains(strings.ToLower(n.Label()), strings.ToLower(fmt.Sprint(search)))
}

func matchNode(n age.RetrievedEntity, params map[string]any, body string) bool {
	p := n.Properties
	if !same(p[age.PropType], params["type"]) {
		return false
	}
	if params["categories"] != nil && !contains(params["categories"], p[age.PropCategoryID]) {
		return false
	}
	if params["external_ids"] != nil && !contains(params["external_ids"], p[age.PropExternalID]) {
		return false
	}
	if !labelContains(n, params["search"]) {
		return false
	}
	created, _ := n.CreatedAt()
	if s, ok := params["created_after"].(string); ok {
		if t, _ := age.ParseTime(s); !created.After(t) {
			return false
		}
	}
	if s, ok := params["created_before"].(string); ok {
		if t, _ := age.ParseTime(s); !created.Before(t) {
			return false
		}
	}
	if params["ids"] != nil && !contains(params["ids"], n.ID) {
		return false
	}
	if strings.Contains(body, "n.__active = true") && p[age.PropActive] != true {
		return false
	}
	return true
}

func sortLatest(nodes []age.RetrievedEntity) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, _ := nodes[i].CreatedAt()
		b, _ := nodes[j].CreatedAt()
		if a.Equal(b) {
			return nodes[i].ID > nodes[j].ID
		}
		return a.After(b)
	})
}

func page[T any](items []T, body string) []T {
	skip, limit := 0, len(items)
	if m := pagePattern.FindStringSubmatch(body); m != nil {
		skip, _ = strconv.Atoi(m[1])
		limit, _ = strconv.Atoi(m[2])
	} else if m := limitPattern.FindStringSubmatch(body); m != nil {
		limit, _ = strconv.Atoi(m[1])
	}
	if skip >= len(items) {
		return nil
	}
	items = items[skip:]
	if limit < len(items) {
		items = items[:limit]
	}
	return items
}

func vertexRows(nodes []age.RetrievedEntity) []age.Row {
	rows := make([]age.Row, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, age.Row{n.Literal()})
	}
	return rows
}

// harness wires a service to an in-memory catalogue and a fake engine with
// a clock advancing one second per reading.
type harness struct {
	svc    *Service
	engine *fakeEngine
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	catalog, err := db.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	var (
		mu   sync.Mutex
		tick = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	engine := newFakeEngine()
	return &harness{
		svc:    New(catalog, engine, WithClock(clock)),
		engine: engine,
		ctx:    context.Background(),
	}
}

func (h *harness) graph(t *testing.T, name string) *db.Graph {
	t.Helper()
	g, err := h.svc.CreateGraph(h.ctx, GraphInput{Name: name, Owner: "tester"})
	require.NoError(t, err)
	return g
}

func (h *harness) category(t *testing.T, in CategoryInput) *db.Category {
	t.Helper()
	c, err := h.svc.CreateCategory(h.ctx, in)
	require.NoError(t, err)
	return c
}

func (h *harness) entity(t *testing.T, categoryID, name string) age.RetrievedEntity {
	t.Helper()
	e, err := h.svc.CreateEntity(h.ctx, EntityInput{CategoryID: categoryID, Name: &name})
	require.NoError(t, err)
	return e
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }
