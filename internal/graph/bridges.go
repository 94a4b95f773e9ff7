package graph

import "sort"

// ArticulationPoint is a vertex whose removal disconnects its component
type ArticulationPoint struct {
	NodeID              string `json:"node_id"`
	Label               string `json:"label"`
	ComponentsIfRemoved int    `json:"components_if_removed"`
}

// BridgeEdge is an edge whose removal disconnects its component
type BridgeEdge struct {
	SourceID    string `json:"source_id"`
	TargetID    string `json:"target_id"`
	SourceLabel string `json:"source_label"`
	TargetLabel string `json:"target_label"`
}

// FragileConnection is a pair of categories joined by very few edges
type FragileConnection struct {
	CategoryA  string `json:"category_a"`
	CategoryB  string `json:"category_b"`
	CrossEdges int    `json:"cross_edges"`
}

// BridgeReport contains bridge analysis results
type BridgeReport struct {
	ArticulationPoints []ArticulationPoint `json:"articulation_points"`
	BridgeEdges        []BridgeEdge        `json:"bridge_edges"`
	FragileConnections []FragileConnection `json:"fragile_connections"`
	APCount            int                 `json:"ap_count"`
	BridgeCount        int                 `json:"bridge_count"`
}

// FragileCrossEdges is the most edges a category pair may share and still
// count as fragile.
const FragileCrossEdges = 2

const uncategorized = "uncategorized"

// lowlink is the state of a bridge search over vertices renumbered 0..n-1.
// order[v] is the discovery time of v, 0 while unvisited.
type lowlink struct {
	adj     [][]int
	order   []int
	low     []int
	splits  []int // child subtrees cut off when the vertex goes
	roots   []bool
	bridges [][2]int
	clock   int
}

func newLowlink(adj [][]int) *lowlink {
	n := len(adj)
	return &lowlink{
		adj:    adj,
		order:  make([]int, n),
		low:    make([]int, n),
		splits: make([]int, n),
		roots:  make([]bool, n),
	}
}

func (l *lowlink) discover(v int) {
	l.clock++
	l.order[v], l.low[v] = l.clock, l.clock
}

// search walks the component of root depth first with an explicit stack.
func (l *lowlink) search(root int) {
	type step struct{ v, from, next int }
	l.roots[root] = true
	l.discover(root)
	stack := []step{{v: root, from: -1}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next == len(l.adj[top.v]) {
			v := top.v
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				l.retreat(stack[len(stack)-1].v, v)
			}
			continue
		}
		w := l.adj[top.v][top.next]
		top.next++
		switch {
		case w == top.from:
		case l.order[w] != 0:
			l.low[top.v] = min(l.low[top.v], l.order[w])
		default:
			l.discover(w)
			stack = append(stack, step{v: w, from: top.v})
		}
	}
}

// retreat folds the finished child v into its tree parent u.
func (l *lowlink) retreat(u, v int) {
	l.low[u] = min(l.low[u], l.low[v])
	if l.low[v] > l.order[u] {
		l.bridges = append(l.bridges, [2]int{u, v})
	}
	if l.low[v] >= l.order[u] {
		l.splits[u]++
	}
}

// componentsIfRemoved is how many pieces the component of v falls into
// without v, or 0 when v is not a cut vertex. A root cuts only with two or
// more subtrees; any other vertex also keeps the piece above it.
func (l *lowlink) componentsIfRemoved(v int) int {
	switch {
	case l.roots[v] && l.splits[v] >= 2:
		return l.splits[v]
	case !l.roots[v] && l.splits[v] >= 1:
		return l.splits[v] + 1
	}
	return 0
}

// denseAdjacency renumbers the vertices of snap in id order and returns
// their undirected neighbours with parallel edges and loops dropped.
func denseAdjacency(snap *GraphSnapshot) ([]int64, [][]int) {
	ids := snap.NodeIDs()
	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	adj := make([][]int, len(ids))
	linked := make(map[[2]int]bool, len(snap.Edges))
	for _, e := range snap.Edges {
		u, okU := index[e.Source]
		v, okV := index[e.Target]
		if !okU || !okV || u == v {
			continue
		}
		key := [2]int{min(u, v), max(u, v)}
		if linked[key] {
			continue
		}
		linked[key] = true
		adj[u] = append(adj[u], v)
		adj[v] = append(adj[v], u)
	}
	return ids, adj
}

// ComputeBridges finds cut vertices, bridge edges and fragile connections
// between categories.
func ComputeBridges(snap *GraphSnapshot) *BridgeReport {
	if len(snap.Nodes) == 0 {
		return &BridgeReport{}
	}
	ids, adj := denseAdjacency(snap)
	l := newLowlink(adj)
	for v := range adj {
		if l.order[v] == 0 {
			l.search(v)
		}
	}

	report := &BridgeReport{FragileConnections: fragileConnections(snap)}
	for v := range adj {
		if parts := l.componentsIfRemoved(v); parts > 0 {
			n := snap.Nodes[ids[v]]
			report.ArticulationPoints = append(report.ArticulationPoints, ArticulationPoint{
				NodeID:              n.NodeID,
				Label:               n.Label,
				ComponentsIfRemoved: parts,
			})
		}
	}
	for _, b := range l.bridges {
		u, v := snap.Nodes[ids[b[0]]], snap.Nodes[ids[b[1]]]
		report.BridgeEdges = append(report.BridgeEdges, BridgeEdge{
			SourceID:    u.NodeID,
			TargetID:    v.NodeID,
			SourceLabel: u.Label,
			TargetLabel: v.Label,
		})
	}
	report.APCount = len(report.ArticulationPoints)
	report.BridgeCount = len(report.BridgeEdges)
	return report
}

func fragileConnections(snap *GraphSnapshot) []FragileConnection {
	category := func(id int64) string {
		if n, ok := snap.Nodes[id]; ok && n.CategoryID != "" {
			return n.CategoryID
		}
		return uncategorized
	}

	type categoryPair struct{ a, b string }
	pairCounts := make(map[categoryPair]int)
	for _, e := range snap.Edges {
		ca, cb := category(e.Source), category(e.Target)
		if ca == cb {
			continue
		}
		key := categoryPair{ca, cb}
		if ca > cb {
			key = categoryPair{cb, ca}
		}
		pairCounts[key]++
	}

	var fragile []FragileConnection
	for pair, count := range pairCounts {
		if count <= FragileCrossEdges {
			fragile = append(fragile, FragileConnection{
				CategoryA:  pair.a,
				CategoryB:  pair.b,
				CrossEdges: count,
			})
		}
	}
	sort.Slice(fragile, func(i, j int) bool {
		if fragile[i].CrossEdges != fragile[j].CrossEdges {
			return fragile[i].CrossEdges < fragile[j].CrossEdges
		}
		if fragile[i].CategoryA != fragile[j].CategoryA {
			return fragile[i].CategoryA < fragile[j].CategoryA
		}
		return fragile[i].CategoryB < fragile[j].CategoryB
	})
	return fragile
}
