package graph

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"kraph/core/internal/age"
)

// NodeInfo is the slice of a vertex the analyses need.
type NodeInfo struct {
	ID         int64     `json:"id"`
	NodeID     string    `json:"node_id"`
	Label      string    `json:"label"`
	Type       string    `json:"type"`
	CategoryID string    `json:"category_id"`
	CreatedAt  time.Time `json:"created_at"`
	// Vector is set for metric vertices holding a vector value.
	Vector []float64 `json:"vector,omitempty"`
}

// EdgeInfo is the slice of an edge the analyses need.
type EdgeInfo struct {
	ID         int64
	EdgeID     string
	Source     int64
	Target     int64
	Kind       string // engine label
	Type       string
	CategoryID string
	CreatedAt  time.Time
	ValidTo    *time.Time
}

// GraphSnapshot holds a graph with precomputed adjacency lists
type GraphSnapshot struct {
	Nodes  map[int64]*NodeInfo
	Edges  []EdgeInfo
	Adj    map[int64][]int64 // undirected
	OutAdj map[int64][]int64 // directed: source -> targets
	InAdj  map[int64][]int64 // directed: target -> sources
}

// NewSnapshot builds a GraphSnapshot from nodes and edges. Edges with an
// endpoint outside nodes are kept in Edges but not in the adjacency lists.
func NewSnapshot(nodes []*NodeInfo, edges []EdgeInfo) *GraphSnapshot {
	nodeMap := make(map[int64]*NodeInfo, len(nodes))
	adj := make(map[int64][]int64, len(nodes))
	outAdj := make(map[int64][]int64, len(nodes))
	inAdj := make(map[int64][]int64, len(nodes))

	for _, n := range nodes {
		nodeMap[n.ID] = n
		adj[n.ID] = nil
		outAdj[n.ID] = nil
		inAdj[n.ID] = nil
	}

	for _, e := range edges {
		if _, ok := nodeMap[e.Source]; !ok {
			continue
		}
		if _, ok := nodeMap[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
		outAdj[e.Source] = append(outAdj[e.Source], e.Target)
		inAdj[e.Target] = append(inAdj[e.Target], e.Source)
	}

	return &GraphSnapshot{
		Nodes:  nodeMap,
		Edges:  edges,
		Adj:    adj,
		OutAdj: outAdj,
		InAdj:  inAdj,
	}
}

// FromSubgraph converts retrieved records into a snapshot.
func FromSubgraph(sg *age.Subgraph) *GraphSnapshot {
	nodes := make([]*NodeInfo, 0, len(sg.Nodes))
	for _, n := range sg.Nodes {
		nodes = append(nodes, nodeInfo(n))
	}
	edges := make([]EdgeInfo, 0, len(sg.Edges))
	for _, e := range sg.Edges {
		edges = append(edges, edgeInfo(e))
	}
	return NewSnapshot(nodes, edges)
}

func nodeInfo(n age.RetrievedEntity) *NodeInfo {
	info := &NodeInfo{
		ID:         n.ID,
		NodeID:     n.NodeID(),
		Label:      n.Label(),
		Type:       n.Type(),
		CategoryID: n.CategoryID(),
	}
	if t, ok := n.CreatedAt(); ok {
		info.CreatedAt = t
	}
	if s, ok := n.Value().(string); ok && strings.HasPrefix(s, "[") {
		var vec []float64
		if json.Unmarshal([]byte(s), &vec) == nil && len(vec) > 0 {
			info.Vector = vec
		}
	}
	return info
}

func edgeInfo(e age.RetrievedRelation) EdgeInfo {
	info := EdgeInfo{
		ID:         e.ID,
		EdgeID:     e.EdgeID(),
		Source:     e.LeftID,
		Target:     e.RightID,
		Kind:       e.KindAgeName,
		Type:       e.Type(),
		CategoryID: e.CategoryID(),
	}
	if t, ok := e.CreatedAt(); ok {
		info.CreatedAt = t
	}
	if t, ok := e.ValidTo(); ok {
		info.ValidTo = &t
	}
	return info
}

// FilterToCategories returns a snapshot holding only vertices of the given
// categories and the edges between them.
func (s *GraphSnapshot) FilterToCategories(categoryIDs ...string) *GraphSnapshot {
	want := make(map[string]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		want[id] = true
	}

	var nodes []*NodeInfo
	for _, id := range s.NodeIDs() {
		if want[s.Nodes[id].CategoryID] {
			nodes = append(nodes, s.Nodes[id])
		}
	}
	var edges []EdgeInfo
	for _, e := range s.Edges {
		src, okS := s.Nodes[e.Source]
		dst, okT := s.Nodes[e.Target]
		if okS && okT && want[src.CategoryID] && want[dst.CategoryID] {
			edges = append(edges, e)
		}
	}
	return NewSnapshot(nodes, edges)
}

// NodeIDs returns all engine ids in ascending order.
func (s *GraphSnapshot) NodeIDs() []int64 {
	ids := make([]int64, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
