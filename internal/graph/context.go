package graph

import (
	"container/heap"
	"time"

	"kraph/core/internal/db"
	"kraph/core/internal/names"
)

// ContextNode is a vertex reached by Dijkstra expansion from a source.
type ContextNode struct {
	Rank       int       `json:"rank"`
	NodeID     string    `json:"node_id"`
	Label      string    `json:"label"`
	Type       string    `json:"type"`
	CategoryID string    `json:"category_id"`
	Distance   float64   `json:"distance"`
	Relevance  float64   `json:"relevance"`
	Hops       int       `json:"hops"`
	Path       []PathHop `json:"path"`
}

// PathHop is one hop on the way from the source to a ContextNode.
type PathHop struct {
	EdgeID   string `json:"edge_id"`
	EdgeKind string `json:"edge_kind"`
	NodeID   string `json:"node_id"`
	Label    string `json:"label"`
}

// ContextConfig holds parameters for the context expansion.
type ContextConfig struct {
	Budget           int
	MaxHops          int
	MaxCost          float64
	EdgeKinds        []string // engine label allowlist; nil means all
	ExcludeEdgeKinds []string
	// Types limits the reported vertices; the others are still traversed.
	Types []string
	// ValidOnly skips edges whose validity window ended before now.
	ValidOnly bool
}

// DefaultContextConfig returns the CLI defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		Budget:  20,
		MaxHops: 6,
		MaxCost: 3.0,
	}
}

// EdgeCost is the traversal cost of one edge. A metric sits closest to
// what it describes, then event roles, measurements and relations.
func EdgeCost(e *EdgeInfo) float64 {
	switch {
	case e.Kind == names.DescribesLabel:
		return 0.2
	case e.Type == string(db.KindMeasurement):
		return 0.5
	case e.Type == string(db.KindRelation):
		return 0.6
	default:
		return 0.3
	}
}

// prevEntry tracks how a vertex was reached, for path reconstruction.
type prevEntry struct {
	prev int64
	edge *EdgeInfo
}

type dijkstraEntry struct {
	distance float64
	id       int64
	hops     int
}

// dijkstraHeap is a min-heap on distance, ties broken by vertex id.
type dijkstraHeap []dijkstraEntry

func (h dijkstraHeap) Len() int { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	return h[i].id < h[j].id
}
func (h dijkstraHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x any)   { *h = append(*h, x.(dijkstraEntry)) }
func (h *dijkstraHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func stringSet(values []string) map[string]bool {
	if values == nil {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// ExpandContext walks the snapshot outward from source, ignoring edge
// direction, and returns up to config.Budget vertices by ascending distance.
func ExpandContext(snap *GraphSnapshot, source int64, config *ContextConfig, now time.Time) []ContextNode {
	if config == nil {
		config = DefaultContextConfig()
	}
	budget := config.Budget
	if budget <= 0 {
		budget = 20
	}
	maxHops := config.MaxHops
	if maxHops <= 0 {
		maxHops = 6
	}
	maxCost := config.MaxCost
	if maxCost <= 0 {
		maxCost = 3.0
	}
	if _, ok := snap.Nodes[source]; !ok {
		return nil
	}

	allow := stringSet(config.EdgeKinds)
	exclude := stringSet(config.ExcludeEdgeKinds)
	report := stringSet(config.Types)

	incident := make(map[int64][]*EdgeInfo)
	for i := range snap.Edges {
		e := &snap.Edges[i]
		if snap.Nodes[e.Source] == nil || snap.Nodes[e.Target] == nil {
			continue
		}
		if allow != nil && !allow[e.Kind] || exclude[e.Kind] {
			continue
		}
		if config.ValidOnly && e.ValidTo != nil && e.ValidTo.Before(now) {
			continue
		}
		incident[e.Source] = append(incident[e.Source], e)
		if e.Target != e.Source {
			incident[e.Target] = append(incident[e.Target], e)
		}
	}

	dist := map[int64]float64{source: 0}
	prev := map[int64]prevEntry{}
	visited := map[int64]bool{}
	h := &dijkstraHeap{{distance: 0, id: source}}

	var results []ContextNode
	for h.Len() > 0 {
		entry := heap.Pop(h).(dijkstraEntry)
		if visited[entry.id] {
			continue
		}
		visited[entry.id] = true

		if entry.id != source {
			n := snap.Nodes[entry.id]
			if report == nil || report[n.Type] {
				results = append(results, ContextNode{
					NodeID:     n.NodeID,
					Label:      n.Label,
					Type:       n.Type,
					CategoryID: n.CategoryID,
					Distance:   entry.distance,
					Relevance:  1.0 / (1.0 + entry.distance),
					Hops:       entry.hops,
					Path:       reconstructPath(snap, prev, source, entry.id),
				})
				if len(results) >= budget {
					break
				}
			}
		}

		if entry.hops >= maxHops {
			continue
		}
		for _, e := range incident[entry.id] {
			neighbor := e.Target
			if neighbor == entry.id {
				neighbor = e.Source
			}
			if visited[neighbor] {
				continue
			}
			d := entry.distance + EdgeCost(e)
			if d > maxCost {
				continue
			}
			if old, ok := dist[neighbor]; !ok || d < old {
				dist[neighbor] = d
				prev[neighbor] = prevEntry{prev: entry.id, edge: e}
				heap.Push(h, dijkstraEntry{distance: d, id: neighbor, hops: entry.hops + 1})
			}
		}
	}

	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func reconstructPath(snap *GraphSnapshot, prev map[int64]prevEntry, source, target int64) []PathHop {
	var path []PathHop
	for current := target; current != source; {
		entry, ok := prev[current]
		if !ok {
			break
		}
		n := snap.Nodes[current]
		path = append(path, PathHop{
			EdgeID:   entry.edge.EdgeID,
			EdgeKind: entry.edge.Kind,
			NodeID:   n.NodeID,
			Label:    n.Label,
		})
		current = entry.prev
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
