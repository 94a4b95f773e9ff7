package graph

import (
	"math"
	"testing"

	"kraph/core/internal/names"
)

func ids(results []ContextNode) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.NodeID
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEdgeCost(t *testing.T) {
	tests := []struct {
		name string
		e    EdgeInfo
		want float64
	}{
		{"describes", EdgeInfo{Kind: names.DescribesLabel, Type: "METRIC"}, 0.2},
		{"role edge", EdgeInfo{Kind: "IN_DYE"}, 0.3},
		{"measurement", EdgeInfo{Kind: "stains", Type: "MEASUREMENT"}, 0.5},
		{"relation", EdgeInfo{Kind: "touches", Type: "RELATION"}, 0.6},
	}
	for _, tt := range tests {
		if got := EdgeCost(&tt.e); got != tt.want {
			t.Errorf("EdgeCost(%s) = %f, want %f", tt.name, got, tt.want)
		}
	}
}

func TestExpandContext_SimpleChain(t *testing.T) {
	snap := quickSnapshot(3, [][2]int64{{1, 2}, {2, 3}})
	results := ExpandContext(snap, 1, DefaultContextConfig(), now)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].NodeID != "lab:2" || results[1].NodeID != "lab:3" {
		t.Errorf("order = %v, want [lab:2 lab:3]", ids(results))
	}
	if !approx(results[0].Distance, 0.6) || !approx(results[1].Distance, 1.2) {
		t.Errorf("distances = %f, %f", results[0].Distance, results[1].Distance)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks should be 1,2, got %d,%d", results[0].Rank, results[1].Rank)
	}
	if results[1].Hops != 2 || len(results[1].Path) != 2 {
		t.Errorf("lab:3 hops=%d path=%d, want 2 and 2", results[1].Hops, len(results[1].Path))
	}
	if !approx(results[0].Relevance, 1/1.6) {
		t.Errorf("relevance = %f", results[0].Relevance)
	}
}

func TestExpandContext_BudgetCutoff(t *testing.T) {
	var edges [][2]int64
	for i := int64(2); i <= 11; i++ {
		edges = append(edges, [2]int64{1, i})
	}
	snap := quickSnapshot(11, edges)
	results := ExpandContext(snap, 1, &ContextConfig{Budget: 3, MaxHops: 6, MaxCost: 3}, now)
	if len(results) != 3 {
		t.Errorf("expected 3 results (budget), got %d", len(results))
	}
}

func TestExpandContext_MaxHopsCutoff(t *testing.T) {
	snap := quickSnapshot(5, [][2]int64{{1, 2}, {2, 3}, {3, 4}, {4, 5}})
	results := ExpandContext(snap, 1, &ContextConfig{Budget: 20, MaxHops: 2, MaxCost: 10}, now)
	if len(results) != 2 {
		t.Errorf("expected 2 results (maxHops=2), got %d", len(results))
	}
}

func TestExpandContext_MaxCostCutoff(t *testing.T) {
	snap := quickSnapshot(3, [][2]int64{{1, 2}, {2, 3}})
	// relation edges cost 0.6: lab:2 at 0.6, lab:3 at 1.2
	results := ExpandContext(snap, 1, &ContextConfig{Budget: 20, MaxHops: 6, MaxCost: 1.0}, now)
	if len(results) != 1 || results[0].NodeID != "lab:2" {
		t.Errorf("got %v, want [lab:2]", ids(results))
	}
}

func TestExpandContext_TypesFilterTraversesThrough(t *testing.T) {
	nodes := []*NodeInfo{
		node(1, "ENTITY", "cell", now),
		node(2, "PROTOCOL_EVENT", "stain", now),
		node(3, "ENTITY", "cell", now),
	}
	edges := []EdgeInfo{
		{ID: 10, EdgeID: "lab:10", Source: 1, Target: 2, Kind: "IN_SAMPLE"},
		{ID: 11, EdgeID: "lab:11", Source: 2, Target: 3, Kind: "OUT_SAMPLE"},
	}
	snap := NewSnapshot(nodes, edges)

	config := DefaultContextConfig()
	config.Types = []string{"ENTITY"}
	results := ExpandContext(snap, 1, config, now)
	if len(results) != 1 {
		t.Fatalf("expected only the entity, got %v", ids(results))
	}
	r := results[0]
	if r.NodeID != "lab:3" || r.Rank != 1 {
		t.Errorf("got %+v", r)
	}
	if len(r.Path) != 2 || r.Path[0].EdgeKind != "IN_SAMPLE" || r.Path[1].NodeID != "lab:3" {
		t.Errorf("path = %+v", r.Path)
	}
}

func TestExpandContext_ValidOnly(t *testing.T) {
	expired := daysAgo(1)
	nodes := []*NodeInfo{node(1, "ENTITY", "cell", now), node(2, "ENTITY", "cell", now)}
	e := edge(10, 1, 2, "TOUCHES", now)
	e.ValidTo = &expired
	snap := NewSnapshot(nodes, []EdgeInfo{e})

	if got := ExpandContext(snap, 1, nil, now); len(got) != 1 {
		t.Errorf("without filter expected 1 result, got %d", len(got))
	}
	config := DefaultContextConfig()
	config.ValidOnly = true
	if got := ExpandContext(snap, 1, config, now); len(got) != 0 {
		t.Errorf("expired edge should be skipped, got %v", ids(got))
	}
}

func TestExpandContext_DeterministicTieBreaking(t *testing.T) {
	snap := quickSnapshot(3, [][2]int64{{1, 3}, {1, 2}})
	for i := 0; i < 5; i++ {
		results := ExpandContext(snap, 1, nil, now)
		if len(results) != 2 || results[0].NodeID != "lab:2" {
			t.Fatalf("run %d: got %v, want lab:2 first", i, ids(results))
		}
	}
}

func TestExpandContext_ShortestPathWins(t *testing.T) {
	nodes := []*NodeInfo{
		node(1, "ENTITY", "cell", now),
		node(2, "METRIC", "area", now),
		node(3, "METRIC", "area", now),
		node(4, "ENTITY", "cell", now),
	}
	edges := []EdgeInfo{
		edge(10, 1, 4, "TOUCHES", now),
		{ID: 11, EdgeID: "lab:11", Source: 2, Target: 1, Kind: names.DescribesLabel},
		{ID: 12, EdgeID: "lab:12", Source: 2, Target: 3, Kind: names.DescribesLabel},
		{ID: 13, EdgeID: "lab:13", Source: 3, Target: 4, Kind: names.DescribesLabel},
	}
	snap := NewSnapshot(nodes, edges)

	results := ExpandContext(snap, 1, nil, now)
	var four *ContextNode
	for i := range results {
		if results[i].NodeID == "lab:4" {
			four = &results[i]
		}
	}
	if four == nil {
		t.Fatalf("lab:4 not reached: %v", ids(results))
	}
	if !approx(four.Distance, 0.6) || four.Hops != 1 {
		t.Errorf("lab:4 distance=%f hops=%d, want direct edge at 0.6", four.Distance, four.Hops)
	}

	results = ExpandContext(snap, 1, &ContextConfig{ExcludeEdgeKinds: []string{"TOUCHES"}}, now)
	if got := ids(results); len(got) != 3 || got[2] != "lab:4" {
		t.Fatalf("got %v", got)
	}
	if !approx(results[2].Distance, 0.6) || results[2].Hops != 3 {
		t.Errorf("lab:4 via metrics distance=%f hops=%d", results[2].Distance, results[2].Hops)
	}
}

func TestExpandContext_BidirectionalTraversal(t *testing.T) {
	snap := quickSnapshot(2, [][2]int64{{2, 1}})
	if got := ExpandContext(snap, 1, nil, now); len(got) != 1 || got[0].NodeID != "lab:2" {
		t.Errorf("incoming edge not traversed: %v", ids(got))
	}
}

func TestExpandContext_EdgeKindAllowlist(t *testing.T) {
	nodes := []*NodeInfo{node(1, "ENTITY", "cell", now), node(2, "ENTITY", "cell", now), node(3, "ENTITY", "cell", now)}
	edges := []EdgeInfo{edge(10, 1, 2, "TOUCHES", now), edge(11, 1, 3, "CONTAINS", now)}
	snap := NewSnapshot(nodes, edges)

	got := ExpandContext(snap, 1, &ContextConfig{EdgeKinds: []string{"CONTAINS"}}, now)
	if len(got) != 1 || got[0].NodeID != "lab:3" {
		t.Errorf("got %v, want [lab:3]", ids(got))
	}
}

func TestExpandContext_UnknownSource(t *testing.T) {
	snap := quickSnapshot(2, [][2]int64{{1, 2}})
	if got := ExpandContext(snap, 99, nil, now); got != nil {
		t.Errorf("expected nil, got %v", ids(got))
	}
	if got := ExpandContext(NewSnapshot(nil, nil), 1, nil, now); got != nil {
		t.Errorf("empty graph: expected nil, got %v", ids(got))
	}
}
