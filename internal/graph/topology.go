package graph

import "sort"

// HubNode is a node with high connectivity
type HubNode struct {
	NodeID    string `json:"node_id"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	Degree    int    `json:"degree"`
	InDegree  int    `json:"in_degree"`
	OutDegree int    `json:"out_degree"`
}

// DegreeBucket is one bucket in the degree histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CategoryCount counts the vertices or edges of one category.
type CategoryCount struct {
	CategoryID string `json:"category_id"`
	Type       string `json:"type"`
	Nodes      int    `json:"nodes"`
	Edges      int    `json:"edges"`
}

// TopologyReport contains topology analysis results
type TopologyReport struct {
	TotalNodes        int             `json:"total_nodes"`
	TotalEdges        int             `json:"total_edges"`
	NumComponents     int             `json:"num_components"`
	LargestComponent  int             `json:"largest_component"`
	SmallestComponent int             `json:"smallest_component"`
	OrphanCount       int             `json:"orphan_count"`
	OrphanIDs         []string        `json:"orphan_ids"`
	DegreeHistogram   []DegreeBucket  `json:"degree_histogram"`
	Hubs              []HubNode       `json:"hubs"`
	TypeCounts        map[string]int  `json:"type_counts"`
	Categories        []CategoryCount `json:"categories"`
}

// ComputeTopology analyzes graph topology: components, orphans, degree
// distribution, hubs and per-category counts
func ComputeTopology(snap *GraphSnapshot, hubThreshold, topN int) *TopologyReport {
	totalNodes := len(snap.Nodes)
	totalEdges := len(snap.Edges)

	if totalNodes == 0 {
		return &TopologyReport{
			TotalEdges:      totalEdges,
			DegreeHistogram: defaultHistogram(),
			TypeCounts:      map[string]int{},
		}
	}

	nodeIDs := snap.NodeIDs()
	uf := NewUnionFind(nodeIDs)
	for _, e := range snap.Edges {
		if _, ok := snap.Nodes[e.Source]; !ok {
			continue
		}
		if _, ok := snap.Nodes[e.Target]; !ok {
			continue
		}
		uf.Union(e.Source, e.Target)
	}

	components := uf.Components()
	largest, smallest := 0, totalNodes
	for _, c := range components {
		if len(c) > largest {
			largest = len(c)
		}
		if len(c) < smallest {
			smallest = len(c)
		}
	}

	var orphans []string
	for _, id := range nodeIDs {
		if len(snap.Adj[id]) == 0 {
			orphans = append(orphans, snap.Nodes[id].NodeID)
		}
	}
	orphanCount := len(orphans)
	if len(orphans) > topN {
		orphans = orphans[:topN]
	}

	// Degree histogram (log-scale buckets)
	var buckets [7]int
	for _, id := range nodeIDs {
		buckets[degreeBucket(len(snap.Adj[id]))]++
	}
	histogram := defaultHistogram()
	for i := range histogram {
		histogram[i].Count = buckets[i]
	}

	var hubs []HubNode
	for _, id := range nodeIDs {
		degree := len(snap.Adj[id])
		if degree > hubThreshold {
			n := snap.Nodes[id]
			hubs = append(hubs, HubNode{
				NodeID:    n.NodeID,
				Label:     n.Label,
				Type:      n.Type,
				Degree:    degree,
				InDegree:  len(snap.InAdj[id]),
				OutDegree: len(snap.OutAdj[id]),
			})
		}
	}
	sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].Degree > hubs[j].Degree })
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}

	return &TopologyReport{
		TotalNodes:        totalNodes,
		TotalEdges:        totalEdges,
		NumComponents:     len(components),
		LargestComponent:  largest,
		SmallestComponent: smallest,
		OrphanCount:       orphanCount,
		OrphanIDs:         orphans,
		DegreeHistogram:   histogram,
		Hubs:              hubs,
		TypeCounts:        typeCounts(snap),
		Categories:        categoryCounts(snap),
	}
}

func typeCounts(snap *GraphSnapshot) map[string]int {
	counts := make(map[string]int)
	for _, n := range snap.Nodes {
		counts[n.Type]++
	}
	for _, e := range snap.Edges {
		counts[e.Type]++
	}
	return counts
}

// categoryCounts orders by total records, then category id. Records without a
// category (DESCRIBES edges) are skipped.
func categoryCounts(snap *GraphSnapshot) []CategoryCount {
	byID := make(map[string]*CategoryCount)
	get := func(id, typ string) *CategoryCount {
		c, ok := byID[id]
		if !ok {
			c = &CategoryCount{CategoryID: id, Type: typ}
			byID[id] = c
		}
		return c
	}
	for _, n := range snap.Nodes {
		if n.CategoryID != "" {
			get(n.CategoryID, n.Type).Nodes++
		}
	}
	for _, e := range snap.Edges {
		if e.CategoryID != "" {
			get(e.CategoryID, e.Type).Edges++
		}
	}

	out := make([]CategoryCount, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Nodes+out[i].Edges, out[j].Nodes+out[j].Edges
		if ti != tj {
			return ti > tj
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
