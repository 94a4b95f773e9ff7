package graph

import (
	"math"
	"sort"
)

// SimilarNode is a metric vertex with its similarity to a target vector.
type SimilarNode struct {
	NodeID     string  `json:"node_id"`
	Label      string  `json:"label"`
	CategoryID string  `json:"category_id"`
	Similarity float64 `json:"similarity"`
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0.0 for zero-norm vectors or mismatched lengths.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FindSimilar ranks the vector metrics of snap against target, skipping
// excludeID. Only results with similarity >= minSimilarity are kept, sorted
// by descending similarity.
func FindSimilar(snap *GraphSnapshot, target []float64, excludeID int64, topN int, minSimilarity float64) []SimilarNode {
	var results []SimilarNode
	for _, id := range snap.NodeIDs() {
		n := snap.Nodes[id]
		if id == excludeID || n.Vector == nil {
			continue
		}
		if sim := CosineSimilarity(target, n.Vector); sim >= minSimilarity {
			results = append(results, SimilarNode{
				NodeID:     n.NodeID,
				Label:      n.Label,
				CategoryID: n.CategoryID,
				Similarity: sim,
			})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results
}
