package search

import (
	"sort"
)

// Fused is a document after rank fusion.
type Fused struct {
	ID    string
	Score float64
}

// Fuse combines ranked score maps with Reciprocal Rank Fusion:
//
//	score(d) = Σ 1 / (k + rank_s(d) + 1)
//
// where rank_s is the 0-based position of d in source s after sorting by
// score descending (ties by id). Documents absent from a source get nothing
// from it. The output is sorted by fused score descending; equal scores keep
// the order in which documents were first seen across sources.
// k <= 0 falls back to DefaultRRFConstant.
func Fuse(sources []map[string]float64, k int) []Fused {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]float64)
	var order []string

	for _, src := range sources {
		for rank, id := range rankedIDs(src) {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+rank+1)
		}
	}

	out := make([]Fused, len(order))
	for i, id := range order {
		out[i] = Fused{ID: id, Score: scores[id]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// rankedIDs orders a source's ids by score descending, ties by id.
func rankedIDs(src map[string]float64) []string {
	ids := make([]string, 0, len(src))
	for id := range src {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := src[ids[i]], src[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	return ids
}
