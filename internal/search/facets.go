package search

import (
	"math"
	"sort"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

// Year bounds for facet discovery, and the range reported when no record
// carries a usable date.
const (
	minFacetYear     = 2000
	maxFacetYear     = 2100
	defaultStartYear = 2020
	defaultEndYear   = 2024
)

// HierarchyNode is one level of the location > line > equipment tree.
type HierarchyNode struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Children []HierarchyNode `json:"children"`
}

// Facets lists the filter values present in a corpus.
type Facets struct {
	Categories      []string        `json:"categories"`
	ProductionLines []string        `json:"productionLines"`
	WorkTypes       []string        `json:"workTypes"`
	Locations       []string        `json:"locations"`
	Equipment1s     []string        `json:"equipment1s"`
	Equipment2s     []string        `json:"equipment2s"`
	Equipment3s     []string        `json:"equipment3s"`
	YearRange       YearRange       `json:"yearRange"`
	TotalDocuments  int             `json:"totalDocuments"`
	Hierarchy       []HierarchyNode `json:"hierarchy"`
}

// BuildFacets collects sorted unique values per filter key, the year span
// and the equipment hierarchy.
func BuildFacets(records []corpus.Record) Facets {
	var (
		categories = set{}
		lines      = set{}
		workTypes  = set{}
		locations  = set{}
		eq1s       = set{}
		eq2s       = set{}
		eq3s       = set{}
		docs       = set{}
		tree       = &treeNode{}
	)
	minYear, maxYear := math.MaxInt, math.MinInt

	for _, rec := range records {
		m := rec.Metadata
		docs.add(rec.DocID)
		categories.add(m.Category)
		lines.add(m.Line)
		workTypes.add(m.WorkType)
		locations.add(m.Location)
		eq1s.add(m.Equipment1)
		eq2s.add(m.Equipment2)
		eq3s.add(m.Equipment3)

		if year, ok := RecordYear(rec); ok && year >= minFacetYear && year <= maxFacetYear {
			minYear = min(minYear, year)
			maxYear = max(maxYear, year)
		}

		if m.Location == "" || m.Line == "" {
			continue
		}
		n := tree.child(m.Location).child(m.Line)
		if m.Equipment1 == "" {
			continue
		}
		n = n.child(m.Equipment1)
		if m.Equipment2 == "" {
			continue
		}
		n = n.child(m.Equipment2)
		if m.Equipment3 != "" {
			n.child(m.Equipment3)
		}
	}

	years := YearRange{StartYear: defaultStartYear, EndYear: defaultEndYear}
	if minYear <= maxYear {
		years = YearRange{StartYear: minYear, EndYear: maxYear}
	}

	return Facets{
		Categories:      categories.sorted(),
		ProductionLines: lines.sorted(),
		WorkTypes:       workTypes.sorted(),
		Locations:       locations.sorted(),
		Equipment1s:     eq1s.sorted(),
		Equipment2s:     eq2s.sorted(),
		Equipment3s:     eq3s.sorted(),
		YearRange:       years,
		TotalDocuments:  len(docs),
		Hierarchy:       tree.nodes(),
	}
}

type set map[string]struct{}

func (s set) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

type treeNode struct {
	children map[string]*treeNode
}

func (t *treeNode) child(name string) *treeNode {
	if t.children == nil {
		t.children = make(map[string]*treeNode)
	}
	c, ok := t.children[name]
	if !ok {
		c = &treeNode{}
		t.children[name] = c
	}
	return c
}

func (t *treeNode) nodes() []HierarchyNode {
	names := make([]string, 0, len(t.children))
	for name := range t.children {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]HierarchyNode, 0, len(names))
	for _, name := range names {
		out = append(out, HierarchyNode{
			ID:       name,
			Label:    name,
			Children: t.children[name].nodes(),
		})
	}
	return out
}

// DisplayScore maps a result's score into [0,1] for presentation. The
// rerank score wins when present. NaN becomes 0, and values outside [0,1]
// (raw cross-encoder logits) are squashed with (s+10)/20 and clamped.
func DisplayScore(r Result) float64 {
	s := r.Score
	if r.RerankScore != nil {
		s = *r.RerankScore
	}
	if math.IsNaN(s) {
		return 0
	}
	if s < 0 || s > 1 {
		s = max(0, min(1, (s+10)/20))
	}
	return s
}
