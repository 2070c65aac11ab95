package search

import (
	"slices"
	"strconv"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

// Filters narrows results by metadata. Keys are ANDed; the values of one key
// are ORed. An empty key imposes nothing.
type Filters struct {
	Categories      []string   `json:"categories,omitempty"`
	WorkTypes       []string   `json:"workTypes,omitempty"`
	ProductionLines []string   `json:"productionLines,omitempty"`
	Locations       []string   `json:"locations,omitempty"`
	Equipment1s     []string   `json:"equipment1s,omitempty"`
	Equipment2s     []string   `json:"equipment2s,omitempty"`
	Equipment3s     []string   `json:"equipment3s,omitempty"`
	YearRange       *YearRange `json:"yearRange,omitempty"`
}

// YearRange bounds the year of the date field, inclusive on both ends.
// Zero means unbounded.
type YearRange struct {
	StartYear int `json:"startYear"`
	EndYear   int `json:"endYear"`
}

type filterClause struct {
	field  string
	values []string
}

func (f Filters) clauses() []filterClause {
	all := []filterClause{
		{corpus.FieldCategory, f.Categories},
		{corpus.FieldWorkType, f.WorkTypes},
		{corpus.FieldLine, f.ProductionLines},
		{corpus.FieldLocation, f.Locations},
		{corpus.FieldEquipment1, f.Equipment1s},
		{corpus.FieldEquipment2, f.Equipment2s},
		{corpus.FieldEquipment3, f.Equipment3s},
	}
	active := all[:0]
	for _, c := range all {
		if len(c.values) > 0 {
			active = append(active, c)
		}
	}
	return active
}

// IsEmpty reports whether no metadata key is active. YearRange is not a
// metadata key and is ignored here.
func (f Filters) IsEmpty() bool {
	return len(f.clauses()) == 0
}

// Admit reports whether rec passes every active key. A record whose field
// is missing or empty fails that key.
func (f Filters) Admit(rec corpus.Record) bool {
	for _, c := range f.clauses() {
		v, ok := rec.Metadata.Get(c.field)
		if !ok || !slices.Contains(c.values, v) {
			return false
		}
	}
	return true
}

// ApplyFilters keeps the results f admits, in their original order.
func ApplyFilters(results []Result, f Filters) []Result {
	if f.IsEmpty() {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if f.Admit(r.Record) {
			out = append(out, r)
		}
	}
	return out
}

// IsEmpty reports whether y imposes no bound.
func (y *YearRange) IsEmpty() bool {
	return y == nil || (y.StartYear == 0 && y.EndYear == 0)
}

// Admit reports whether rec's date year falls in range. Records without a
// parseable year are rejected when the range is set.
func (y *YearRange) Admit(rec corpus.Record) bool {
	if y.IsEmpty() {
		return true
	}
	year, ok := RecordYear(rec)
	if !ok {
		return false
	}
	if y.StartYear != 0 && year < y.StartYear {
		return false
	}
	if y.EndYear != 0 && year > y.EndYear {
		return false
	}
	return true
}

// ApplyYearRange keeps the results inside y, in their original order.
func ApplyYearRange(results []Result, y *YearRange) []Result {
	if y.IsEmpty() {
		return results
	}
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if y.Admit(r.Record) {
			out = append(out, r)
		}
	}
	return out
}

// RecordYear parses the first four characters of the date field.
func RecordYear(rec corpus.Record) (int, bool) {
	date := rec.Metadata.Date
	if len(date) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}
