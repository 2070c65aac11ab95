package search

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

func result(id string, meta corpus.Metadata) Result {
	return Result{Record: corpus.Record{ChunkID: id, DocID: id, Text: "本文 " + id, Metadata: meta}}
}

func ids(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID()
	}
	return out
}

func filterFixture() []Result {
	return []Result{
		result("r1", corpus.Metadata{Category: "電気", Line: "A", Location: "第1工場"}),
		result("r2", corpus.Metadata{Category: "機械", Line: "B", Location: "第1工場"}),
		result("r3", corpus.Metadata{Category: "電気", Line: "B", Location: "第2工場"}),
		result("r4", corpus.Metadata{Line: "A"}),
		result("r5", corpus.Metadata{Category: "油圧", Line: "C", Equipment1: "プレス"}),
	}
}

// =============================================================================
// Filters
// =============================================================================

func TestApplyFilters_EmptyAdmitsAllInOrder(t *testing.T) {
	// Given: no active keys
	in := filterFixture()

	// When: applying no filters
	out := ApplyFilters(in, Filters{})

	// Then: everything passes unchanged
	assert.Equal(t, in, out)
	assert.True(t, Filters{Categories: []string{}}.IsEmpty())
}

func TestApplyFilters_ORWithinKey(t *testing.T) {
	out := ApplyFilters(filterFixture(), Filters{Categories: []string{"電気", "油圧"}})
	assert.Equal(t, []string{"r1", "r3", "r5"}, ids(out))
}

func TestApplyFilters_ANDAcrossKeys(t *testing.T) {
	// Given: category and line both active
	f := Filters{Categories: []string{"電気"}, ProductionLines: []string{"B"}}

	// When: filtering
	out := ApplyFilters(filterFixture(), f)

	// Then: only records matching both survive
	assert.Equal(t, []string{"r3"}, ids(out))
}

func TestApplyFilters_MissingFieldRejects(t *testing.T) {
	// Given: r4 has no category
	f := Filters{Categories: []string{"電気", "機械", "油圧"}}

	// When: filtering on category
	out := ApplyFilters(filterFixture(), f)

	// Then: r4 is dropped
	assert.NotContains(t, ids(out), "r4")
	assert.Len(t, out, 4)
}

func TestFilters_KeyMapping(t *testing.T) {
	rec := corpus.Record{Metadata: corpus.Metadata{
		Category: "c", WorkType: "w", Line: "l", Location: "loc",
		Equipment1: "e1", Equipment2: "e2", Equipment3: "e3",
	}}

	tests := []struct {
		name string
		f    Filters
	}{
		{"categories", Filters{Categories: []string{"c"}}},
		{"workTypes", Filters{WorkTypes: []string{"w"}}},
		{"productionLines", Filters{ProductionLines: []string{"l"}}},
		{"locations", Filters{Locations: []string{"loc"}}},
		{"equipment1s", Filters{Equipment1s: []string{"e1"}}},
		{"equipment2s", Filters{Equipment2s: []string{"e2"}}},
		{"equipment3s", Filters{Equipment3s: []string{"e3"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.f.Admit(rec))
		})
	}

	assert.False(t, Filters{WorkTypes: []string{"other"}}.Admit(rec))
}

func TestApplyFilters_Conjunction_Exhaustive(t *testing.T) {
	// Given: every combination of two small allowed-sets
	in := filterFixture()
	cats := [][]string{nil, {"電気"}, {"機械", "油圧"}}
	lines := [][]string{nil, {"A"}, {"B", "C"}}

	for _, c := range cats {
		for _, l := range lines {
			f := Filters{Categories: c, ProductionLines: l}

			// When: filtering
			out := ApplyFilters(in, f)

			// Then: a record passes iff each active key contains its value
			var want []string
			for _, r := range in {
				ok := true
				if len(c) > 0 && !containsString(c, r.Record.Metadata.Category) {
					ok = false
				}
				if len(l) > 0 && !containsString(l, r.Record.Metadata.Line) {
					ok = false
				}
				if ok {
					want = append(want, r.ChunkID())
				}
			}
			assert.Equal(t, len(want), len(out), "cats=%v lines=%v", c, l)
			if len(want) > 0 {
				assert.Equal(t, want, ids(out), "cats=%v lines=%v", c, l)
			}
		}
	}
}

func containsString(values []string, v string) bool {
	if v == "" {
		return false
	}
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func TestFilters_JSONKeys(t *testing.T) {
	// Given: the request shape used by the web client
	body := `{"categories":["電気"],"productionLines":["A"],"equipment2s":["モータ"],"yearRange":{"startYear":2021,"endYear":2023}}`

	// When: decoding
	var f Filters
	require.NoError(t, json.Unmarshal([]byte(body), &f))

	// Then: each key lands on its field
	assert.Equal(t, []string{"電気"}, f.Categories)
	assert.Equal(t, []string{"A"}, f.ProductionLines)
	assert.Equal(t, []string{"モータ"}, f.Equipment2s)
	require.NotNil(t, f.YearRange)
	assert.Equal(t, 2021, f.YearRange.StartYear)
	assert.Equal(t, 2023, f.YearRange.EndYear)
	assert.False(t, f.IsEmpty())
}

// =============================================================================
// Year range
// =============================================================================

func TestApplyYearRange(t *testing.T) {
	in := []Result{
		result("old", corpus.Metadata{Date: "2019-05-01"}),
		result("mid", corpus.Metadata{Date: "2021-01-10"}),
		result("new", corpus.Metadata{Date: "2024-12-31"}),
		result("none", corpus.Metadata{}),
		result("bad", corpus.Metadata{Date: "令和3年"}),
	}

	t.Run("nil range passes all", func(t *testing.T) {
		assert.Equal(t, in, ApplyYearRange(in, nil))
	})

	t.Run("bounded range rejects unparseable", func(t *testing.T) {
		out := ApplyYearRange(in, &YearRange{StartYear: 2020, EndYear: 2024})
		assert.Equal(t, []string{"mid", "new"}, ids(out))
	})

	t.Run("open end", func(t *testing.T) {
		out := ApplyYearRange(in, &YearRange{StartYear: 2021})
		assert.Equal(t, []string{"mid", "new"}, ids(out))
	})
}
