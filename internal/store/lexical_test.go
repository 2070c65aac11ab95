package store

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexicalCorpus() [][]string {
	return [][]string{
		{"油圧", "ポンプ", "異音"},
		{"コンベア", "ベルト", "交換"},
		{"油圧", "ホース", "漏れ", "交換"},
		{"制御盤", "ランプ", "点検"},
	}
}

// =============================================================================
// Okapi BM25
// =============================================================================

func TestOkapiBM25_MatchesReferenceScores(t *testing.T) {
	// Given: three documents where "b" appears in two of them
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build([][]string{{"a", "b"}, {"b", "c"}, {"c", "d"}}))

	// When: scoring single-term queries
	scoresA := idx.Scores([]string{"a"})
	scoresB := idx.Scores([]string{"b"})

	// Then: "a" has idf ln(2.5/1.5) and "b" takes the epsilon floor of a zero mean
	assert.InDelta(t, math.Log(2.5/1.5), scoresA[0], 1e-9)
	assert.Equal(t, 0.0, scoresA[1])
	assert.Equal(t, []float64{0, 0, 0}, scoresB)
}

func TestOkapiBM25_RepeatedQueryTermsCountEachTime(t *testing.T) {
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build([][]string{{"a", "b"}, {"b", "c"}, {"c", "d"}}))

	once := idx.Scores([]string{"a"})[0]
	twice := idx.Scores([]string{"a", "a"})[0]

	assert.InDelta(t, 2*once, twice, 1e-12)
}

func TestOkapiBM25_Search_ExcludesZeroOverlap(t *testing.T) {
	// Given: a corpus and a query sharing terms with two documents
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build(lexicalCorpus()))

	// When: asking for more results than match
	hits, err := idx.Search([]string{"漏れ", "異音"}, 10)
	require.NoError(t, err)

	// Then: only overlapping documents come back, the shorter one first
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Pos)
	assert.Equal(t, 2, hits[1].Pos)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestOkapiBM25_TermInHalfTheCorpusScoresZero(t *testing.T) {
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build(lexicalCorpus()))

	hits, err := idx.Search([]string{"油圧"}, 10)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOkapiBM25_Search_NoOverlapIsEmpty(t *testing.T) {
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build(lexicalCorpus()))

	hits, err := idx.Search([]string{"存在しない"}, 10)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOkapiBM25_Search_RespectsK(t *testing.T) {
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build(lexicalCorpus()))

	hits, err := idx.Search([]string{"異音", "ベルト"}, 1)

	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestOkapiBM25_EmptyDocuments(t *testing.T) {
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build([][]string{{}, {}}))

	hits, err := idx.Search([]string{"x"}, 3)

	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOkapiBM25_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), LexicalFile)
	idx := NewOkapiBM25()
	require.NoError(t, idx.Build(lexicalCorpus()))
	require.NoError(t, idx.Save(path))

	loaded := NewOkapiBM25()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, idx.Scores([]string{"油圧"}), loaded.Scores([]string{"油圧"}))
}

// =============================================================================
// Alternative backends
// =============================================================================

func TestLexicalBackends_RankOverlappingDocuments(t *testing.T) {
	for _, backend := range []LexicalBackend{BackendMemory, BackendBleve, BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			// Given: the corpus indexed by the backend
			idx := NewLexicalIndex(backend)
			defer func() { _ = idx.Close() }()
			require.NoError(t, idx.Build(lexicalCorpus()))

			// When: searching for a term in one document
			hits, err := idx.Search([]string{"ベルト"}, 5)
			require.NoError(t, err)

			// Then: only that document is returned
			require.Len(t, hits, 1)
			assert.Equal(t, 1, hits[0].Pos)
			assert.Greater(t, hits[0].Score, 0.0)

			none, err := idx.Search([]string{"存在しない"}, 5)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestLexicalBackends_SaveLoadRoundTrip(t *testing.T) {
	for _, backend := range []LexicalBackend{BackendBleve, BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), LexicalFile)
			idx := NewLexicalIndex(backend)
			require.NoError(t, idx.Build(lexicalCorpus()))
			require.NoError(t, idx.Save(path))
			require.NoError(t, idx.Close())

			loaded := NewLexicalIndex(backend)
			defer func() { _ = loaded.Close() }()
			require.NoError(t, loaded.Load(path))

			assert.Equal(t, 4, loaded.Len())
			hits, err := loaded.Search([]string{"制御盤"}, 5)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, 3, hits[0].Pos)
		})
	}
}

func TestBuildMatchQuery(t *testing.T) {
	assert.Equal(t, `"a" OR "b""c"`, buildMatchQuery([]string{"a", " ", `b"c`}))
	assert.Equal(t, "", buildMatchQuery(nil))
}

func TestParseLexicalBackend(t *testing.T) {
	b, err := ParseLexicalBackend("SQLite")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, b)

	b, err = ParseLexicalBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, b)

	_, err = ParseLexicalBackend("lucene")
	assert.Error(t, err)
}

func TestParseIndexType(t *testing.T) {
	it, err := ParseIndexType("hnsw")
	require.NoError(t, err)
	assert.Equal(t, IndexHNSW, it)

	_, err = ParseIndexType("ivf")
	assert.Error(t, err)
}
