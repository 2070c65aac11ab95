package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

func hnswFixture() [][]float32 {
	return [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
		{1, 1, 0, 0},
	}
}

func TestHNSWIndex_FindsExactRow(t *testing.T) {
	// Given: a small graph
	idx := NewHNSWIndex(HNSWConfig{})
	require.NoError(t, idx.Build(hnswFixture()))

	// When: searching with a stored row
	got, err := idx.Search([][]float32{{0, 0, 2, 0}}, 2)
	require.NoError(t, err)

	// Then: the row is the top hit with similarity 1
	require.NotEmpty(t, got[0])
	assert.Equal(t, 2, got[0][0].Pos)
	assert.InDelta(t, 1.0, got[0][0].Score, 1e-5)
	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, 4, idx.Dimensions())
}

func TestHNSWIndex_Build_RejectsRagged(t *testing.T) {
	err := NewHNSWIndex(HNSWConfig{}).Build([][]float32{{1, 2}, {3}})
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestHNSWIndex_EmptySearch(t *testing.T) {
	got, err := NewHNSWIndex(HNSWConfig{}).Search([][]float32{{1}}, 3)
	require.NoError(t, err)
	assert.Empty(t, got[0])
}

func TestHNSWIndex_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), VectorFile)
	idx := NewHNSWIndex(HNSWConfig{M: 8, EfSearch: 32})
	require.NoError(t, idx.Build(hnswFixture()))
	require.NoError(t, idx.Save(path))

	loaded := NewHNSWIndex(HNSWConfig{})
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 5, loaded.Len())
	assert.Equal(t, 8, loaded.config.M)
	got, err := loaded.Search([][]float32{{0, 0, 0, 3}}, 1)
	require.NoError(t, err)
	require.Len(t, got[0], 1)
	assert.Equal(t, 3, got[0][0].Pos)
}

func TestHNSWIndex_LoadMissing(t *testing.T) {
	assert.Error(t, NewHNSWIndex(HNSWConfig{}).Load(filepath.Join(t.TempDir(), "nope")))
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1.0, distanceToScore(0, MetricCosine), 1e-9)
	assert.InDelta(t, 0.0, distanceToScore(1, MetricCosine), 1e-9)
	assert.InDelta(t, 0.5, distanceToScore(1, MetricL2), 1e-9)
}
