package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedder_Embed_CachesRepeatedQueries(t *testing.T) {
	// Given: a cached embedder over a counting embedder
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: embedding the same query twice
	first, err := cached.Embed(ctx, "油圧ポンプ 異音")
	require.NoError(t, err)
	second, err := cached.Embed(ctx, "油圧ポンプ 異音")
	require.NoError(t, err)

	// Then: the inner embedder is called once
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), inner.embedCalls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedEmbedder_EmbedBatch_OnlySendsMisses(t *testing.T) {
	inner := newCountingEmbedder(8)
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	assert.Equal(t, []int{2}, inner.batchSizes)
	assert.Equal(t, inner.vector("bb"), vecs[1])
}

func TestCachedEmbedder_Stats(t *testing.T) {
	// Given: one single embed followed by a batch overlapping it
	cached := NewCachedEmbedder(newCountingEmbedder(8), 10)
	ctx := context.Background()
	_, err := cached.Embed(ctx, "a")
	require.NoError(t, err)

	// When
	_, err = cached.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)

	// Then
	assert.Equal(t, CacheStats{Hits: 1, Misses: 3, Size: 3}, cached.Stats())
}

func TestCachedEmbedder_EmbedBatch_Empty(t *testing.T) {
	cached := NewCachedEmbedder(newCountingEmbedder(4), 0)

	vecs, err := cached.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestCachedEmbedder_KeyIncludesModel(t *testing.T) {
	inner := newCountingEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)

	k1 := cached.cacheKey("text")
	inner.model = "other"
	k2 := cached.cacheKey("text")

	assert.NotEqual(t, k1, k2)
}

func TestCachedEmbedder_Passthrough(t *testing.T) {
	inner := newCountingEmbedder(4)
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, 4, cached.Dimensions())
	assert.Equal(t, "counting", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.NoError(t, cached.Close())
}
