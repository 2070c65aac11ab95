package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

func testRecords() []corpus.Record {
	return []corpus.Record{
		{ChunkID: "d1_chunk_0", DocID: "d1", ChunkIndex: 0, Text: "油圧ポンプから異音",
			Metadata: corpus.Metadata{Category: "機械", Line: "L1", Location: "第1工場", Equipment1: "プレス"}},
		{ChunkID: "d1_chunk_1", DocID: "d1", ChunkIndex: 1, Text: "ベアリングを交換",
			Metadata: corpus.Metadata{Category: "機械", Line: "L1", Location: "第1工場"}},
		{ChunkID: "d2_chunk_0", DocID: "d2", ChunkIndex: 0, Text: "制御盤のランプ点検",
			Metadata: corpus.Metadata{Category: "電気", Line: "L2", Extra: map[string]any{"shift": "night"}}},
	}
}

func TestMetadataTable_Lookups(t *testing.T) {
	table := NewMetadataTable(testRecords())

	rec, ok := table.At(2)
	require.True(t, ok)
	assert.Equal(t, "d2_chunk_0", rec.ChunkID)

	_, ok = table.At(-1)
	assert.False(t, ok)
	_, ok = table.At(3)
	assert.False(t, ok)

	rec, ok = table.ByChunkID("d1_chunk_1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.ChunkIndex)

	chunks := table.ByDocID("d1")
	require.Len(t, chunks, 2)
	assert.Equal(t, "d1_chunk_0", chunks[0].ChunkID)
	assert.Empty(t, table.ByDocID("missing"))
}

func TestMetadataTable_NilIsEmpty(t *testing.T) {
	var table *MetadataTable

	assert.Equal(t, 0, table.Len())
	_, ok := table.At(0)
	assert.False(t, ok)
	assert.Nil(t, table.Records())
}

func TestMetadataTable_SaveLoadPreservesOrderAndFields(t *testing.T) {
	// Given: a saved table
	path := filepath.Join(t.TempDir(), MetadataFile)
	require.NoError(t, NewMetadataTable(testRecords()).Save(path))

	// When: loading it back
	loaded, err := LoadMetadataTable(path)
	require.NoError(t, err)

	// Then: positions, typed fields and extras survive
	require.Equal(t, 3, loaded.Len())
	for i, want := range testRecords() {
		got, _ := loaded.At(i)
		assert.Equal(t, want.ChunkID, got.ChunkID)
		assert.Equal(t, want.Text, got.Text)
		assert.Equal(t, want.Metadata.Category, got.Metadata.Category)
	}
	rec, _ := loaded.At(2)
	assert.Equal(t, "night", rec.Metadata.Extra["shift"])
}

func TestMetadataTable_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetadataFile)
	require.NoError(t, NewMetadataTable(testRecords()).Save(path))
	require.NoError(t, NewMetadataTable(testRecords()[:1]).Save(path))

	loaded, err := LoadMetadataTable(path)

	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
}

func TestLoadMetadataTable_Missing(t *testing.T) {
	_, err := LoadMetadataTable(filepath.Join(t.TempDir(), "nope.db"))
	assert.Error(t, err)
}
