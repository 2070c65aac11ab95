package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/embed"
	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
)

func builtDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	b := newBuilder(t, BuildConfig{IndexDir: dir, Normalize: true}, nil)
	_, err := b.Build(context.Background(), buildRecords())
	require.NoError(t, err)
	return dir
}

func TestOpen_MissingDirectory(t *testing.T) {
	// Given: a directory that was never built
	dir := filepath.Join(t.TempDir(), "nothing")

	// When: opening it
	snap, err := Open(context.Background(), OpenConfig{IndexDir: dir})

	// Then: no error, but nothing is loaded and searches return nothing
	require.NoError(t, err)
	defer snap.Close()
	assert.False(t, snap.Loaded())
	assert.False(t, snap.HasManifest)
	assert.False(t, snap.Vector.Loaded())
	assert.False(t, snap.Lexical.Loaded())

	hits, err := snap.Lexical.Search([]string{"油圧"}, 5)
	assert.NoError(t, err)
	assert.Empty(t, hits)

	assert.Equal(t, []Issue{{Store: "manifest", Details: "missing"}}, snap.Check())
}

func TestOpen_MissingVectorArtifact(t *testing.T) {
	// Given: a built snapshot whose vector file was removed
	dir := builtDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, store.VectorFile)))

	// When: opening
	snap, err := Open(context.Background(), OpenConfig{IndexDir: dir})

	// Then: the lexical side still works
	require.NoError(t, err)
	defer snap.Close()
	assert.True(t, snap.Loaded())
	assert.False(t, snap.Vector.Loaded())
	assert.True(t, snap.Lexical.Loaded())
	assert.Contains(t, snap.Check(), Issue{Store: "vector", Details: "not loaded"})

	hits, err := snap.Lexical.Search([]string{"油圧"}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestOpen_MissingMetadataLeavesEverythingUnloaded(t *testing.T) {
	dir := builtDir(t)
	require.NoError(t, os.Remove(filepath.Join(dir, store.MetadataFile)))

	snap, err := Open(context.Background(), OpenConfig{IndexDir: dir})

	require.NoError(t, err)
	defer snap.Close()
	assert.True(t, snap.HasManifest)
	assert.False(t, snap.Loaded())
	assert.False(t, snap.Vector.Loaded())
	assert.False(t, snap.Lexical.Loaded())
}

func TestOpen_NewerManifestRejected(t *testing.T) {
	dir := builtDir(t)
	m, err := store.ReadManifest(dir)
	require.NoError(t, err)
	m.Version = store.ManifestVersion + 1
	require.NoError(t, store.WriteManifest(dir, m))

	_, err = Open(context.Background(), OpenConfig{IndexDir: dir})

	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeIndexCorrupt, apperrors.GetCode(err))
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, OpenConfig{IndexDir: t.TempDir()})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshot_Sizes(t *testing.T) {
	dir := builtDir(t)
	snap, err := Open(context.Background(), OpenConfig{IndexDir: dir})
	require.NoError(t, err)
	defer snap.Close()

	vector, lexical, metadata := snap.Sizes()

	assert.Positive(t, vector)
	assert.Positive(t, lexical)
	assert.Positive(t, metadata)
}

func TestSnapshot_CheckEmbedder(t *testing.T) {
	dir := builtDir(t)
	snap, err := Open(context.Background(), OpenConfig{IndexDir: dir})
	require.NoError(t, err)
	defer snap.Close()

	assert.NoError(t, snap.CheckEmbedder(embed.NewStaticEmbedder(32)))

	err = snap.CheckEmbedder(embed.NewStaticEmbedder(64))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, apperrors.GetCode(err))

	assert.NoError(t, snap.CheckEmbedder(nil))
}

func TestSnapshot_NilSafe(t *testing.T) {
	var snap *Snapshot

	assert.False(t, snap.Loaded())
	assert.NoError(t, snap.Close())
}
