package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	built := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	want := Manifest{
		IndexType:      IndexHNSW,
		LexicalBackend: BackendSQLite,
		Metric:         MetricCosine,
		Dimensions:     768,
		Count:          120,
		Documents:      40,
		EmbeddingModel: "m",
		Tokenizer:      "kagome-ipa",
		BuiltAt:        built,
	}

	require.NoError(t, WriteManifest(dir, want))
	got, err := ReadManifest(dir)

	require.NoError(t, err)
	want.Version = ManifestVersion
	assert.Equal(t, want, got)
}

func TestReadManifest_RejectsNewerVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"version": 99}`), 0o644))

	_, err := ReadManifest(dir)

	assert.ErrorContains(t, err, "newer")
}

func TestLockIndexDir_IsExclusive(t *testing.T) {
	// Given: a held lock
	dir := t.TempDir()
	lock, err := LockIndexDir(dir)
	require.NoError(t, err)

	// When: a second builder tries the same directory
	_, err = LockIndexDir(dir)

	// Then: it is refused until the first releases
	assert.ErrorIs(t, err, ErrIndexLocked)
	require.NoError(t, lock.Unlock())
	require.NoError(t, lock.Unlock())

	again, err := LockIndexDir(dir)
	require.NoError(t, err)
	assert.NoError(t, again.Unlock())
}
