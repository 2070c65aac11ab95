package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ManifestVersion is bumped when the artifact layout changes.
const ManifestVersion = 1

// Manifest describes a snapshot triple so it can be loaded with the same
// backends it was built with.
type Manifest struct {
	Version        int            `json:"version"`
	IndexType      IndexType      `json:"index_type"`
	LexicalBackend LexicalBackend `json:"lexical_backend"`
	Metric         Metric         `json:"metric"`
	Dimensions     int            `json:"dimensions"`
	Count          int            `json:"count"`
	Documents      int            `json:"documents"`
	EmbeddingModel string         `json:"embedding_model"`
	Tokenizer      string         `json:"tokenizer"`
	BuiltAt        time.Time      `json:"built_at"`
}

// WriteManifest writes snapshot.json atomically.
func WriteManifest(dir string, m Manifest) error {
	if m.Version == 0 {
		m.Version = ManifestVersion
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadManifest reads snapshot.json from dir.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version > ManifestVersion {
		return m, fmt.Errorf("manifest version %d is newer than supported version %d", m.Version, ManifestVersion)
	}
	return m, nil
}

// DirLock is an exclusive cross-process lock on an index directory.
type DirLock struct {
	flock *flock.Flock
}

// LockIndexDir takes the build lock on dir without blocking. It returns
// ErrIndexLocked when another process holds it.
func LockIndexDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, lockFile))
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrIndexLocked
	}
	return &DirLock{flock: fl}, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *DirLock) Unlock() error {
	if l == nil || l.flock == nil || !l.flock.Locked() {
		return nil
	}
	return l.flock.Unlock()
}
