package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteBM25 ranks lemmas with SQLite FTS5's bm25(). Builds happen in an
// in-memory database; Save copies it to disk with VACUUM INTO.
type SQLiteBM25 struct {
	mu    sync.RWMutex
	db    *sql.DB
	count int
}

var _ LexicalIndex = (*SQLiteBM25)(nil)

// NewSQLiteBM25 creates an empty FTS5-backed index.
func NewSQLiteBM25() *SQLiteBM25 {
	return &SQLiteBM25{}
}

const ftsSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
	pos UNINDEXED,
	content,
	tokenize='unicode61'
);
INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: an in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// Build loads corpus into a fresh in-memory FTS5 table.
func (s *SQLiteBM25) Build(corpus [][]string) error {
	db, err := openSQLite(":memory:")
	if err != nil {
		return err
	}
	if _, err := db.Exec(ftsSchema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fts_content (pos, content) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		_ = db.Close()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	for pos, tokens := range corpus {
		if _, err := stmt.ExecContext(ctx, pos, strings.Join(tokens, " ")); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			_ = db.Close()
			return fmt.Errorf("failed to insert document %d: %w", pos, err)
		}
	}
	_ = stmt.Close()
	if err := tx.Commit(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		_ = s.db.Close()
	}
	s.db = db
	s.count = len(corpus)
	return nil
}

// buildMatchQuery ORs every token as a quoted FTS5 string.
func buildMatchQuery(tokens []string) string {
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts = append(parts, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(parts, " OR ")
}

// Search ranks by -bm25() so that higher is better.
func (s *SQLiteBM25) Search(tokens []string, k int) ([]Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := buildMatchQuery(tokens)
	if s.db == nil || k <= 0 || match == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT pos, -bm25(fts_content) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score DESC, pos ASC
		LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("fts5 search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.Pos, &n.Score); err != nil {
			return nil, err
		}
		if n.Score > 0 {
			hits = append(hits, n)
		}
	}
	return hits, rows.Err()
}

// Len returns the number of documents.
func (s *SQLiteBM25) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Save copies the in-memory database to path.
func (s *SQLiteBM25) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return fmt.Errorf("index not built")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if _, err := s.db.Exec(`VACUUM INTO ?`, tmp); err != nil {
		return fmt.Errorf("vacuum into %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// Load opens a database written by Save read-only.
func (s *SQLiteBM25) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if err := validateSQLiteIntegrity(path); err != nil {
		return err
	}

	db, err := openSQLite("file:" + path + "?mode=ro")
	if err != nil {
		return err
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM fts_content`).Scan(&count); err != nil {
		_ = db.Close()
		return fmt.Errorf("count documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		_ = s.db.Close()
	}
	s.db = db
	s.count = count
	return nil
}

// validateSQLiteIntegrity runs PRAGMA integrity_check and confirms the FTS table exists.
func validateSQLiteIntegrity(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

// Close closes the database.
func (s *SQLiteBM25) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
