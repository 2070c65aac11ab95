package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

// MetadataTable is the position-aligned record array shared by both index
// stores. Position i is the i-th record of the build input.
type MetadataTable struct {
	records []corpus.Record
	byChunk map[string]int
	byDoc   map[string][]int
}

// NewMetadataTable indexes records by chunk and document id. The slice is
// not copied and must not be modified afterwards.
func NewMetadataTable(records []corpus.Record) *MetadataTable {
	t := &MetadataTable{
		records: records,
		byChunk: make(map[string]int, len(records)),
		byDoc:   make(map[string][]int),
	}
	for i, r := range records {
		t.byChunk[r.ChunkID] = i
		t.byDoc[r.DocID] = append(t.byDoc[r.DocID], i)
	}
	return t
}

// Len returns the number of records.
func (t *MetadataTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// At returns the record at pos. Out-of-range positions report false.
func (t *MetadataTable) At(pos int) (corpus.Record, bool) {
	if t == nil || pos < 0 || pos >= len(t.records) {
		return corpus.Record{}, false
	}
	return t.records[pos], true
}

// ByChunkID looks a record up by its durable key.
func (t *MetadataTable) ByChunkID(id string) (corpus.Record, bool) {
	if t == nil {
		return corpus.Record{}, false
	}
	pos, ok := t.byChunk[id]
	if !ok {
		return corpus.Record{}, false
	}
	return t.records[pos], true
}

// ByDocID returns every chunk of a document in chunk order.
func (t *MetadataTable) ByDocID(docID string) []corpus.Record {
	if t == nil {
		return nil
	}
	positions := t.byDoc[docID]
	out := make([]corpus.Record, 0, len(positions))
	for _, pos := range positions {
		out = append(out, t.records[pos])
	}
	return out
}

// Records returns the underlying slice. Callers must treat it as read-only.
func (t *MetadataTable) Records() []corpus.Record {
	if t == nil {
		return nil
	}
	return t.records
}

const metadataSchema = `
CREATE TABLE records (
	pos         INTEGER PRIMARY KEY,
	chunk_id    TEXT NOT NULL UNIQUE,
	doc_id      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text        TEXT NOT NULL,
	metadata    TEXT NOT NULL
);
CREATE INDEX idx_records_doc ON records(doc_id);
`

// Save writes the table to an SQLite file via temp file and rename.
func (t *MetadataTable) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := t.writeRows(db); err != nil {
		_ = db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (t *MetadataTable) writeRows(db *sql.DB) error {
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, metadataSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO records (pos, chunk_id, doc_id, chunk_index, text, metadata) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for pos, r := range t.records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode metadata for %s: %w", r.ChunkID, err)
		}
		if _, err := stmt.ExecContext(ctx, pos, r.ChunkID, r.DocID, r.ChunkIndex, r.Text, string(meta)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.ChunkID, err)
		}
	}
	return tx.Commit()
}

// LoadMetadataTable reads a table written by Save, in position order.
func LoadMetadataTable(path string) (*MetadataTable, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`SELECT pos, chunk_id, doc_id, chunk_index, text, metadata FROM records ORDER BY pos`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []corpus.Record
	for rows.Next() {
		var (
			pos  int
			r    corpus.Record
			meta string
		)
		if err := rows.Scan(&pos, &r.ChunkID, &r.DocID, &r.ChunkIndex, &r.Text, &meta); err != nil {
			return nil, err
		}
		if pos != len(records) {
			return nil, fmt.Errorf("metadata table has a gap at position %d", len(records))
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", r.ChunkID, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return NewMetadataTable(records), nil
}
