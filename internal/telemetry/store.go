// Package telemetry records search queries and user feedback in a local
// SQLite file. Nothing is reported externally.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS queries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	query TEXT NOT NULL,
	filters TEXT NOT NULL DEFAULT '',
	results INTEGER NOT NULL,
	latency_ms REAL NOT NULL,
	reranked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queries_ts ON queries(ts);

CREATE TABLE IF NOT EXISTS feedback (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts INTEGER NOT NULL,
	doc_id TEXT NOT NULL,
	rating INTEGER NOT NULL DEFAULT 0,
	helpful INTEGER NOT NULL DEFAULT 0,
	comment TEXT NOT NULL DEFAULT ''
);

-- Term frequency across all queries
CREATE TABLE IF NOT EXISTS query_terms (
	term TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 1,
	last_seen INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

-- Daily latency histogram
CREATE TABLE IF NOT EXISTS query_latency_stats (
	date TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
`

const (
	topTermsLimit   = 10
	zeroResultLimit = 10
)

// Store persists telemetry to SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the telemetry database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("telemetry database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// RecordQuery stores one query together with its latency bucket and terms.
func (s *Store) RecordQuery(ctx context.Context, e QueryEvent) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	filters, err := encodeFilters(e.Filters)
	if err != nil {
		return err
	}
	terms := e.Terms
	if len(terms) == 0 {
		terms = ExtractTerms(e.Query)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queries (ts, query, filters, results, latency_ms, reranked)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ts.UnixMilli(), e.Query, filters, e.ResultCount, float64(e.Latency.Microseconds())/1000, e.Reranked); err != nil {
		return fmt.Errorf("insert query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, 1)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + 1
	`, ts.UTC().Format(time.DateOnly), string(LatencyToBucket(e.Latency))); err != nil {
		return fmt.Errorf("insert latency count: %w", err)
	}

	if len(terms) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen)
			VALUES (?, 1, ?)
			ON CONFLICT(term) DO UPDATE SET
				count = count + 1,
				last_seen = excluded.last_seen
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, term := range dedupe(terms) {
			if _, err := stmt.ExecContext(ctx, term, ts.UnixMilli()); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RecordFeedback stores one feedback entry.
func (s *Store) RecordFeedback(ctx context.Context, f Feedback) error {
	if f.DocID == "" {
		return fmt.Errorf("feedback requires a doc_id")
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (ts, doc_id, rating, helpful, comment)
		VALUES (?, ?, ?, ?, ?)
	`, ts.UnixMilli(), f.DocID, f.Rating, f.Helpful, f.Comment)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// Summary aggregates everything recorded so far.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	sum := Summary{Latency: make(map[LatencyBucket]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(AVG(latency_ms), 0),
			COALESCE(SUM(CASE WHEN results = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(reranked), 0)
		FROM queries
	`).Scan(&sum.Queries, &sum.AvgLatencyMS, &sum.ZeroResults, &sum.Reranked)
	if err != nil {
		return Summary{}, fmt.Errorf("query totals: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(helpful), 0),
			COALESCE(AVG(NULLIF(rating, 0)), 0)
		FROM feedback
	`).Scan(&sum.Feedback, &sum.Helpful, &sum.AvgRating)
	if err != nil {
		return Summary{}, fmt.Errorf("feedback totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, SUM(count)
		FROM query_latency_stats
		GROUP BY bucket
	`)
	if err != nil {
		return Summary{}, fmt.Errorf("query latency counts: %w", err)
	}
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			_ = rows.Close()
			return Summary{}, fmt.Errorf("scan row: %w", err)
		}
		sum.Latency[LatencyBucket(bucket)] = count
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	if sum.TopTerms, err = s.topTerms(ctx, topTermsLimit); err != nil {
		return Summary{}, err
	}
	if sum.RecentZeroResults, err = s.zeroResultQueries(ctx, zeroResultLimit); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (s *Store) topTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// zeroResultQueries returns the most recent queries that found nothing, newest first.
func (s *Store) zeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query
		FROM queries
		WHERE results = 0
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeFilters(filters any) (string, error) {
	if filters == nil {
		return "", nil
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return "", fmt.Errorf("encode filters: %w", err)
	}
	if string(data) == "null" || string(data) == "{}" {
		return "", nil
	}
	return string(data), nil
}

func dedupe(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
