package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP50   LatencyBucket = "p50"   // <50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // 500ms-1s
	BucketSlow  LatencyBucket = "slow"  // >=1s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	default:
		return BucketSlow
	}
}

// =============================================================================
// Events
// =============================================================================

// QueryEvent is a single search for telemetry recording.
type QueryEvent struct {
	Query       string
	Filters     any
	ResultCount int
	Latency     time.Duration
	Reranked    bool
	Timestamp   time.Time

	// Terms are the analyzed query terms. When empty they are derived
	// from Query with ExtractTerms.
	Terms []string
}

// Feedback is a user's judgement of one document.
type Feedback struct {
	DocID     string
	Rating    int
	Helpful   bool
	Comment   string
	Timestamp time.Time
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Summary aggregates recorded telemetry.
type Summary struct {
	Queries           int64                   `json:"queries"`
	AvgLatencyMS      float64                 `json:"avg_latency_ms"`
	ZeroResults       int64                   `json:"zero_results"`
	Reranked          int64                   `json:"reranked"`
	Feedback          int64                   `json:"feedback"`
	Helpful           int64                   `json:"helpful"`
	AvgRating         float64                 `json:"avg_rating"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	RecentZeroResults []string                `json:"recent_zero_results"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s Summary) ZeroResultPercentage() float64 {
	if s.Queries == 0 {
		return 0
	}
	return float64(s.ZeroResults) / float64(s.Queries) * 100
}

// ExtractTerms splits a query on whitespace and lowercases it, dropping
// single-rune terms. A Japanese query without spaces yields one term.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if utf8.RuneCountInString(w) >= 2 {
			terms = append(terms, w)
		}
	}
	return terms
}

// =============================================================================
// Recorder
// =============================================================================

// RecorderStats are in-process counters since the recorder was created.
type RecorderStats struct {
	Queries      int64     `json:"queries"`
	ExactRepeats int64     `json:"exact_repeats"`
	WriteErrors  int64     `json:"write_errors"`
	Since        time.Time `json:"since"`
}

// Recorder writes telemetry best-effort: failures are logged and counted,
// never returned. A nil Recorder or one without a store only counts.
type Recorder struct {
	store *Store

	mu            sync.Mutex
	recentQueries *lru.Cache[string, struct{}]
	stats         RecorderStats
}

const recentQueriesCapacity = 500

// NewRecorder wraps store, which may be nil.
func NewRecorder(store *Store) *Recorder {
	recent, _ := lru.New[string, struct{}](recentQueriesCapacity)
	return &Recorder{
		store:         store,
		recentQueries: recent,
		stats:         RecorderStats{Since: time.Now()},
	}
}

// Query records a search.
func (r *Recorder) Query(ctx context.Context, e QueryEvent) {
	if r == nil {
		return
	}

	key := hashQuery(e.Query)
	r.mu.Lock()
	r.stats.Queries++
	if _, seen := r.recentQueries.Get(key); seen {
		r.stats.ExactRepeats++
	}
	r.recentQueries.Add(key, struct{}{})
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	if err := r.store.RecordQuery(ctx, e); err != nil {
		r.writeFailed("query", err)
	}
}

// Feedback records a feedback entry.
func (r *Recorder) Feedback(ctx context.Context, f Feedback) {
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.RecordFeedback(ctx, f); err != nil {
		r.writeFailed("feedback", err)
	}
}

// Summary returns the persisted summary, or only the in-process query count
// when there is no store.
func (r *Recorder) Summary(ctx context.Context) (Summary, error) {
	if r == nil {
		return Summary{}, nil
	}
	if r.store == nil {
		stats := r.Stats()
		return Summary{Queries: stats.Queries}, nil
	}
	return r.store.Summary(ctx)
}

// Stats returns a copy of the in-process counters.
func (r *Recorder) Stats() RecorderStats {
	if r == nil {
		return RecorderStats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close closes the underlying store.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	return r.store.Close()
}

func (r *Recorder) writeFailed(kind string, err error) {
	r.mu.Lock()
	r.stats.WriteErrors++
	r.mu.Unlock()
	slog.Warn("telemetry_write_failed",
		slog.String("kind", kind),
		slog.String("error", err.Error()))
}

// hashQuery normalizes a query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}
