// Package eval measures retrieval quality against a labelled query set.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
)

// Depth is how many results per query are scored.
const Depth = 10

// Method selects the pipeline being evaluated.
type Method string

const (
	// MethodHybrid is RRF fusion without the cross-encoder.
	MethodHybrid Method = "hybrid"
	// MethodRerank is the full pipeline.
	MethodRerank Method = "rerank"
)

// ParseMethods parses "all" or a comma-separated list of methods.
func ParseMethods(s string) ([]Method, error) {
	if s == "" || s == "all" {
		return []Method{MethodHybrid, MethodRerank}, nil
	}
	var methods []Method
	for _, part := range strings.Split(s, ",") {
		switch m := Method(strings.TrimSpace(part)); m {
		case MethodHybrid, MethodRerank:
			methods = append(methods, m)
		default:
			return nil, fmt.Errorf("unknown method %q (want hybrid, rerank or all)", part)
		}
	}
	return methods, nil
}

// Query is one labelled query.
type Query struct {
	ID           string   `json:"id,omitempty"`
	Query        string   `json:"query"`
	RelevantDocs []string `json:"relevant_docs"`
}

// LoadQueries reads a query file of the form {"queries": [...]}.
func LoadQueries(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read queries: %w", err)
	}
	var file struct {
		Queries []Query `json:"queries"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i, q := range file.Queries {
		if strings.TrimSpace(q.Query) == "" {
			return nil, fmt.Errorf("query %d in %s is empty", i, path)
		}
	}
	return file.Queries, nil
}

// Result holds the metrics for one method. Recall@K is the share of queries
// with at least one relevant document in the top K.
type Result struct {
	Method       Method  `json:"method"`
	MRR          float64 `json:"mrr"`
	RecallAt1    float64 `json:"recall_at_1"`
	RecallAt3    float64 `json:"recall_at_3"`
	RecallAt5    float64 `json:"recall_at_5"`
	PrecisionAt5 float64 `json:"precision_at_5"`
	NumQueries   int     `json:"num_queries"`
}

// Searcher is the part of the engine evaluation needs.
type Searcher interface {
	SearchWithOptions(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// Run evaluates one method. Queries run concurrently, at most workers at a
// time.
func Run(ctx context.Context, s Searcher, queries []Query, method Method, workers int) (Result, error) {
	if workers < 1 {
		workers = 1
	}
	rankings := make([][]string, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, q := range queries {
		g.Go(func() error {
			results, err := s.SearchWithOptions(gctx, q.Query, search.Options{
				Limit:    Depth,
				NoRerank: method == MethodHybrid,
			})
			if err != nil {
				return fmt.Errorf("query %q: %w", q.Query, err)
			}
			rankings[i] = docIDs(results)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Score(queries, rankings)
	res.Method = method
	return res, nil
}

// Score computes the metrics from the ranked doc ids returned per query.
// rankings[i] belongs to queries[i].
func Score(queries []Query, rankings [][]string) Result {
	res := Result{NumQueries: len(queries)}
	if len(queries) == 0 {
		return res
	}

	var mrr, r1, r3, r5, p5 float64
	for i, q := range queries {
		relevant := make(map[string]struct{}, len(q.RelevantDocs))
		for _, d := range q.RelevantDocs {
			relevant[d] = struct{}{}
		}
		var ranked []string
		if i < len(rankings) {
			ranked = rankings[i]
		}
		if len(ranked) > Depth {
			ranked = ranked[:Depth]
		}

		if rank := firstRelevant(ranked, relevant); rank > 0 {
			mrr += 1 / float64(rank)
			if rank <= 1 {
				r1++
			}
			if rank <= 3 {
				r3++
			}
			if rank <= 5 {
				r5++
			}
		}
		p5 += float64(countRelevant(ranked, relevant, 5)) / 5
	}

	n := float64(len(queries))
	res.MRR = mrr / n
	res.RecallAt1 = r1 / n
	res.RecallAt3 = r3 / n
	res.RecallAt5 = r5 / n
	res.PrecisionAt5 = p5 / n
	return res
}

// Improvement is the MRR gain of the best method over the first, in percent.
// It is zero when the baseline MRR is zero.
func Improvement(results []Result) float64 {
	if len(results) < 2 || results[0].MRR == 0 {
		return 0
	}
	best := results[0].MRR
	for _, r := range results[1:] {
		best = max(best, r.MRR)
	}
	return (best - results[0].MRR) / results[0].MRR * 100
}

// WriteTable prints results as a fixed-width table.
func WriteTable(w io.Writer, results []Result) error {
	var sb strings.Builder
	rule := strings.Repeat("-", 70)

	fmt.Fprintf(&sb, "%-20s %9s %9s %9s %9s %9s\n", "Method", "MRR", "R@1", "R@3", "R@5", "P@5")
	sb.WriteString(rule + "\n")
	for _, r := range results {
		fmt.Fprintf(&sb, "%-20s %9.3f %9.3f %9.3f %9.3f %9.3f\n",
			r.Method, r.MRR, r.RecallAt1, r.RecallAt3, r.RecallAt5, r.PrecisionAt5)
	}
	sb.WriteString(rule + "\n")
	if len(results) > 0 {
		fmt.Fprintf(&sb, "Queries: %d\n", results[0].NumQueries)
	}
	if len(results) >= 2 {
		fmt.Fprintf(&sb, "MRR improvement (baseline -> best): %+.1f%%\n", Improvement(results))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func docIDs(results []search.Result) []string {
	ids := make([]string, 0, min(len(results), Depth))
	for _, r := range results {
		if len(ids) == Depth {
			break
		}
		ids = append(ids, r.Record.DocID)
	}
	return ids
}

// firstRelevant returns the 1-based rank of the first relevant id, or 0.
func firstRelevant(ranked []string, relevant map[string]struct{}) int {
	for i, id := range ranked {
		if _, ok := relevant[id]; ok {
			return i + 1
		}
	}
	return 0
}

func countRelevant(ranked []string, relevant map[string]struct{}, k int) int {
	n := 0
	for _, id := range ranked[:min(k, len(ranked))] {
		if _, ok := relevant[id]; ok {
			n++
		}
	}
	return n
}
