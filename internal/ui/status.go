package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StatusInfo describes a snapshot on disk plus usage counters.
type StatusInfo struct {
	IndexDir       string    `json:"index_dir"`
	Loaded         bool      `json:"loaded"`
	Chunks         int       `json:"chunks"`
	Documents      int       `json:"documents"`
	IndexType      string    `json:"index_type,omitempty"`
	LexicalBackend string    `json:"lexical_backend,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	Dimensions     int       `json:"dimensions,omitempty"`
	Tokenizer      string    `json:"tokenizer,omitempty"`
	BuiltAt        time.Time `json:"built_at,omitzero"`

	VectorSize   int64 `json:"vector_size"`
	LexicalSize  int64 `json:"lexical_size"`
	MetadataSize int64 `json:"metadata_size"`

	RerankerModel  string `json:"reranker_model,omitempty"`
	RerankerStatus string `json:"reranker_status,omitempty"` // ready, offline, disabled

	Queries      int     `json:"queries"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	Feedback     int     `json:"feedback"`
	Helpful      int     `json:"helpful"`
}

// TotalSize is the combined size of the snapshot artifacts.
func (s StatusInfo) TotalSize() int64 {
	return s.VectorSize + s.LexicalSize + s.MetadataSize
}

// StatusRenderer prints StatusInfo for the stats command.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes a human readable report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := &errWriter{w: r.out}

	w.printf("%s\n\n", r.styles.Header.Render("Index: "+info.IndexDir))
	if !info.Loaded {
		w.printf("  %s\n", r.styles.Warning.Render("no snapshot found; run `assistchat build`"))
	} else {
		w.printf("  Chunks:     %d\n", info.Chunks)
		w.printf("  Documents:  %d\n", info.Documents)
		w.printf("  Vector:     %s\n", orDash(info.IndexType))
		w.printf("  Lexical:    %s (%s)\n", orDash(info.LexicalBackend), orDash(info.Tokenizer))
		w.printf("  Embeddings: %s (%d dims)\n", orDash(info.EmbeddingModel), info.Dimensions)
		if !info.BuiltAt.IsZero() {
			w.printf("  Built:      %s\n", formatAge(info.BuiltAt, time.Now()))
		}
		w.printf("\n  Storage:\n")
		w.printf("    Vectors:  %s\n", FormatBytes(info.VectorSize))
		w.printf("    Lexical:  %s\n", FormatBytes(info.LexicalSize))
		w.printf("    Metadata: %s\n", FormatBytes(info.MetadataSize))
		w.printf("    Total:    %s\n", FormatBytes(info.TotalSize()))
	}

	if info.RerankerStatus != "" {
		w.printf("\n  Reranker:   %s %s\n", r.renderStatus(info.RerankerStatus), info.RerankerModel)
	}

	w.printf("\n  Queries:    %d (avg %.1f ms)\n", info.Queries, info.AvgLatencyMS)
	w.printf("  Feedback:   %d (%d helpful)\n", info.Feedback, info.Helpful)
	return w.err
}

// RenderJSON writes info as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return r.styles.Dim.Render(status)
	}
}

// errWriter keeps the first write error so Render can report it once.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// formatAge renders t relative to now for recent times and as a date otherwise.
func formatAge(t, now time.Time) string {
	diff := now.Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 2; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}
