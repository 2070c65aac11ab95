package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event. Used for CI and pipes.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	last   int
	errors int
	warns  int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	out := cfg.Output
	if out == nil {
		out = io.Discard
	}
	return &PlainRenderer{out: out, stage: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Within a stage only every tenth of
// progress is printed so large corpora do not flood the log.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	newStage := event.Stage != r.stage
	r.stage = event.Stage

	msg := event.Message
	if msg == "" {
		msg = event.Item
	}

	if event.Total <= 0 {
		if msg != "" {
			_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
		}
		return
	}

	step := event.Total / 10
	if step < 1 {
		step = 1
	}
	if !newStage && event.Current != event.Total && event.Current-r.last < step {
		return
	}
	r.last = event.Current

	if msg == "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d\n", event.Stage.Icon(), event.Current, event.Total)
		return
	}
	_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}

	if event.Item != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Item, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d chunks from %d documents indexed in %s",
		stats.Chunks, stats.Documents, round(stats.Duration))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.IndexDir != "" {
		_, _ = fmt.Fprintf(r.out, "Snapshot: %s (%s + %s)\n", stats.IndexDir, stats.IndexType, stats.LexicalBackend)
	}

	st := stats.Stages
	if st.Embed > 0 || st.Index > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Load:     %s\n", round(st.Load))
		_, _ = fmt.Fprintf(r.out, "  Tokenize: %s (%s)\n", round(st.Tokenize), orDash(stats.Tokenizer))
		if st.Embed > 0 && stats.Chunks > 0 {
			_, _ = fmt.Fprintf(r.out, "  Embed:    %s (%d chunks @ %.1f/sec)\n",
				round(st.Embed), stats.Chunks, float64(stats.Chunks)/st.Embed.Seconds())
		} else {
			_, _ = fmt.Fprintf(r.out, "  Embed:    %s\n", round(st.Embed))
		}
		_, _ = fmt.Fprintf(r.out, "  Index:    %s\n", round(st.Index))
		_, _ = fmt.Fprintf(r.out, "  Save:     %s\n", round(st.Save))
	}

	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func round(d time.Duration) time.Duration {
	return d.Round(100 * time.Millisecond)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
