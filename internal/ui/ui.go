// Package ui renders index build progress and snapshot status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is one step of the index build pipeline.
type Stage int

const (
	// StageLoading reads the chunk file.
	StageLoading Stage = iota
	// StageTokenizing turns chunk text into lemma lists.
	StageTokenizing
	// StageEmbedding computes dense vectors.
	StageEmbedding
	// StageIndexing builds the vector, lexical and metadata stores.
	StageIndexing
	// StageSaving writes the snapshot to disk.
	StageSaving
	// StageComplete marks the end of the build.
	StageComplete
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageLoading:
		return "Loading"
	case StageTokenizing:
		return "Tokenizing"
	case StageEmbedding:
		return "Embedding"
	case StageIndexing:
		return "Indexing"
	case StageSaving:
		return "Saving"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the tag used by the plain renderer.
func (s Stage) Icon() string {
	switch s {
	case StageLoading:
		return "LOAD"
	case StageTokenizing:
		return "TOKEN"
	case StageEmbedding:
		return "EMBED"
	case StageIndexing:
		return "INDEX"
	case StageSaving:
		return "SAVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent reports progress within a stage. Current and Total count chunks.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Item    string
	Message string
}

// ErrorEvent reports a problem with one chunk or with the build as a whole.
type ErrorEvent struct {
	Item   string
	Err    error
	IsWarn bool
}

// StageTimings records how long each build stage took.
type StageTimings struct {
	Load     time.Duration
	Tokenize time.Duration
	Embed    time.Duration
	Index    time.Duration
	Save     time.Duration
}

// EmbedderInfo describes the embedding backend used for the build.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarises a finished build.
type CompletionStats struct {
	Chunks         int
	Documents      int
	IndexDir       string
	IndexType      string
	LexicalBackend string
	Tokenizer      string
	Duration       time.Duration
	Errors         int
	Warnings       int
	Stages         StageTimings
	Embedder       EmbedderInfo
}

// Renderer displays build progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the text shown next to the TUI header, usually the index directory.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns the TUI renderer for interactive terminals and the
// plain renderer for pipes, CI, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// NopRenderer discards all events.
type NopRenderer struct{}

func (NopRenderer) Start(context.Context) error  { return nil }
func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
func (NopRenderer) Stop() error                  { return nil }

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether the process runs under a CI system.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

var (
	_ Renderer = NopRenderer{}
	_ Renderer = (*PlainRenderer)(nil)
)
