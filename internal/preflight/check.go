package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status as its name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Prober reports whether a model service answers.
type Prober interface {
	Available(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Available implements Prober.
func (f ProberFunc) Available(ctx context.Context) bool { return f(ctx) }

// Snapshot is what the snapshot check needs from an opened index.
type Snapshot interface {
	Loaded() bool
	Problems() []string
}

// Target describes what RunAll inspects. Nil services are skipped.
type Target struct {
	IndexDir string
	Snapshot Snapshot

	EmbedderName string
	Embedder     Prober

	RerankerEnabled bool
	RerankerModel   string
	Reranker        Prober
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check that applies to t.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	results := []CheckResult{
		c.CheckDiskSpace(t.IndexDir),
		c.CheckWritePermissions(t.IndexDir),
	}

	if t.Snapshot != nil {
		results = append(results, c.CheckSnapshot(t.Snapshot))
	}
	if t.Embedder != nil {
		results = append(results, c.CheckEmbedder(ctx, t.EmbedderName, t.Embedder))
	}
	results = append(results, c.CheckReranker(ctx, t.RerankerEnabled, t.RerankerModel, t.Reranker))

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "AssistChat System Check")
	_, _ = fmt.Fprintln(c.output, "=======================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		switch {
		case r.IsCritical():
			errors = append(errors, r.Name+": "+r.Message)
		case r.Status != StatusPass:
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	printList(c.output, "error(s)", errors)
	printList(c.output, "warning(s)", warnings)
}

func printList(w io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "%d %s:\n", len(items), label)
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "  - %s\n", it)
	}
}
