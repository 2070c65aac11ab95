// Package tokenize reduces Japanese text to the lemmas the lexical index
// stores. Tokenizers never fail: when morphological analysis is unavailable
// they degrade to whitespace splitting and report it through Available.
package tokenize

import (
	"log/slog"
	"strings"
)

// Tokenizer turns text into an ordered sequence of normalized tokens.
type Tokenizer interface {
	Tokenize(text string) []string
	// Available is false when the tokenizer is running its fallback path.
	Available() bool
	Name() string
}

// New returns the morphological tokenizer, or the whitespace fallback if the
// dictionary cannot be loaded.
func New() Tokenizer {
	k, err := NewKagome()
	if err != nil {
		slog.Warn("tokenizer_fallback",
			slog.String("reason", err.Error()),
			slog.String("fallback", "whitespace"))
		return Whitespace{}
	}
	return k
}

// Whitespace splits on Unicode whitespace. It is the degraded path.
type Whitespace struct{}

// Tokenize implements Tokenizer.
func (Whitespace) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

// Available is always false: whitespace splitting is the fallback.
func (Whitespace) Available() bool { return false }

// Name implements Tokenizer.
func (Whitespace) Name() string { return "whitespace" }
