// Package chunk splits maintenance-log documents into retrievable records
// along Japanese sentence boundaries.
package chunk

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/corpus"
)

// Defaults sized for maintenance logs, which run 200-500 characters, so most
// documents become a single chunk.
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// sentenceEndings terminate a sentence. The terminator stays attached.
var sentenceEndings = map[rune]bool{'。': true, '！': true, '？': true, '\n': true}

// Options configures the chunker. Sizes are measured in characters (runes).
type Options struct {
	ChunkSize int
	Overlap   int
}

// SentenceChunker packs whole sentences into chunks of at most ChunkSize
// characters, carrying the last Overlap characters of a full chunk into the
// next one. A single sentence longer than ChunkSize becomes its own chunk.
type SentenceChunker struct {
	opts Options
}

// NewSentenceChunker creates a chunker, filling zero options with defaults.
// A negative overlap disables overlap.
func NewSentenceChunker(opts Options) *SentenceChunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Overlap == 0 {
		opts.Overlap = DefaultOverlap
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	return &SentenceChunker{opts: opts}
}

// Chunk splits one document. Documents without text produce no records.
func (c *SentenceChunker) Chunk(doc corpus.Document) []corpus.Record {
	if doc.Text == "" {
		return nil
	}
	docID := doc.DocID
	if docID == "" {
		docID = GenerateDocID(doc.Text)
	}

	var records []corpus.Record
	emit := func(text string) {
		idx := len(records)
		records = append(records, corpus.Record{
			ChunkID:    fmt.Sprintf("%s_chunk_%d", docID, idx),
			DocID:      docID,
			ChunkIndex: idx,
			Text:       strings.TrimSpace(text),
			Metadata:   doc.Metadata.Clone(),
		})
	}

	current := ""
	for _, sentence := range SplitSentences(doc.Text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		candidate := current + sentence
		if current != "" && utf8.RuneCountInString(candidate) > c.opts.ChunkSize {
			emit(current)
			current = tail(current, c.opts.Overlap) + sentence
			continue
		}
		current = candidate
	}
	if current != "" {
		emit(current)
	}

	return records
}

// ChunkAll splits every document, preserving document order.
func (c *SentenceChunker) ChunkAll(docs []corpus.Document) []corpus.Record {
	var all []corpus.Record
	for _, doc := range docs {
		all = append(all, c.Chunk(doc)...)
	}
	slog.Info("documents_chunked",
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(all)))
	return all
}

// SplitSentences splits text after each sentence terminator. Whitespace-only
// pieces are dropped.
func SplitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		if s := sb.String(); strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		sb.Reset()
	}
	for _, r := range text {
		sb.WriteRune(r)
		if sentenceEndings[r] {
			flush()
		}
	}
	flush()
	return out
}

// GenerateDocID derives a stable id from the first 100 characters of text.
func GenerateDocID(text string) string {
	sample := text
	if utf8.RuneCountInString(sample) > 100 {
		sample = string([]rune(sample)[:100])
	}
	sum := md5.Sum([]byte(sample))
	return "doc_" + hex.EncodeToString(sum[:])[:8]
}

func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
