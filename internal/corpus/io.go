package corpus

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// Source column names.
const (
	TextField  = "text"
	DocIDField = "doc_id"
)

// maxLineBytes bounds a single JSONL line.
const maxLineBytes = 16 * 1024 * 1024

// ReadDocuments loads raw source rows from a .csv or .jsonl file. The text
// column becomes the body, doc_id the document id, and every other column
// becomes metadata.
func ReadDocuments(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open documents: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(f)
	case ".jsonl", ".ndjson":
		return readJSONLDocuments(f)
	default:
		return nil, apperrors.ErrInvalidInput(
			fmt.Sprintf("unsupported document file %q (want .csv or .jsonl)", path), nil)
	}
}

func readCSV(r io.Reader) ([]Document, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var docs []Document
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		fields := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) && row[i] != "" {
				fields[name] = row[i]
			}
		}
		docs = append(docs, documentFromFields(fields))
	}
	return docs, nil
}

func readJSONLDocuments(r io.Reader) ([]Document, error) {
	var docs []Document
	err := scanLines(r, func(line int, data []byte) error {
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return apperrors.ErrInvalidInput(fmt.Sprintf("line %d: invalid JSON", line), err)
		}
		docs = append(docs, documentFromFields(fields))
		return nil
	})
	return docs, err
}

func documentFromFields(fields map[string]any) Document {
	var doc Document
	for k, v := range fields {
		switch k {
		case TextField:
			doc.Text, _ = stringify(v)
		case DocIDField:
			doc.DocID, _ = stringify(v)
		default:
			if v != nil {
				doc.Metadata.Set(k, v)
			}
		}
	}
	return doc
}

// ReadRecords loads chunk records from a JSONL file.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	err = scanLines(f, func(line int, data []byte) error {
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return apperrors.ErrInvalidInput(fmt.Sprintf("line %d: invalid record", line), err)
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// WriteRecords writes records as JSONL, one object per line.
func WriteRecords(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create records file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode record %s: %w", records[i].ChunkID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush records: %w", err)
	}
	return f.Close()
}

// Validate checks that records can form a snapshot: every record needs a
// unique chunk id and non-empty text.
func Validate(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if rec.ChunkID == "" {
			return apperrors.ErrInvalidInput(fmt.Sprintf("record %d has no chunk_id", i), nil)
		}
		if strings.TrimSpace(rec.Text) == "" {
			return apperrors.ErrInvalidInput(fmt.Sprintf("record %s has empty text", rec.ChunkID), nil)
		}
		if _, dup := seen[rec.ChunkID]; dup {
			return apperrors.ErrInvalidInput(fmt.Sprintf("duplicate chunk_id %s", rec.ChunkID), nil)
		}
		seen[rec.ChunkID] = struct{}{}
	}
	return nil
}

func scanLines(r io.Reader, fn func(line int, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		if err := fn(line, data); err != nil {
			return err
		}
	}
	return sc.Err()
}
