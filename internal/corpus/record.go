// Package corpus defines the records the retrieval engine indexes and the
// readers and writers for the files they travel in.
package corpus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strconv"
)

// Record is the immutable unit of retrieval: one chunk of a maintenance log.
// ChunkID is the durable join key between the index stores and the metadata
// table.
type Record struct {
	ChunkID    string   `json:"chunk_id"`
	DocID      string   `json:"doc_id"`
	ChunkIndex int      `json:"chunk_index"`
	Text       string   `json:"text"`
	Metadata   Metadata `json:"metadata"`
}

// Document is a source row before chunking.
type Document struct {
	DocID    string
	Text     string
	Metadata Metadata
}

// Metadata field names as they appear in source files and JSON.
const (
	FieldCategory      = "category"
	FieldWorkType      = "work_type"
	FieldLine          = "line"
	FieldLocation      = "location"
	FieldEquipment1    = "equipment1"
	FieldEquipment2    = "equipment2"
	FieldEquipment3    = "equipment3"
	FieldDate          = "date"
	FieldTitle         = "title"
	FieldMachine       = "machine"
	FieldSymptom       = "symptom"
	FieldActionTaken   = "action_taken"
	FieldPartsReplaced = "parts_replaced"
	FieldOperator      = "operator"
)

// Metadata holds the recognized per-document attributes. The filterable
// dimensions and display fields are typed; anything else lands in Extra and
// is carried through for display only.
type Metadata struct {
	Category   string
	WorkType   string
	Line       string
	Location   string
	Equipment1 string
	Equipment2 string
	Equipment3 string

	Date          string
	Title         string
	Machine       string
	Symptom       string
	ActionTaken   string
	PartsReplaced string
	Operator      string

	Extra map[string]any
}

func (m *Metadata) fields() map[string]*string {
	return map[string]*string{
		FieldCategory:      &m.Category,
		FieldWorkType:      &m.WorkType,
		FieldLine:          &m.Line,
		FieldLocation:      &m.Location,
		FieldEquipment1:    &m.Equipment1,
		FieldEquipment2:    &m.Equipment2,
		FieldEquipment3:    &m.Equipment3,
		FieldDate:          &m.Date,
		FieldTitle:         &m.Title,
		FieldMachine:       &m.Machine,
		FieldSymptom:       &m.Symptom,
		FieldActionTaken:   &m.ActionTaken,
		FieldPartsReplaced: &m.PartsReplaced,
		FieldOperator:      &m.Operator,
	}
}

// Get returns the value of a recognized field, or a stringified Extra value.
// The boolean is false when the field is absent or empty.
func (m Metadata) Get(name string) (string, bool) {
	if p, ok := m.fields()[name]; ok {
		return *p, *p != ""
	}
	if v, ok := m.Extra[name]; ok {
		s, ok := stringify(v)
		return s, ok && s != ""
	}
	return "", false
}

// Set assigns a field by name. Unrecognized names go to Extra, and so does
// a recognized field whose value is not a scalar: the typed field stays
// empty, so it never matches a filter, but the raw value is carried through.
func (m *Metadata) Set(name string, value any) {
	if p, ok := m.fields()[name]; ok {
		if s, ok := stringify(value); ok {
			*p = s
			delete(m.Extra, name)
			return
		}
		*p = ""
		slog.Debug("metadata_value_not_scalar",
			slog.String("field", name),
			slog.String("type", fmt.Sprintf("%T", value)))
	}
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[name] = value
}

// Clone returns a copy that shares nothing mutable with m.
func (m Metadata) Clone() Metadata {
	c := m
	c.Extra = maps.Clone(m.Extra)
	return c
}

// Keys lists the names of all non-empty fields, sorted.
func (m Metadata) Keys() []string {
	var keys []string
	for name, p := range m.fields() {
		if *p != "" {
			keys = append(keys, name)
		}
	}
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON writes the flat object shape used by the source data:
// recognized fields sit next to the extra ones.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}
	for name, p := range m.fields() {
		if *p != "" {
			out[name] = *p
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat object shape. Scalar values of recognized
// fields are stringified, so a numeric line id still filters as text.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	for k, v := range raw {
		if v == nil {
			continue
		}
		m.Set(k, v)
	}
	return nil
}

func stringify(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}
