// Package document defines the record shape shared by the stores and the
// CRUD service: an identifier plus an arbitrary field map.
package document

import (
	"fmt"

	"github.com/goccy/go-json"
)

// IDField is the field name the identifier is exposed under.
const IDField = "_id"

// Fields is a create or update payload: field name to value.
type Fields map[string]any

// Document is one record of a collection.
type Document struct {
	ID     ID
	Fields Fields

	isNew bool
}

// New builds an unsaved document from a field map. An _id entry becomes
// the document's ID; one that cannot be an ID fails with ErrInvalidID.
// Nothing is written to any store until the document is saved.
func New(fields Fields) (*Document, error) {
	d := &Document{Fields: make(Fields, len(fields)), isNew: true}
	for k, v := range fields {
		if k == IDField {
			id, err := IDFromValue(v)
			if err != nil {
				return nil, err
			}
			d.ID = id
			continue
		}
		d.Fields[k] = v
	}
	return d, nil
}

// Stored builds a document as read back from a store.
func Stored(id ID, fields Fields) *Document {
	if fields == nil {
		fields = Fields{}
	}
	delete(fields, IDField)
	return &Document{ID: id, Fields: fields}
}

// IsNew reports whether the document has never been saved.
func (d *Document) IsNew() bool { return d.isNew }

// MarkSaved flips a new document to the persisted state. Stores call it
// after a successful insert.
func (d *Document) MarkSaved() { d.isNew = false }

func (d *Document) Get(field string) any {
	if field == IDField {
		return d.ID.JSONValue()
	}
	return d.Fields[field]
}

func (d *Document) Set(field string, v any) {
	if field == IDField {
		return
	}
	if d.Fields == nil {
		d.Fields = Fields{}
	}
	d.Fields[field] = v
}

// Apply merges patch into the document, top-level keys only. _id is
// immutable and skipped.
func (d *Document) Apply(patch Fields) {
	for k, v := range patch {
		d.Set(k, v)
	}
}

// Map returns the JSON-shaped form: the fields plus _id.
func (d *Document) Map() map[string]any {
	m := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		m[k] = v
	}
	if !d.ID.IsZero() {
		m[IDField] = d.ID.JSONValue()
	}
	return m
}

// Clone returns a deep copy. Nested maps and slices are copied; other
// values are shared.
func (d *Document) Clone() *Document {
	fields, _ := cloneValue(map[string]any(d.Fields)).(map[string]any)
	if fields == nil {
		fields = map[string]any{}
	}
	return &Document{ID: d.ID, Fields: fields, isNew: d.isNew}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Fields:
		return Fields(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	id, err := IDFromValue(f[IDField])
	if err != nil {
		return err
	}
	*d = *Stored(id, f)
	return nil
}

// CopyFields deep-copies a field map through JSON. Numbers come back as
// float64, the same as any JSON-backed store would return them. Values
// JSON cannot encode, such as NaN or channels, are an error.
func CopyFields(src Fields) (Fields, error) {
	if src == nil {
		return Fields{}, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("document: encode fields: %w", err)
	}
	var dst Fields
	if err := json.Unmarshal(b, &dst); err != nil {
		return nil, fmt.Errorf("document: decode fields: %w", err)
	}
	if dst == nil {
		dst = Fields{}
	}
	return dst, nil
}
