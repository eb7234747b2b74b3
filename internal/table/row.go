package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// AccountColumn is the canonical label of the account-name column.
const AccountColumn = "Akun"

// ErrMalformed is returned when persisted content is not a JSON array of rows.
var ErrMalformed = errors.New("table: content is not a JSON array")

// Row is one table row: an ordered mapping from column label to cell value.
// Cell values are decoded JSON values (nil, string, json.Number, bool, or nested
// maps/slices). Entries of a table that are not JSON objects are kept verbatim
// and reported by IsObject as false.
type Row struct {
	keys   []string
	values map[string]any
	raw    json.RawMessage
}

// Table is an ordered sequence of rows as persisted on disk.
type Table []*Row

// NewRow creates an empty object row.
func NewRow() *Row {
	return &Row{values: make(map[string]any)}
}

// IsObject reports whether the row is a key-value structure.
func (r *Row) IsObject() bool {
	return r != nil && r.raw == nil
}

// Len returns the number of columns in the row.
func (r *Row) Len() int {
	return len(r.keys)
}

// Keys returns the column labels in their original order.
func (r *Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the cell value for key and whether the key is present.
// A present key may hold a nil value.
func (r *Row) Get(key string) (any, bool) {
	if !r.IsObject() {
		return nil, false
	}
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether the row contains the column key.
func (r *Row) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// String returns the cell value for key when it is a JSON string.
func (r *Row) String(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set stores a cell value. A new key is appended after the existing columns;
// an existing key keeps its position.
func (r *Row) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Delete removes a column from the row.
func (r *Row) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a shallow copy of the row. Nested cell values are shared.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	if !r.IsObject() {
		return &Row{raw: append(json.RawMessage(nil), r.raw...)}
	}
	c := &Row{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(c.keys, r.keys)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON writes the row as a JSON object with columns in their original order.
func (r *Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	if !r.IsObject() {
		return r.raw, nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalValue(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := marshalValue(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes one table entry, preserving column order for objects.
func (r *Row) UnmarshalJSON(data []byte) error {
	parsed, err := parseRow(data)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

func parseRow(data []byte) (*Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &Row{raw: append(json.RawMessage(nil), bytes.TrimSpace(data)...)}, nil
	}

	row := NewRow()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("column %q: %w", key, err)
		}
		row.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return row, nil
}

// marshalValue encodes v without HTML escaping.
func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses persisted table content. Content that is not a JSON array is
// reported as ErrMalformed.
func Decode(data []byte) (Table, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if entries == nil {
		// top-level null
		return nil, fmt.Errorf("%w: null document", ErrMalformed)
	}

	t := make(Table, 0, len(entries))
	for i, e := range entries {
		row, err := parseRow(e)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrMalformed, i, err)
		}
		t = append(t, row)
	}
	return t, nil
}

// Encode writes the table as indented JSON. Non-ASCII and HTML characters are
// written as-is.
func Encode(w io.Writer, t Table) error {
	if t == nil {
		t = Table{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// Marshal is Encode into a byte slice.
func Marshal(t Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
