package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/dvloznov/report-extractor/internal/table"
)

// YearField is the schema entry that carries the record's fiscal year.
const YearField = "year"

// Reasons reported alongside a reshape status.
const (
	ReasonSuccess = "File Successfully Read"
	ReasonNoYears = "No year data found in the file."
)

// Status is the outcome of a reshape.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Vocabulary maps an account label, matched exactly, to an output field.
type Vocabulary map[string]string

// Schema is the ordered field list of one year's record.
type Schema []string

// Measure is one reported amount.
type Measure struct {
	Value      *string  `json:"value"`
	Confidence *float64 `json:"confidence"`
}

// Record holds one fiscal year's fields, serialized in schema order.
type Record struct {
	Year   int
	schema Schema
	fields map[string]Measure
}

// Field returns the measure stored for name. Fields in the schema that had no
// mapped account return an empty measure.
func (r Record) Field(name string) (Measure, bool) {
	for _, f := range r.schema {
		if f == name && f != YearField {
			return r.fields[name], true
		}
	}
	return Measure{}, false
}

// Fields returns the record's field names in serialization order.
func (r Record) Fields() []string {
	out := make([]string, len(r.schema))
	copy(out, r.schema)
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.schema {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		if name == YearField {
			buf.WriteString(strconv.Itoa(r.Year))
			continue
		}
		val, err := json.Marshal(r.fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the reshaped report returned to API callers.
type Result struct {
	Status Status   `json:"status"`
	Reason string   `json:"reason"`
	Read   []Record `json:"read"`
}

// DiscoverYears returns the distinct year columns of t in ascending order.
// Only object rows are scanned.
func DiscoverYears(t table.Table) []string {
	seen := make(map[string]struct{})
	for _, row := range t {
		if !row.IsObject() {
			continue
		}
		for _, k := range row.Keys() {
			if IsYear(k) {
				seen[k] = struct{}{}
			}
		}
	}

	years := make([]string, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

// IsYear reports whether label is exactly four ASCII digits.
func IsYear(label string) bool {
	if len(label) != 4 {
		return false
	}
	for i := 0; i < len(label); i++ {
		if label[i] < '0' || label[i] > '9' {
			return false
		}
	}
	return true
}

// Reshape turns normalized rows into one record per fiscal year.
//
// For every year found among the row keys, rows whose account label is in
// vocab and which carry that year's column contribute the cleaned cell under
// the mapped field; later rows overwrite earlier ones. Each record then holds
// exactly the fields of schema, with unmapped fields left empty.
func Reshape(t table.Table, vocab Vocabulary, schema Schema) Result {
	years := DiscoverYears(t)
	if len(years) == 0 {
		return Result{
			Status: StatusFailed,
			Reason: ReasonNoYears,
			Read:   []Record{},
		}
	}

	records := make([]Record, 0, len(years))
	for _, year := range years {
		scratch := make(map[string]Measure)
		for _, row := range t {
			account, ok := row.String(table.AccountColumn)
			if !ok {
				continue
			}
			field, ok := vocab[account]
			if !ok {
				continue
			}
			cell, ok := row.Get(year)
			if !ok {
				continue
			}
			scratch[field] = Measure{Value: CleanCell(cell)}
		}

		// Year strings are four ASCII digits, so Atoi cannot fail.
		y, _ := strconv.Atoi(year)
		rec := Record{
			Year:   y,
			schema: schema,
			fields: make(map[string]Measure, len(schema)),
		}
		for _, name := range schema {
			if name == YearField {
				continue
			}
			rec.fields[name] = scratch[name]
		}
		records = append(records, rec)
	}

	return Result{
		Status: StatusSuccess,
		Reason: ReasonSuccess,
		Read:   records,
	}
}
