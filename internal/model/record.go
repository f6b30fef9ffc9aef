// Package model defines the records exchanged between the search backend,
// the formatters and the subsearch synthesizer.
package model

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Well-known field names.
const (
	FieldTimestamp = "@timestamp"
	FieldRawString = "@rawstring"
	FieldID        = "@id"
	FieldSource    = "@source"
	FieldRepo      = "#repo"
)

// Kind tells which of the supported value shapes a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
)

// Value is a field value: a string, a number or null. Numbers keep their
// literal text so they render exactly as the backend sent them.
type Value struct {
	kind Kind
	s    string
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number returns a number value from its literal text.
func Number(literal string) Value { return Value{kind: KindNumber, s: literal} }

// Int returns a number value.
func Int(n int64) Value { return Number(strconv.FormatInt(n, 10)) }

// Float returns a number value.
func Float(f float64) Value { return Number(strconv.FormatFloat(f, 'f', -1, 64)) }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String returns the textual form of v; null renders as the empty string.
func (v Value) String() string { return v.s }

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return marshalString(v.s)
	case KindNumber:
		return []byte(v.s), nil
	}
	return []byte("null"), nil
}

// Field is one named value of a record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping of field names to values. The zero value is
// an empty record ready to use.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a record from fields; later duplicates overwrite earlier
// ones in place.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set assigns name. An existing field keeps its position.
func (r *Record) Set(name string, v Value) {
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = v
		return
	}
	if r.index == nil {
		r.index = make(map[string]int)
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// Get returns the value of name and whether it is present.
func (r Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Fields returns the fields in insertion order. The slice must not be modified.
func (r Record) Fields() []Field { return r.fields }

// Names returns the field names in insertion order.
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// MarshalJSON writes the record as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := marshalString(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalString encodes s as a JSON string without HTML escaping.
func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
