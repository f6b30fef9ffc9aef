package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/jmespath/go-jmespath"
)

var placeholder = regexp.MustCompile(`\{\{(.+?)\}\}`)

// InterpolateQuery replaces every {{expr}} in query with the result of the
// JMESPath expression evaluated against data, typically the SUBSEARCH object
// of a previous search. Strings are inserted as-is, other results as JSON.
// An expression that yields nothing is an error so that a query is never
// silently widened.
func InterpolateQuery(query string, data any) (string, error) {
	var firstErr error
	out := placeholder.ReplaceAllStringFunc(query, func(m string) string {
		if firstErr != nil {
			return m
		}
		expr := strings.TrimSpace(placeholder.FindStringSubmatch(m)[1])
		v, err := Render(expr, data)
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ParseFields decodes a JSON document for InterpolateQuery. A stream of
// ndjson objects yields the last one, which is what a piped or-fields search
// produces.
func ParseFields(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var last any
	for dec.More() {
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("invalid fields document: %w", err)
		}
		last = v
	}
	if last == nil {
		return nil, fmt.Errorf("invalid fields document: empty")
	}
	return last, nil
}

// Render evaluates expr against data and returns a non-empty string form.
// Array results use the first non-empty element only.
func Render(expr string, data any) (string, error) {
	res, err := jmespath.Search(expr, data)
	if err != nil {
		return "", fmt.Errorf("jmespath %q: %w", expr, err)
	}
	rv := reflect.ValueOf(res)
	if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		var first any
		for i := 0; i < rv.Len(); i++ {
			if el := rv.Index(i).Interface(); !isEmpty(el) {
				first = el
				break
			}
		}
		res = first
	}
	if isEmpty(res) {
		return "", fmt.Errorf("jmespath %q: no value", expr)
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal result failed: %w", err)
	}
	return string(b), nil
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
