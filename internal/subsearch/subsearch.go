// Package subsearch builds boolean query fragments from the distinct field
// values of a result stream, for use as operands in a follow-up search.
package subsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
)

// KeySubsearch is the name of the aggregate fragment in the output mapping.
const KeySubsearch = "SUBSEARCH"

// warnFieldCount is the number of emitted fields above which a warning is logged.
const warnFieldCount = 5

// DefaultIgnored lists the fields skipped when no field set is requested.
var DefaultIgnored = []string{model.FieldTimestamp, model.FieldRawString}

// Template selects how each value is rendered inside a fragment.
type Template int

const (
	// FieldValue renders "field"="value".
	FieldValue Template = iota
	// ValueOnly renders "value".
	ValueOnly
	// InsightsFieldValue renders `field` = "value" for a Logs Insights
	// filter command. Numbers are left unquoted.
	InsightsFieldValue
	// PatternFieldValue renders $.field = "value" for a JSON filter pattern,
	// joined with || and &&. Wrap the result in { } to use it.
	PatternFieldValue
)

func (t Template) term(field, value string, number bool) string {
	literal := Quote(value)
	if number {
		literal = value
	}
	switch t {
	case ValueOnly:
		return Quote(value)
	case InsightsFieldValue:
		return "`" + strings.ReplaceAll(field, "`", "``") + "` = " + literal
	case PatternFieldValue:
		return "$." + field + " = " + literal
	}
	return Quote(field) + "=" + Quote(value)
}

func (t Template) or() string {
	if t == PatternFieldValue {
		return " || "
	}
	return " or "
}

func (t Template) and() string {
	if t == PatternFieldValue {
		return " && "
	}
	return " and "
}

type options struct {
	template Template
	ignored  []string
	logger   *zap.Logger
}

// Option configures Synthesize.
type Option func(*options)

// WithTemplate sets the value template.
func WithTemplate(t Template) Option { return func(o *options) { o.template = t } }

// WithIgnored replaces the fields skipped when no field set is requested.
func WithIgnored(fields ...string) Option { return func(o *options) { o.ignored = fields } }

// WithLogger sets the logger used for warnings.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// Fragment is the OR-join of every distinct value observed for one field.
type Fragment struct {
	Field  string
	Values []string
	Query  string
}

// Result holds the per-field fragments in output order and the aggregate
// AND-join of all of them.
type Result struct {
	Fragments []Fragment
	Subsearch string
}

// Get returns the fragment for field, if that field was observed.
func (r *Result) Get(field string) (Fragment, bool) {
	for _, f := range r.Fragments {
		if f.Field == field {
			return f, true
		}
	}
	return Fragment{}, false
}

// MarshalJSON writes {"field": "...", ..., "SUBSEARCH": "..."} with fields in
// output order, so identical inputs give byte-identical output.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	writePair := func(k, v string) error {
		if err := enc.Encode(k); err != nil {
			return err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(v); err != nil {
			return err
		}
		buf.Truncate(buf.Len() - 1)
		return nil
	}
	buf.WriteByte('{')
	for _, f := range r.Fragments {
		if err := writePair(f.Field, f.Query); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := writePair(KeySubsearch, r.Subsearch); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// index accumulates distinct values per field in first-seen order. seen
// records whether the first occurrence of a value was a JSON number.
type index struct {
	order  []string
	values map[string][]string
	seen   map[string]map[string]bool
}

func newIndex() *index {
	return &index{values: make(map[string][]string), seen: make(map[string]map[string]bool)}
}

func (ix *index) add(field string, v model.Value) {
	seen, ok := ix.seen[field]
	if !ok {
		seen = make(map[string]bool)
		ix.seen[field] = seen
		ix.order = append(ix.order, field)
	}
	value := v.String()
	if _, dup := seen[value]; dup {
		return
	}
	seen[value] = v.Kind() == model.KindNumber
	ix.values[field] = append(ix.values[field], value)
}

// ErrReservedField rejects a requested field that collides with the
// aggregate key.
var ErrReservedField = fmt.Errorf("field name %s is reserved", KeySubsearch)

// Synthesize scans s once and builds one fragment per requested field that
// has at least one non-null value. With no requested fields, every observed
// field except the ignored set and KeySubsearch is used, in first-seen order.
func Synthesize(ctx context.Context, s stream.Stream, fields []string, opts ...Option) (*Result, error) {
	o := options{template: FieldValue, ignored: DefaultIgnored, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if slices.Contains(fields, KeySubsearch) {
		return nil, ErrReservedField
	}

	ix := newIndex()
	_, err := stream.Consume(ctx, s, func(r model.Record) error {
		if len(fields) > 0 {
			for _, name := range fields {
				if v, ok := r.Get(name); ok && !v.IsNull() {
					ix.add(name, v)
				}
			}
			return nil
		}
		for _, f := range r.Fields() {
			if f.Value.IsNull() || f.Name == KeySubsearch || slices.Contains(o.ignored, f.Name) {
				continue
			}
			ix.add(f.Name, f.Value)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := ix.order
	if len(fields) > 0 {
		order = order[:0:0]
		for _, name := range dedupe(fields) {
			if _, ok := ix.values[name]; ok {
				order = append(order, name)
			}
		}
	}
	if len(order) > warnFieldCount {
		o.logger.Warn("subsearch includes many fields, did you forget to select the relevant ones?",
			zap.Strings("fields", order))
	}

	res := &Result{}
	for _, name := range order {
		values := ix.values[name]
		res.Fragments = append(res.Fragments, Fragment{
			Field:  name,
			Values: values,
			Query:  orJoin(name, values, ix.seen[name], o.template),
		})
	}
	res.Subsearch = andJoin(res.Fragments, o.template)
	return res, nil
}

func orJoin(field string, values []string, numbers map[string]bool, tmpl Template) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = tmpl.term(field, v, numbers[v])
	}
	return strings.Join(parts, tmpl.or())
}

// andJoin combines fragments with the template's "and". Multi-value
// fragments are parenthesized when more than one fragment is joined so that
// "or" binds tighter than the surrounding "and".
func andJoin(frags []Fragment, tmpl Template) string {
	if len(frags) == 1 {
		return frags[0].Query
	}
	parts := make([]string, len(frags))
	for i, f := range frags {
		if len(f.Values) > 1 {
			parts[i] = "(" + f.Query + ")"
		} else {
			parts[i] = f.Query
		}
	}
	return strings.Join(parts, tmpl.and())
}

// Quote renders s as a double-quoted query literal. Backslashes, double
// quotes and control characters are escaped the way JSON strings are.
func Quote(s string) string {
	const hex = "0123456789abcdef"
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			b.WriteString(`\u00`)
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
