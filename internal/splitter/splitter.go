// Package splitter cuts raw file content into ingestible records at every
// match of a line-oriented boundary pattern.
package splitter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"strings"
	"time"
)

// ErrEmptyInput is returned when there is nothing to split.
var ErrEmptyInput = errors.New("empty input")

// DefaultBoundary starts a record at every non-empty line.
const DefaultBoundary = `^.`

// Record is one block of input ready for ingestion.
type Record struct {
	Text      string
	Fields    map[string]string
	Timestamp time.Time
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithTimestamp stamps every record with ts instead of the clock.
func WithTimestamp(ts time.Time) Option {
	return func(s *Splitter) { s.fixed = ts }
}

// WithClock replaces time.Now as the source of record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Splitter) { s.now = now }
}

// Splitter holds a compiled boundary and the fields injected into every
// record it produces.
type Splitter struct {
	boundary *regexp.Regexp
	fields   map[string]string
	fixed    time.Time
	now      func() time.Time
}

// New compiles boundary in multi-line mode so that ^ and $ anchor to line
// starts and ends. An empty boundary means DefaultBoundary.
func New(boundary string, fields map[string]string, opts ...Option) (*Splitter, error) {
	if boundary == "" {
		boundary = DefaultBoundary
	}
	re, err := regexp.Compile("(?m)" + boundary)
	if err != nil {
		return nil, fmt.Errorf("invalid boundary %q: %w", boundary, err)
	}
	s := &Splitter{boundary: re, fields: maps.Clone(fields), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Boundary returns the compiled boundary expression.
func (s *Splitter) Boundary() string { return s.boundary.String() }

// Split returns an iterator over content, failing with ErrEmptyInput when
// content is empty.
func (s *Splitter) Split(content string) (*Iterator, error) {
	if content == "" {
		return nil, ErrEmptyInput
	}
	return s.SplitReader(strings.NewReader(content)), nil
}

// SplitReader returns an iterator reading r line by line. Reading an empty r
// makes the first Next return ErrEmptyInput.
func (s *Splitter) SplitReader(r io.Reader) *Iterator {
	return &Iterator{s: s, r: bufio.NewReader(r)}
}

// Iterator yields records lazily. It is not safe for concurrent use.
type Iterator struct {
	s *Splitter
	r *bufio.Reader

	buf     strings.Builder
	pending []string
	read    int
	matched bool
	eof     bool
	err     error
}

// Next returns the next record, or io.EOF after the last one.
func (it *Iterator) Next() (Record, error) {
	for len(it.pending) == 0 {
		if it.err != nil {
			return Record{}, it.err
		}
		if it.eof {
			it.err = io.EOF
			return Record{}, it.err
		}
		it.fill()
	}
	text := it.pending[0]
	it.pending[0] = ""
	it.pending = it.pending[1:]
	return it.s.record(text), nil
}

// fill reads one line and moves every block it completes into pending.
func (it *Iterator) fill() {
	line, err := it.r.ReadString('\n')
	it.read += len(line)
	if err != nil && !errors.Is(err, io.EOF) {
		it.err = err
		return
	}
	if line != "" {
		it.scan(line)
	}
	if err == nil {
		return
	}
	it.eof = true
	if it.read == 0 {
		it.err = ErrEmptyInput
		return
	}
	// without any match the whole content is one record
	if it.buf.Len() > 0 || !it.matched {
		it.pending = append(it.pending, it.buf.String())
	}
	it.buf.Reset()
}

func (it *Iterator) scan(line string) {
	prev := 0
	// match without the terminator so ^ never fires past the line end
	body := strings.TrimSuffix(line, "\n")
	for _, m := range it.s.boundary.FindAllStringIndex(body, -1) {
		it.buf.WriteString(line[prev:m[0]])
		prev = m[0]
		if !it.matched {
			it.matched = true
			lead := it.buf.String()
			it.buf.Reset()
			if lead != "" {
				it.pending = append(it.pending, lead)
			}
			continue
		}
		it.pending = append(it.pending, it.buf.String())
		it.buf.Reset()
	}
	it.buf.WriteString(line[prev:])
}

func (s *Splitter) record(text string) Record {
	ts := s.fixed
	if ts.IsZero() {
		ts = s.now()
	}
	return Record{
		Text:      strings.Trim(text, "\r\n"),
		Fields:    maps.Clone(s.fields),
		Timestamp: ts,
	}
}
