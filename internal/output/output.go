// Package output renders result streams as ndjson, paged tables, raw or
// prettified lines, or subsearch objects. Every rendered unit is flushed before the next
// record is pulled, so memory never grows with the length of the stream.
package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
)

// Mode names an output encoding.
type Mode string

const (
	ModeNDJSON     Mode = "ndjson"
	ModeTable      Mode = "table"
	ModeRaw        Mode = "raw"
	ModePretty     Mode = "pretty"
	ModeOrFields   Mode = "or-fields"
	ModeOrValues   Mode = "or-values"
	ModeOrInsights Mode = "or-insights"
	ModeOrPattern  Mode = "or-pattern"
)

// Modes lists every supported mode in help order.
var Modes = []Mode{ModeNDJSON, ModeTable, ModeRaw, ModePretty, ModeOrFields, ModeOrValues, ModeOrInsights, ModeOrPattern}

// ErrMissingField reports records that lacked the field raw mode prints.
var ErrMissingField = errors.New("missing field")

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == strings.ToLower(strings.TrimSpace(s)) {
			return m, nil
		}
	}
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return "", fmt.Errorf("unknown output format %q (want one of %s)", s, strings.Join(names, ", "))
}

const (
	// DefaultPageSize is the number of records per table page.
	DefaultPageSize = 500
	// MaxPageSize bounds the table page.
	MaxPageSize = 10000
)

// Options configures a formatter.
type Options struct {
	// PageSize is the table page length; zero means DefaultPageSize.
	PageSize int
	// RawField is the field raw mode prints; empty means @rawstring.
	RawField string
	// Fields is the field set for or-fields/or-values; empty means all.
	Fields []string
	// Color enables styled table headers and pretty highlighting.
	Color bool
	// Style is the highlighting style for pretty; empty means DefaultStyle.
	Style string
	// Logger receives per-record warnings; nil discards them.
	Logger *zap.Logger
}

// Summary describes a completed format run.
type Summary struct {
	Records      int
	Missing      int
	Pages        int
	PeakBuffered int
}

// Err returns an ErrMissingField error when records were skipped.
func (s Summary) Err() error {
	if s.Missing == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d records skipped", ErrMissingField, s.Missing, s.Records)
}

// Formatter renders a stream. Implementations live in this package only.
type Formatter interface {
	Format(ctx context.Context, s stream.Stream) (Summary, error)
	mode() Mode
}

// New returns the formatter for mode writing to w.
func New(mode Mode, w io.Writer, opts Options) (Formatter, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	out := &unitWriter{w: bufio.NewWriter(w)}
	switch mode {
	case ModeNDJSON:
		return &ndjsonFormatter{out: out}, nil
	case ModeTable:
		size := opts.PageSize
		if size == 0 {
			size = DefaultPageSize
		}
		if size < 1 || size > MaxPageSize {
			return nil, fmt.Errorf("page size %d out of range 1..%d", size, MaxPageSize)
		}
		return &tableFormatter{out: out, pageSize: size, color: opts.Color}, nil
	case ModeRaw:
		field := opts.RawField
		if field == "" {
			field = model.FieldRawString
		}
		return &rawFormatter{out: out, field: field, logger: opts.Logger}, nil
	case ModePretty:
		f, err := newPrettyFormatter(out, opts)
		if err != nil {
			return nil, err
		}
		return f, nil
	case ModeOrFields, ModeOrValues, ModeOrInsights, ModeOrPattern:
		return &subsearchFormatter{out: out, m: mode, fields: opts.Fields, logger: opts.Logger}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", mode)
}

// unitWriter writes one rendered unit at a time and flushes it.
type unitWriter struct {
	w *bufio.Writer
}

func (u *unitWriter) emit(b []byte) error {
	if _, err := u.w.Write(b); err != nil {
		return err
	}
	return u.w.Flush()
}
