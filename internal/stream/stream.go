// Package stream defines how result streams from the search backend are
// consumed: one record at a time, in backend order, in a single pass.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gwtwod/humiocli/internal/model"
)

var (
	// ErrStreamInterrupted reports a transport failure in the middle of a stream.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrCancelled reports that consumption stopped because the context ended.
	ErrCancelled = errors.New("cancelled")
)

// Stream is a lazy, single-pass sequence of records. Next returns io.EOF
// after the last record; any other error ends the stream.
type Stream interface {
	Next(ctx context.Context) (model.Record, error)
}

// Func adapts a function to Stream.
type Func func(ctx context.Context) (model.Record, error)

// Next calls f.
func (f Func) Next(ctx context.Context) (model.Record, error) { return f(ctx) }

// FromSlice returns a stream over records.
func FromSlice(records ...model.Record) Stream {
	i := 0
	return Func(func(context.Context) (model.Record, error) {
		if i >= len(records) {
			return model.Record{}, io.EOF
		}
		r := records[i]
		records[i] = model.Record{}
		i++
		return r, nil
	})
}

// InterruptedError wraps a pull failure together with the number of records
// that were yielded before it.
type InterruptedError struct {
	Yielded int
	Err     error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("%s after %d records: %v", ErrStreamInterrupted, e.Yielded, e.Err)
}

func (e *InterruptedError) Unwrap() []error { return []error{ErrStreamInterrupted, e.Err} }

// Cancelled returns the error reported when ctx ends consumption.
func Cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

// Pull fetches the next record, classifying failures. It returns io.EOF
// unchanged at the end of the stream; yielded is only used for error
// reporting.
func Pull(ctx context.Context, s Stream, yielded int) (model.Record, error) {
	if ctx.Err() != nil {
		return model.Record{}, Cancelled(ctx)
	}
	r, err := s.Next(ctx)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, io.EOF):
		return model.Record{}, io.EOF
	case errors.Is(err, ErrCancelled):
		return model.Record{}, err
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return model.Record{}, Cancelled(ctx)
	}
	return model.Record{}, &InterruptedError{Yielded: yielded, Err: err}
}

// Consume pulls every record from s and passes it to fn, stopping at the end
// of the stream, on the first error, or when ctx is done. The context is
// checked between records, never in the middle of fn. It returns the number
// of records handed to fn.
func Consume(ctx context.Context, s Stream, fn func(model.Record) error) (int, error) {
	n := 0
	for {
		r, err := Pull(ctx, s, n)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		if err := fn(r); err != nil {
			return n, err
		}
	}
}
