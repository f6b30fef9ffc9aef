package output

import (
	"context"

	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
	"github.com/gwtwod/humiocli/internal/subsearch"
)

type ndjsonFormatter struct {
	out *unitWriter
}

func (f *ndjsonFormatter) mode() Mode { return ModeNDJSON }

func (f *ndjsonFormatter) Format(ctx context.Context, s stream.Stream) (Summary, error) {
	n, err := stream.Consume(ctx, s, func(r model.Record) error {
		b, err := r.MarshalJSON()
		if err != nil {
			return err
		}
		return f.out.emit(append(b, '\n'))
	})
	return Summary{Records: n}, err
}

type rawFormatter struct {
	out    *unitWriter
	field  string
	logger *zap.Logger
}

func (f *rawFormatter) mode() Mode { return ModeRaw }

func (f *rawFormatter) Format(ctx context.Context, s stream.Stream) (Summary, error) {
	var sum Summary
	seen := 0
	n, err := stream.Consume(ctx, s, func(r model.Record) error {
		seen++
		v, ok := r.Get(f.field)
		if !ok || v.IsNull() {
			sum.Missing++
			f.logger.Debug("record has no raw field, skipping",
				zap.String("field", f.field), zap.Int("record", seen))
			return nil
		}
		return f.out.emit([]byte(v.String() + "\n"))
	})
	sum.Records = n
	return sum, err
}

type subsearchFormatter struct {
	out    *unitWriter
	m      Mode
	fields []string
	logger *zap.Logger
}

func (f *subsearchFormatter) mode() Mode { return f.m }

func (f *subsearchFormatter) Format(ctx context.Context, s stream.Stream) (Summary, error) {
	var sum Summary
	counted := stream.Func(func(ctx context.Context) (model.Record, error) {
		r, err := s.Next(ctx)
		if err == nil {
			sum.Records++
		}
		return r, err
	})
	tmpl := subsearch.FieldValue
	switch f.m {
	case ModeOrValues:
		tmpl = subsearch.ValueOnly
	case ModeOrInsights:
		tmpl = subsearch.InsightsFieldValue
	case ModeOrPattern:
		tmpl = subsearch.PatternFieldValue
	}
	res, err := subsearch.Synthesize(ctx, counted, f.fields,
		subsearch.WithTemplate(tmpl), subsearch.WithLogger(f.logger))
	if err != nil {
		return sum, err
	}
	b, err := res.MarshalJSON()
	if err != nil {
		return sum, err
	}
	return sum, f.out.emit(append(b, '\n'))
}
