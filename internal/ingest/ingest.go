// Package ingest ships split records to a CloudWatch log stream in batches
// that stay under the PutLogEvents size limits.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/splitter"
	"github.com/gwtwod/humiocli/internal/stream"
)

// Sender is the subset of CloudWatch Logs API we use for ingestion.
type Sender interface {
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// Records yields split records until io.EOF.
type Records interface {
	Next() (splitter.Record, error)
}

const (
	// DefaultSoftLimit is the PutLogEvents payload limit.
	DefaultSoftLimit = 1 << 20
	// EventOverhead is the per-event size the service adds to each message.
	EventOverhead = 26
	// MaxBatchEvents is the PutLogEvents event count limit.
	MaxBatchEvents = 10000
	// StreamPrefix starts every generated stream name.
	StreamPrefix = "hc-ingest-"
)

// ErrNoGroup is returned when no destination group is set.
var ErrNoGroup = errors.New("no log group given")

// DefaultStreamName returns a fresh stream name for one ingest run.
func DefaultStreamName() string {
	return StreamPrefix + uuid.NewString()
}

// Stats summarises an ingest run.
type Stats struct {
	Records int
	Batches int
	Bytes   int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d records in %d batches (%s)", s.Records, s.Batches, humanize.Bytes(uint64(s.Bytes)))
}

// Ingester sends records to one log stream.
type Ingester struct {
	Client Sender
	Group  string
	Stream string
	// SoftLimit bounds the encoded size of a batch; zero means
	// DefaultSoftLimit. A single larger record is still sent on its own.
	SoftLimit int
	// Dry prepares batches without calling the service.
	Dry bool
	// Limiter paces PutLogEvents calls when set.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

type batch struct {
	events []types.InputLogEvent
	bytes  int
}

// Run consumes records and ships them, returning what was sent. The context
// is checked between records.
func (in *Ingester) Run(ctx context.Context, records Records) (Stats, error) {
	if in.Group == "" {
		return Stats{}, ErrNoGroup
	}
	if in.Stream == "" {
		in.Stream = DefaultStreamName()
	}
	if in.Logger == nil {
		in.Logger = zap.NewNop()
	}
	limit := in.SoftLimit
	if limit <= 0 {
		limit = DefaultSoftLimit
	}

	if err := in.createStream(ctx); err != nil {
		return Stats{}, err
	}

	var stats Stats
	var b batch
	flush := func() error {
		if len(b.events) == 0 {
			return nil
		}
		if err := in.put(ctx, b); err != nil {
			return err
		}
		stats.Batches++
		stats.Bytes += b.bytes
		b = batch{}
		return nil
	}

	for {
		if ctx.Err() != nil {
			return stats, stream.Cancelled(ctx)
		}
		r, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		msg, err := EncodeMessage(r)
		if err != nil {
			return stats, err
		}
		size := len(msg) + EventOverhead
		if len(b.events) > 0 && (b.bytes+size > limit || len(b.events) == MaxBatchEvents) {
			if err := flush(); err != nil {
				return stats, err
			}
		}
		if size > limit {
			in.Logger.Warn("record exceeds soft limit, sending it alone",
				zap.Int("record", stats.Records+1), zap.String("size", humanize.Bytes(uint64(size))))
		}
		b.events = append(b.events, types.InputLogEvent{
			Message:   aws.String(msg),
			Timestamp: aws.Int64(r.Timestamp.UnixMilli()),
		})
		b.bytes += size
		stats.Records++
		if size > limit {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	return stats, flush()
}

func (in *Ingester) createStream(ctx context.Context) error {
	if in.Dry {
		in.Logger.Info("dry run, not creating stream", zap.String("group", in.Group), zap.String("stream", in.Stream))
		return nil
	}
	_, err := in.Client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(in.Group),
		LogStreamName: aws.String(in.Stream),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("create stream %s: %w", in.Stream, err)
	}
	return nil
}

func (in *Ingester) put(ctx context.Context, b batch) error {
	if in.Dry {
		in.Logger.Info("dry run batch",
			zap.Int("events", len(b.events)), zap.String("size", humanize.Bytes(uint64(b.bytes))))
		return nil
	}
	if in.Limiter != nil {
		if err := in.Limiter.Wait(ctx); err != nil {
			return stream.Cancelled(ctx)
		}
	}
	out, err := in.Client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
		LogGroupName:  aws.String(in.Group),
		LogStreamName: aws.String(in.Stream),
		LogEvents:     b.events,
	})
	if err != nil {
		return fmt.Errorf("put %d events: %w", len(b.events), err)
	}
	if rej := out.RejectedLogEventsInfo; rej != nil {
		in.Logger.Warn("events rejected",
			zap.Int32p("too_new_start", rej.TooNewLogEventStartIndex),
			zap.Int32p("too_old_end", rej.TooOldLogEventEndIndex),
			zap.Int32p("expired_end", rej.ExpiredLogEventEndIndex))
	}
	in.Logger.Debug("batch sent", zap.Int("events", len(b.events)), zap.Int("bytes", b.bytes))
	return nil
}

// EncodeMessage renders a record as the message body. Without injected
// fields it is the record text; otherwise a JSON object holding the text
// under @rawstring followed by the fields in name order, fields winning on
// conflict.
func EncodeMessage(r splitter.Record) (string, error) {
	if len(r.Fields) == 0 {
		return r.Text, nil
	}
	rec := model.NewRecord(model.Field{Name: model.FieldRawString, Value: model.String(r.Text)})
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		rec.Set(k, model.String(r.Fields[k]))
	}
	b, err := rec.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
