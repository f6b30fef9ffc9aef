package inspector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
	"github.com/gwtwod/humiocli/internal/timemod"
)

// LogsClient is the subset of CloudWatch Logs API we use for searching.
type LogsClient interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
	StartQuery(ctx context.Context, params *cloudwatchlogs.StartQueryInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.StartQueryOutput, error)
	GetQueryResults(ctx context.Context, params *cloudwatchlogs.GetQueryResultsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.GetQueryResultsOutput, error)
	StopQuery(ctx context.Context, params *cloudwatchlogs.StopQueryInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.StopQueryOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// Validation and query errors.
var (
	ErrNoGroups      = errors.New("no log groups configured")
	ErrTooManyGroups = errors.New("too many log groups for an insights query")
	ErrQueryFailed   = errors.New("query did not complete")
)

// Mode selects how a search is executed.
type Mode int

const (
	// ModeInsights runs a Logs Insights query and polls for its result.
	ModeInsights Mode = iota
	// ModeStream pages through FilterLogEvents as records are consumed.
	ModeStream
)

const (
	// MaxInsightsGroups is the service limit for groups in one query.
	MaxInsightsGroups = 50
	// DefaultPollInterval is the delay between GetQueryResults calls.
	DefaultPollInterval = time.Second
	// DefaultInsightsQuery is used when an insights search has no query.
	DefaultInsightsQuery = "fields @timestamp, @message, @logStream, @log | sort @timestamp asc"
)

// Inspector searches CloudWatch Logs across multiple groups.
type Inspector struct {
	client       LogsClient
	mode         Mode
	pollInterval time.Duration
	limit        int32
	logger       *zap.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

func WithMode(m Mode) Option { return func(in *Inspector) { in.mode = m } }

func WithPollInterval(d time.Duration) Option {
	return func(in *Inspector) { in.pollInterval = d }
}

// WithLimit caps the number of records per page or query; zero keeps the
// service default.
func WithLimit(n int32) Option { return func(in *Inspector) { in.limit = n } }

func WithLogger(l *zap.Logger) Option { return func(in *Inspector) { in.logger = l } }

// New creates an Inspector.
func New(client LogsClient, opts ...Option) *Inspector {
	in := &Inspector{client: client, pollInterval: DefaultPollInterval, logger: zap.NewNop()}
	for _, o := range opts {
		o(in)
	}
	return in
}

// Execute validates its arguments and returns a stream of matching records.
// Nothing is sent to the service before validation passes.
func (in *Inspector) Execute(ctx context.Context, window timemod.Window, query string, groups []string) (stream.Stream, error) {
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}
	if window.Start.After(window.Stop) {
		return nil, fmt.Errorf("%w: %s", timemod.ErrInvalidWindow, window)
	}
	if in.mode == ModeStream {
		return &filterStream{
			in:      in,
			groups:  groups,
			pattern: literalPattern(query),
			startMs: window.Start.UnixMilli(),
			endMs:   window.Stop.UnixMilli(),
		}, nil
	}
	return in.startQuery(ctx, window, query, groups)
}

// literalPattern quotes a bare term so that CloudWatch matches the literal
// sequence instead of splitting it at special characters. Quoted terms and
// JSON or space-delimited filter expressions pass through unchanged.
func literalPattern(p string) string {
	if p == "" {
		return ""
	}
	switch p[0] {
	case '{', '[':
		return p
	}
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		return p
	}
	return "\"" + p + "\""
}

// filterStream pages FilterLogEvents one group at a time, holding at most
// one page in memory.
type filterStream struct {
	in      *Inspector
	groups  []string
	pattern string
	startMs int64
	endMs   int64

	group     int
	page      []types.FilteredLogEvent
	pos       int
	next      *string
	groupDone bool
}

func (s *filterStream) Next(ctx context.Context) (model.Record, error) {
	for {
		if s.pos < len(s.page) {
			e := s.page[s.pos]
			s.page[s.pos] = types.FilteredLogEvent{}
			s.pos++
			return eventRecord(s.groups[s.group], e), nil
		}
		if s.groupDone {
			s.group++
			s.next, s.groupDone = nil, false
		}
		if s.group >= len(s.groups) {
			return model.Record{}, io.EOF
		}
		if err := s.fetch(ctx); err != nil {
			return model.Record{}, err
		}
	}
}

func (s *filterStream) fetch(ctx context.Context) error {
	group := s.groups[s.group]
	in := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(group),
		StartTime:    aws.Int64(s.startMs),
		EndTime:      aws.Int64(s.endMs),
		NextToken:    s.next,
	}
	if s.pattern != "" {
		in.FilterPattern = aws.String(s.pattern)
	}
	if s.in.limit > 0 {
		in.Limit = aws.Int32(s.in.limit)
	}
	out, err := s.in.client.FilterLogEvents(ctx, in)
	if err != nil {
		return fmt.Errorf("filter %s: %w", group, err)
	}
	s.page, s.pos = out.Events, 0
	s.in.logger.Debug("fetched page", zap.String("group", group), zap.Int("events", len(out.Events)))
	if out.NextToken == nil || (s.next != nil && aws.ToString(out.NextToken) == aws.ToString(s.next)) {
		s.groupDone = true
		return nil
	}
	s.next = out.NextToken
	return nil
}

// eventRecord maps a filtered event to a record. Fields of a JSON message
// follow the fixed fields and never replace them.
func eventRecord(group string, e types.FilteredLogEvent) model.Record {
	msg := aws.ToString(e.Message)
	r := model.NewRecord(
		model.Field{Name: model.FieldTimestamp, Value: model.Int(aws.ToInt64(e.Timestamp))},
		model.Field{Name: model.FieldRawString, Value: model.String(msg)},
		model.Field{Name: model.FieldRepo, Value: model.String(group)},
		model.Field{Name: model.FieldSource, Value: model.String(aws.ToString(e.LogStreamName))},
		model.Field{Name: model.FieldID, Value: model.String(aws.ToString(e.EventId))},
	)
	mergeMessage(&r, msg)
	return r
}

func mergeMessage(r *model.Record, msg string) {
	decoded, ok := model.ParseRecord(msg)
	if !ok {
		return
	}
	for _, f := range decoded.Fields() {
		if _, exists := r.Get(f.Name); !exists {
			r.Set(f.Name, f.Value)
		}
	}
}
