package inspector

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"go.uber.org/zap"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/timemod"
)

// insightsTimeLayout is how Logs Insights renders @timestamp.
const insightsTimeLayout = "2006-01-02 15:04:05.000"

func (in *Inspector) startQuery(ctx context.Context, window timemod.Window, query string, groups []string) (*insightsStream, error) {
	if len(groups) > MaxInsightsGroups {
		return nil, fmt.Errorf("%w: %d given, at most %d", ErrTooManyGroups, len(groups), MaxInsightsGroups)
	}
	if strings.TrimSpace(query) == "" {
		query = DefaultInsightsQuery
	}
	input := &cloudwatchlogs.StartQueryInput{
		LogGroupNames: groups,
		QueryString:   aws.String(query),
		StartTime:     aws.Int64(window.Start.Unix()),
		EndTime:       aws.Int64(window.Stop.Unix()),
	}
	if in.limit > 0 {
		input.Limit = aws.Int32(in.limit)
	}
	out, err := in.client.StartQuery(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("start query: %w", err)
	}
	id := aws.ToString(out.QueryId)
	in.logger.Debug("query started", zap.String("query_id", id), zap.Strings("groups", groups))
	return &insightsStream{in: in, id: id}, nil
}

// insightsStream polls a running query until it reaches a terminal state and
// then yields its rows in the order the service returned them.
type insightsStream struct {
	in   *Inspector
	id   string
	rows [][]types.ResultField
	pos  int
	done bool
}

func (s *insightsStream) Next(ctx context.Context) (model.Record, error) {
	if !s.done {
		if err := s.wait(ctx); err != nil {
			return model.Record{}, err
		}
		s.done = true
	}
	if s.pos >= len(s.rows) {
		return model.Record{}, io.EOF
	}
	row := s.rows[s.pos]
	s.rows[s.pos] = nil
	s.pos++
	return resultRecord(row), nil
}

func (s *insightsStream) wait(ctx context.Context) error {
	for {
		out, err := s.in.client.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{QueryId: aws.String(s.id)})
		if err != nil {
			if ctx.Err() != nil {
				s.stop(ctx)
			}
			return fmt.Errorf("query %s: %w", s.id, err)
		}
		switch out.Status {
		case types.QueryStatusComplete:
			s.rows = out.Results
			if out.Statistics != nil {
				s.in.logger.Debug("query complete",
					zap.String("query_id", s.id),
					zap.Float64("records_matched", out.Statistics.RecordsMatched),
					zap.Float64("bytes_scanned", out.Statistics.BytesScanned))
			}
			return nil
		case types.QueryStatusFailed, types.QueryStatusCancelled, types.QueryStatusTimeout, types.QueryStatusUnknown:
			return fmt.Errorf("%w: query %s is %s", ErrQueryFailed, s.id, out.Status)
		}

		t := time.NewTimer(s.in.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			s.stop(ctx)
			return ctx.Err()
		case <-t.C:
		}
	}
}

// stop cancels the running query. It outlives ctx so the request is sent
// even after an interrupt.
func (s *insightsStream) stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.in.client.StopQuery(ctx, &cloudwatchlogs.StopQueryInput{QueryId: aws.String(s.id)}); err != nil {
		s.in.logger.Warn("failed to stop query", zap.String("query_id", s.id), zap.Error(err))
		return
	}
	s.in.logger.Debug("query stopped", zap.String("query_id", s.id))
}

// resultRecord maps an insights row to a record. Well-known fields are
// renamed to their record names, @ptr is dropped and JSON messages are
// flattened after the row's own fields.
func resultRecord(row []types.ResultField) model.Record {
	var r model.Record
	var msg string
	for _, f := range row {
		name, value := aws.ToString(f.Field), aws.ToString(f.Value)
		switch name {
		case "@ptr":
			continue
		case "@timestamp":
			if ts, err := time.ParseInLocation(insightsTimeLayout, value, time.UTC); err == nil {
				r.Set(model.FieldTimestamp, model.Int(ts.UnixMilli()))
				continue
			}
		case "@message":
			msg = value
			name = model.FieldRawString
		case "@log":
			// "<account>:<group>"
			if i := strings.IndexByte(value, ':'); i >= 0 {
				value = value[i+1:]
			}
			name = model.FieldRepo
		case "@logStream":
			name = model.FieldSource
		}
		r.Set(name, model.String(value))
	}
	if msg != "" {
		mergeMessage(&r, msg)
	}
	return r
}
