package subsearch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gwtwod/humiocli/internal/model"
	"github.com/gwtwod/humiocli/internal/stream"
)

func record(kv ...string) model.Record {
	var r model.Record
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], model.String(kv[i+1]))
	}
	return r
}

func statusRecords() []model.Record {
	return []model.Record{
		model.NewRecord(model.Field{Name: "status", Value: model.String("200")}),
		model.NewRecord(model.Field{Name: "status", Value: model.Number("200")}),
		model.NewRecord(model.Field{Name: "status", Value: model.String("500")}),
	}
}

func TestSynthesizeSingleField(t *testing.T) {
	res, err := Synthesize(context.Background(), stream.FromSlice(statusRecords()...), []string{"status"})
	require.NoError(t, err)

	frag, ok := res.Get("status")
	require.True(t, ok)
	assert.Equal(t, `"status"="200" or "status"="500"`, frag.Query)
	assert.Equal(t, []string{"200", "500"}, frag.Values)
	assert.Equal(t, frag.Query, res.Subsearch)
}

func TestSynthesizeMultipleFieldsParenthesizes(t *testing.T) {
	records := []model.Record{
		record("host", "web-1", "user", "alice"),
		record("host", "web-2", "user", "alice"),
		record("host", "web-1"),
	}
	res, err := Synthesize(context.Background(), stream.FromSlice(records...), []string{"user", "host"})
	require.NoError(t, err)

	assert.Equal(t, `"user"="alice" and ("host"="web-1" or "host"="web-2")`, res.Subsearch)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"user": "\"user\"=\"alice\"",
		"host": "\"host\"=\"web-1\" or \"host\"=\"web-2\"",
		"SUBSEARCH": "\"user\"=\"alice\" and (\"host\"=\"web-1\" or \"host\"=\"web-2\")"
	}`, string(b))
}

func TestSynthesizeAbsentFieldHasNoKey(t *testing.T) {
	res, err := Synthesize(context.Background(), stream.FromSlice(statusRecords()...), []string{"status", "missing"})
	require.NoError(t, err)

	_, ok := res.Get("missing")
	assert.False(t, ok)

	var out map[string]string
	b, _ := json.Marshal(res)
	require.NoError(t, json.Unmarshal(b, &out))
	assert.NotContains(t, out, "missing")
	assert.Contains(t, out, KeySubsearch)
}

func TestSynthesizeSkipsNullValues(t *testing.T) {
	records := []model.Record{
		model.NewRecord(model.Field{Name: "code", Value: model.Null()}),
	}
	res, err := Synthesize(context.Background(), stream.FromSlice(records...), []string{"code"})
	require.NoError(t, err)
	assert.Empty(t, res.Fragments)
	assert.Equal(t, "", res.Subsearch)
}

func TestSynthesizeEscapesQuotes(t *testing.T) {
	records := []model.Record{record(`msg`, `say "hi" \o/`)}
	res, err := Synthesize(context.Background(), stream.FromSlice(records...), []string{"msg"})
	require.NoError(t, err)
	assert.Equal(t, `"msg"="say \"hi\" \\o/"`, res.Subsearch)
}

func TestSynthesizeIsDeterministic(t *testing.T) {
	var records []model.Record
	for i := 0; i < 200; i++ {
		records = append(records, record(
			"a", string(rune('a'+i%26)),
			"b", string(rune('z'-i%7)),
			"c", "const",
		))
	}
	run := func() []byte {
		cp := append([]model.Record(nil), records...)
		res, err := Synthesize(context.Background(), stream.FromSlice(cp...), nil)
		require.NoError(t, err)
		b, err := json.Marshal(res)
		require.NoError(t, err)
		return b
	}
	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(first), string(run()))
	}
}

func TestSynthesizeAutomaticFieldsIgnoreDefaults(t *testing.T) {
	records := []model.Record{
		record(model.FieldTimestamp, "1", model.FieldRawString, "raw", "level", "ERROR"),
	}
	res, err := Synthesize(context.Background(), stream.FromSlice(records...), nil, WithTemplate(ValueOnly))
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)
	assert.Equal(t, "level", res.Fragments[0].Field)
	assert.Equal(t, `"ERROR"`, res.Subsearch)
}

func TestSynthesizeWarnsOnManyFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := record("a", "1", "b", "2", "c", "3", "d", "4", "e", "5", "f", "6")
	_, err := Synthesize(context.Background(), stream.FromSlice(r), nil, WithLogger(zap.New(core)))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}

func TestSynthesizeStreamInterrupted(t *testing.T) {
	calls := 0
	s := stream.Func(func(context.Context) (model.Record, error) {
		calls++
		if calls == 1 {
			return record("status", "200"), nil
		}
		return model.Record{}, errors.New("socket closed")
	})
	res, err := Synthesize(context.Background(), s, []string{"status"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, stream.ErrStreamInterrupted)
}

func TestSynthesizeBackendTemplates(t *testing.T) {
	records := []model.Record{
		model.NewRecord(
			model.Field{Name: "status", Value: model.Number("500")},
			model.Field{Name: "user", Value: model.String("alice")},
		),
		model.NewRecord(
			model.Field{Name: "status", Value: model.Number("502")},
			model.Field{Name: "user", Value: model.String("alice")},
		),
	}
	tests := []struct {
		name string
		tmpl Template
		want string
	}{
		{"field value", FieldValue, `("status"="500" or "status"="502") and "user"="alice"`},
		{"insights", InsightsFieldValue, "(`status` = 500 or `status` = 502) and `user` = \"alice\""},
		{"filter pattern", PatternFieldValue, `($.status = 500 || $.status = 502) && $.user = "alice"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Synthesize(context.Background(), stream.FromSlice(records...), []string{"status", "user"}, WithTemplate(tt.tmpl))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Subsearch)
		})
	}
}

func TestSynthesizeEscapesControlCharacters(t *testing.T) {
	records := []model.Record{record("msg", "line one\nline two\ttab\x01")}
	res, err := Synthesize(context.Background(), stream.FromSlice(records...), []string{"msg"}, WithTemplate(ValueOnly))
	require.NoError(t, err)
	assert.Equal(t, `"line one\nline two\ttab\u0001"`, res.Subsearch)
}

func TestSynthesizeReservedFieldName(t *testing.T) {
	records := []model.Record{record(KeySubsearch, "x", "user", "bob")}

	_, err := Synthesize(context.Background(), stream.FromSlice(records...), []string{KeySubsearch})
	require.ErrorIs(t, err, ErrReservedField)

	res, err := Synthesize(context.Background(), stream.FromSlice(records...), nil)
	require.NoError(t, err)
	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, `{"user":"\"user\"=\"bob\"","SUBSEARCH":"\"user\"=\"bob\""}`, string(b))
}
