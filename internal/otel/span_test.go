package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return recorder, tp.Tracer("loader-test")
}

func TestStartSpan_WithoutTracerKeepsParent(t *testing.T) {
	t.Parallel()

	recorder, tracer := recordingTracer(t)
	parentCtx, parent := tracer.Start(context.Background(), "refresh.Run")

	ctx, span := StartSpan(parentCtx, nil, "loader.Table")
	assert.Equal(t, parent.SpanContext(), span.SpanContext())
	assert.Equal(t, parentCtx, ctx)

	parent.End()
	assert.Len(t, recorder.Ended(), 1)
}

func TestStartSpan_NilTracerNoParent(t *testing.T) {
	t.Parallel()

	_, span := StartSpan(context.Background(), nil, "loader.Table")
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid())
	assert.NotPanics(t, func() { span.End() })
}

func TestStartSpan_LoadAttributes(t *testing.T) {
	t.Parallel()

	recorder, tracer := recordingTracer(t)

	_, span := StartSpan(context.Background(), tracer, "loader.Table",
		trace.WithAttributes(AttrTable.String("permit")),
	)
	span.SetAttributes(AttrRecordCount.Int(42), AttrBackupUsed.Bool(true))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "loader.Table", ended[0].Name())

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "permit", attrs[AttrTable].AsString())
	assert.Equal(t, int64(42), attrs[AttrRecordCount].AsInt64())
	assert.True(t, attrs[AttrBackupUsed].AsBool())
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents int
	}{
		{name: "nil error leaves span untouched", err: nil, wantStatus: codes.Unset, wantEvents: 0},
		{
			name:       "error hides detail from status",
			err:        errors.New("dial tcp db:5432: connection refused"),
			wantStatus: codes.Error,
			wantEvents: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recorder, tracer := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "loader.ZoneFacts")
			RecordError(span, tt.err)
			span.End()

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantStatus, ended[0].Status().Code)
			assert.Len(t, ended[0].Events(), tt.wantEvents)
			assert.NotContains(t, ended[0].Status().Description, "5432")
		})
	}

	assert.NotPanics(t, func() { RecordError(nil, errors.New("boom")) })
}
