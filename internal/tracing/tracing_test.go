package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_EmptyEndpointInstallsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "historyd"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(0).Description())
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestServiceAttributes_SkipsEmptyVersion(t *testing.T) {
	assert.Len(t, serviceAttributes(Config{ServiceName: "historyd"}), 1)
	assert.Len(t, serviceAttributes(Config{ServiceName: "historyd", ServiceVersion: "1.2.0"}), 2)
}

func TestFail_RecordsErrorStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, ok := tp.Tracer("test").Start(context.Background(), "ok")
	Fail(ok, nil)
	ok.End()

	_, bad := tp.Tracer("test").Start(context.Background(), "bad")
	Fail(bad, errors.New("subscan unavailable"))
	bad.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "subscan unavailable", ended[1].Status().Description)
	assert.Len(t, ended[1].Events(), 1)
}

func TestSubjectAttributes(t *testing.T) {
	attrs := SubjectAttributes("alice", "polkadot")
	require.Len(t, attrs, 2)
	assert.Equal(t, "alice", attrs[0].Value.AsString())
	assert.Equal(t, "polkadot", attrs[1].Value.AsString())
}
