package game

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRoundSpanCoversOneRound(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	f := newFixture(t, testOptions())
	f.s.tracer = tp.Tracer("test")

	f.joinShared("a", "b")
	f.readyAll("a", "b")
	assert.Empty(t, rec.Ended())
	require.Len(t, rec.Started(), 1)

	f.ackTruthfully("a", "b")
	require.NoError(t, f.s.ReceiveVote("a", []string{"b"}))
	require.NoError(t, f.s.ReceiveVote("b", []string{"a"}))
	f.timers.fire(t, TimerRound)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "game.round", spans[0].Name())

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, int64(1), attrs["round.number"].AsInt64())
	assert.Equal(t, "TEST01", attrs["session.id"].AsString())
	assert.Equal(t, []string{"a", "b"}, attrs["round.correct_owners"].AsStringSlice())
}
