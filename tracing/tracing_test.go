package tracing

import (
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSystem(t *testing.T) {
	for name, expected := range map[string]System{"": NoTracing, "jaeger": JaegerTracing, "elastic": ElasticTracing} {
		s, err := ParseSystem(name)
		require.Nil(t, err)
		assert.Equal(t, expected, s)
	}
	_, err := ParseSystem("zipkin")
	assert.NotNil(t, err)
}

func TestSpanCrossesSerialization(t *testing.T) {
	tracer := mocktracer.New()
	previous := opentracing.GlobalTracer()
	opentracing.SetGlobalTracer(tracer)
	defer opentracing.SetGlobalTracer(previous)

	parent, ctx := opentracing.StartSpanFromContext(context.Background(), "initiator")
	serialized := SerializedContext(ctx)
	require.NotEmpty(t, serialized)

	child, _ := StartSpanFromSerialized(context.Background(), serialized, "responder")
	child.Finish()
	parent.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)
}

func TestSerializedContextWithoutSpan(t *testing.T) {
	assert.Nil(t, SerializedContext(context.Background()))
	sp, ctx := StartSpanFromSerialized(context.Background(), nil, "root")
	defer sp.Finish()
	assert.NotNil(t, opentracing.SpanFromContext(ctx))
}
