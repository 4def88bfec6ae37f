package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
)

// SerializedContext returns a text map of the span in ctx, nil when there
// is none.
func SerializedContext(ctx context.Context) map[string]string {
	sp := opentracing.SpanFromContext(ctx)
	if sp == nil {
		return nil
	}
	serialized := make(map[string]string)
	err := opentracing.GlobalTracer().Inject(sp.Context(), opentracing.TextMap, opentracing.TextMapCarrier(serialized))
	if err != nil {
		logger.Debugf("error injecting span: %v", err)
		return nil
	}
	return serialized
}

// StartSpanFromSerialized starts childName as a child of the span described
// by serialized, or as a new root span when that cannot be rebuilt.
func StartSpanFromSerialized(ctx context.Context, serialized map[string]string, childName string) (opentracing.Span, context.Context) {
	if len(serialized) > 0 {
		spanContext, err := opentracing.GlobalTracer().Extract(opentracing.TextMap, opentracing.TextMapCarrier(serialized))
		if err == nil {
			sp := opentracing.StartSpan(childName, opentracing.ChildOf(spanContext))
			return sp, opentracing.ContextWithSpan(ctx, sp)
		}
		logger.Debugf("error rehydrating span: %v", err)
	}
	return opentracing.StartSpanFromContext(ctx, childName)
}
