package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/baechuer/activity-sync/internal/domain"
)

const instrumentationName = "github.com/baechuer/activity-sync"

// Span attribute keys shared by the store and the chat channel.
const (
	AttrActivityID = attribute.Key("activity.id")
	AttrOp         = attribute.Key("activity_sync.op")
	AttrGeneration = attribute.Key("registry.generation")
	AttrQuery      = attribute.Key("list.query")
	AttrErrorKind  = attribute.Key("error.kind")
)

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartLoad opens a span for a read from the remote source, named
// "store.<name>".
func StartLoad(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, "store."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...))
}

// StartMutation opens the span for one store mutation on activityID.
func StartMutation(ctx context.Context, op, activityID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "store.mutation."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrOp.String(op), AttrActivityID.String(activityID)))
}

// StartChannel opens a span for a chat channel operation.
func StartChannel(ctx context.Context, op, activityID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "channel."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrOp.String(op), AttrActivityID.String(activityID)))
}

// End closes span. A non-nil err marks the span failed and tags it with the
// domain error kind.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := domain.KindOf(err); kind != "" {
			span.SetAttributes(AttrErrorKind.String(string(kind)))
		}
	}
	span.End()
}
