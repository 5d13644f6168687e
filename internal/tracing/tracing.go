// Package tracing wraps OpenTelemetry span creation for sync operations.
// Without a configured provider the global no-op tracer is used.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scope = "wsgraph"

// Span names.
const (
	SpanHandleEvent = "wsgraph.event.handle"
	SpanBackfill    = "wsgraph.backfill.run"
	SpanContainer   = "wsgraph.backfill.container"
	SpanFlush       = "wsgraph.sink.flush"
)

// Attribute keys.
const (
	AttrRunID       = "wsgraph.run_id"
	AttrContainerID = "wsgraph.container_id"
	AttrObjectID    = "wsgraph.object_id"
	AttrEventType   = "wsgraph.event_type"
	AttrCollection  = "wsgraph.collection"
	AttrDocuments   = "wsgraph.documents"
	AttrStatus      = "wsgraph.status"
)

// Start opens a span under the wsgraph tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(scope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrStatus, "error"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(AttrStatus, "success"))
	}
	span.End()
}

// Container returns the container id attribute.
func Container(id int64) attribute.KeyValue {
	return attribute.Int64(AttrContainerID, id)
}

// Object returns the object id attribute.
func Object(id int64) attribute.KeyValue {
	return attribute.Int64(AttrObjectID, id)
}

// EventType returns the event type attribute.
func EventType(t string) attribute.KeyValue {
	return attribute.String(AttrEventType, t)
}

// Collection returns the collection attribute.
func Collection(name string) attribute.KeyValue {
	return attribute.String(AttrCollection, name)
}

// Documents returns the document count attribute.
func Documents(n int) attribute.KeyValue {
	return attribute.Int(AttrDocuments, n)
}

// RunID returns the run id attribute.
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}
