package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxclip"

// Span and log attribute keys shared by the clipper and pipeline.
const (
	AttrStreamID    = attribute.Key("voxclip.stream.id")
	AttrChunkBytes  = attribute.Key("voxclip.chunk.bytes")
	AttrResumeFrom  = attribute.Key("voxclip.decode.resume_from")
	AttrUtteranceID = attribute.Key("voxclip.utterance.id")
	AttrSeq         = attribute.Key("voxclip.utterance.seq")
	AttrSampleRate  = attribute.Key("voxclip.sample_rate")
)

// Tracer returns the voxclip tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name carrying attrs. The caller ends it,
// usually through [EndSpan].
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
//
//	ctx, span := observe.StartSpan(ctx, "clipper.feed", observe.AttrStreamID.String(id))
//	defer func() { observe.EndSpan(span, err) }()
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The middleware echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, tagged with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// StreamLogger is [Logger] tagged with a stream ID.
func StreamLogger(ctx context.Context, streamID string) *slog.Logger {
	return Logger(ctx).With(slog.String("stream", streamID))
}
