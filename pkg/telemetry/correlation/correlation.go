package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"
)

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// InjectTrace stamps correlation and tracing identifiers into message metadata.
func InjectTrace(ctx context.Context, metadata *structpb.Struct) *structpb.Struct {
	if metadata == nil {
		metadata = &structpb.Struct{}
	}
	if metadata.Fields == nil {
		metadata.Fields = map[string]*structpb.Value{}
	}

	cid := ExtractCorrelationID(ctx)
	if current, ok := metadata.Fields["correlation_id"]; ok && cid == "" {
		cid = current.GetStringValue()
	}
	if cid == "" {
		cid = ulid.Make().String()
	}

	sc := trace.SpanContextFromContext(ctx)
	metadata.Fields["correlation_id"] = structpb.NewStringValue(cid)
	if sc.IsValid() {
		metadata.Fields["trace_id"] = structpb.NewStringValue(sc.TraceID().String())
		metadata.Fields["span_id"] = structpb.NewStringValue(sc.SpanID().String())
	}
	metadata.Fields["published_at"] = structpb.NewStringValue(time.Now().UTC().Format(time.RFC3339))
	return metadata
}

// ContextWithRemoteSpan seeds the context with a remote span if valid identifiers are provided.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	return trace.ContextWithSpanContext(ctx, parent)
}
