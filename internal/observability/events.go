package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// HeadersFromContext builds event headers from the request id and span carried by ctx.
func HeadersFromContext(ctx context.Context) map[string]string {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	return BuildHeaders(RequestIDFromContext(ctx), traceID)
}
