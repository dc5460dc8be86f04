package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans emitted by the gateway in whatever trace
// backend the process is wired to (the otel SDK wiring itself is a
// deployment concern, out of scope for this repository).
const tracerName = "semantic-cache-gateway"

// StartSpan starts a span named "<component>.<operation>" using the global
// otel TracerProvider, matching the teacher's observability.StartSpan
// convention of wrapping cache/orchestrator operations without requiring
// callers to carry a Tracer reference around.
func StartSpan(ctx context.Context, component, operation string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, component+"."+operation)
}
