// OpenTelemetry tracing support for shutdown and tool observability.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with service-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include tool results in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFrom wraps an existing OpenTelemetry tracer.
func NewTracerFrom(t trace.Tracer, debug bool) *Tracer {
	return &Tracer{tracer: t, debug: debug}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// --- Shutdown Spans ---

// StartShutdownSpan starts the root span of a shutdown run.
func (t *Tracer) StartShutdownSpan(ctx context.Context, reason string, timeout time.Duration) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("shutdown.reason", reason),
		attribute.String("shutdown.timeout", timeout.String()),
	)
	return ctx, span
}

// EndShutdownSpan ends the root shutdown span.
func (t *Tracer) EndShutdownSpan(span trace.Span, err error) {
	endWithError(span, err)
}

// StartPhaseSpan starts a span for one shutdown phase.
func (t *Tracer) StartPhaseSpan(ctx context.Context, phase string, steps int) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown."+phase)
	span.SetAttributes(
		attribute.String("shutdown.phase", phase),
		attribute.Int("shutdown.steps", steps),
	)
	return ctx, span
}

// EndPhaseSpan ends a phase span, marking it failed when any step failed.
func (t *Tracer) EndPhaseSpan(span trace.Span, failed int) {
	span.SetAttributes(attribute.Int("shutdown.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d steps failed", failed))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Tool Spans ---

// ToolSpanOptions contains options for tool execution spans.
type ToolSpanOptions struct {
	Tool   string
	Args   map[string]interface{}
	Result string // Only included if debug=true
}

// StartToolSpan starts a span for a tool execution.
func (t *Tracer) StartToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "tool."+toolName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("tool.name", toolName))
	return ctx, span
}

// EndToolSpan ends a tool span with attributes.
func (t *Tracer) EndToolSpan(span trace.Span, opts ToolSpanOptions, err error) {
	for k, v := range opts.Args {
		span.SetAttributes(attribute.String("tool.arg."+k, truncateAny(v, 500)))
	}

	// Result only in debug mode (may contain window titles)
	if t.debug && opts.Result != "" {
		span.SetAttributes(attribute.String("tool.result", truncate(opts.Result, 4000)))
	}

	endWithError(span, err)
}

// --- RPC Spans ---

// StartRPCSpan starts a server span for a JSON-RPC request.
func (t *Tracer) StartRPCSpan(ctx context.Context, transport, method string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "rpc."+method, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
		attribute.String("rpc.transport", transport),
	)
	return ctx, span
}

// EndRPCSpan ends a JSON-RPC span.
func (t *Tracer) EndRPCSpan(span trace.Span, err error) {
	endWithError(span, err)
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func truncateAny(v interface{}, maxLen int) string {
	switch val := v.(type) {
	case string:
		return truncate(val, maxLen)
	case []byte:
		return truncate(string(val), maxLen)
	default:
		return truncate(fmt.Sprint(v), maxLen)
	}
}
