package telemetry

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"

	"github.com/openfroyo/workorders/pkg/engine"
)

const userAgent = "froyo-orders"

// Span attribute keys.
var (
	AttrPassID     = attribute.Key("pass.id")
	AttrPassOrders = attribute.Key("pass.orders")

	AttrWorkOrder      = attribute.Key("work_order.index")
	AttrExecutionState = attribute.Key("work_order.state")
	AttrOrderAction    = attribute.Key("work_order.action")
	AttrOutcome        = attribute.Key("work_order.outcome")

	AttrStorageID         = attribute.Key("storage.id")
	AttrPreviousStorageID = attribute.Key("storage.previous_id")
	AttrSelectionStep     = attribute.Key("storage.step")
	AttrProgressReset     = attribute.Key("storage.progress_reset")

	AttrPolicyText   = attribute.Key("policy.text")
	AttrPolicyResult = attribute.Key("policy.result")

	AttrErrorKind = attribute.Key("error.kind")
	AttrErrorCode = attribute.Key("error.code")
)

// Tracer starts the spans of scheduling passes. With tracing disabled it
// hands out no-op spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer exporting to cfg.Exporter.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}, nil
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent(userAgent)),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}
}

func (t *Tracer) start(ctx context.Context, name, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("span.kind", kind))
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartPassSpan starts the root span of a scheduling pass.
func (t *Tracer) StartPassSpan(ctx context.Context, passID string, orders int) (context.Context, trace.Span) {
	return t.start(ctx, "scheduler.pass", "pass", AttrPassID.String(passID), AttrPassOrders.Int(orders))
}

// StartWorkOrderSpan starts the span of one work order's evaluation.
func (t *Tracer) StartWorkOrderSpan(ctx context.Context, index int64, state string) (context.Context, trace.Span) {
	return t.start(ctx, "work_order.evaluate", "work_order", AttrWorkOrder.Int64(index), AttrExecutionState.String(state))
}

// StartSelectionSpan starts the span of a storage selection.
func (t *Tracer) StartSelectionSpan(ctx context.Context, index int64, previousID string) (context.Context, trace.Span) {
	return t.start(ctx, "storage.select", "storage", AttrWorkOrder.Int64(index), AttrPreviousStorageID.String(previousID))
}

// StartPolicySpan starts the span of a policy evaluation.
func (t *Tracer) StartPolicySpan(ctx context.Context, index int64, text string) (context.Context, trace.Span) {
	return t.start(ctx, "policy.evaluate", "policy", AttrWorkOrder.Int64(index), AttrPolicyText.String(text))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError marks span failed with the error's kind and code.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	kind := engine.KindOf(err)
	span.RecordError(err)
	span.SetAttributes(AttrErrorKind.String(string(kind)), AttrErrorCode.String(strconv.Itoa(kind.Code())))
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks span successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AnnotateOutcome records what a pass did with a work order.
func AnnotateOutcome(span trace.Span, outcome, state string) {
	span.SetAttributes(AttrOutcome.String(outcome), AttrExecutionState.String(state))
}

// AnnotatePolicy records a policy result (pass, fail, invalid).
func AnnotatePolicy(span trace.Span, result string) {
	span.SetAttributes(AttrPolicyResult.String(result))
}

// AnnotateSelection records the backend a selection settled on.
func AnnotateSelection(span trace.Span, storageID, step string, progressReset bool) {
	span.SetAttributes(
		AttrStorageID.String(storageID),
		AttrSelectionStep.String(step),
		AttrProgressReset.Bool(progressReset),
	)
}

// AddWorkOrderEvent adds a span event for a change made to a work order.
func AddWorkOrderEvent(span trace.Span, index int64, eventType engine.EventType, message string, attrs ...attribute.KeyValue) {
	attrs = append(attrs,
		AttrWorkOrder.Int64(index),
		attribute.String("event.message", message),
	)
	span.AddEvent(string(eventType), trace.WithAttributes(attrs...))
}
