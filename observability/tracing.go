package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/polybus/polybus"
)

// InitTracer initializes OpenTelemetry tracing with an OTLP/gRPC exporter
// pointed at collectorEndpoint and registers it as the global tracer
// provider. The returned function flushes and shuts the provider down and
// must be called on process exit.
func InitTracer(busName, collectorEndpoint string) (func(context.Context) error, error) {
	ctx := context.Background()

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(collectorEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(busName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracing is a pipeline middleware that wraps each transaction dispatch in
// a span. Incoming spans are named after the incoming message's type
// (without version); outgoing spans are all named "polybus.outgoing".
type Tracing struct {
	Tracer oteltrace.Tracer
}

// NewTracing returns a Tracing middleware using the global tracer provider
// under the given instrumentation name.
func NewTracing(instrumentationName string) *Tracing {
	return &Tracing{Tracer: otel.Tracer(instrumentationName)}
}

// Handler implements polybus.HandlerFunc's shape.
func (t *Tracing) Handler() polybus.HandlerFunc {
	return func(ctx context.Context, tx polybus.Transaction, next polybus.NextFunc) error {
		name := "polybus.outgoing"
		if itx, ok := tx.(*polybus.IncomingTransaction); ok {
			name = itx.Incoming.Info.ToString(false)
		}

		ctx, span := t.Tracer.Start(ctx, name)
		defer span.End()

		span.SetAttributes(
			attribute.String("messaging.system", "polybus"),
			attribute.String("messaging.destination", tx.Bus().Name()),
		)

		err := next(ctx, tx)
		if err != nil {
			span.RecordError(err)
		}
		return err
	}
}
