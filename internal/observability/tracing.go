package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/censys/radio-survey/internal/logging"
)

// Tracing describes where cycle spans go. An empty Endpoint turns tracing off.
type Tracing struct {
	Endpoint    string // OTLP/gRPC collector, host:port
	ServiceName string
	SampleRatio float64
}

// StartTracing installs the global tracer provider. The returned function
// flushes buffered spans and is never nil.
func StartTracing(ctx context.Context, cfg Tracing, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	))
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	tp, err := newTracerProvider(cfg, sdktrace.WithBatcher(exp))
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Info(ctx, "tracing to collector",
		logging.String("endpoint", cfg.Endpoint),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// newTracerProvider attaches the service resource and sampler to whatever
// span processor the caller hands in.
func newTracerProvider(cfg Tracing, processor sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "radio-survey"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	ratio := cfg.SampleRatio
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	), nil
}

// ShutdownWithTimeout gives shutdown five seconds and logs a failure.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Error(err))
	}
}
