// Package telemetry initializes OpenTelemetry exporters and holds the
// engine's instrument set.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// If endpoint is empty, OTEL is disabled and no-op providers are used.
// Returns a shutdown function that must be called during graceful
// shutdown.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Instruments is the engine's counter set. With no exporter configured
// the counters are no-ops, so the hot paths record unconditionally.
type Instruments struct {
	TemplatesCreated   metric.Int64Counter
	TemplatesCompiled  metric.Int64Counter
	ExecutionsRecorded metric.Int64Counter
	AnomaliesDetected  metric.Int64Counter
}

// NewInstruments registers the engine counters on the given scope.
func NewInstruments(scope string) (*Instruments, error) {
	meter := Meter(scope)

	created, err := meter.Int64Counter("quill.templates.created",
		metric.WithDescription("Templates created"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	compiled, err := meter.Int64Counter("quill.templates.compiled",
		metric.WithDescription("Template compilations"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	executions, err := meter.Int64Counter("quill.executions.recorded",
		metric.WithDescription("Execution records ingested"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	anomalies, err := meter.Int64Counter("quill.anomalies.detected",
		metric.WithDescription("Anomalies flagged"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}

	return &Instruments{
		TemplatesCreated:   created,
		TemplatesCompiled:  compiled,
		ExecutionsRecorded: executions,
		AnomaliesDetected:  anomalies,
	}, nil
}
