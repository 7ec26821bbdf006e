package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ggoodman/mcp-obsidian-go"

// Config selects exporters.
type Config struct {
	// OTLPEndpoint is an OTLP/HTTP base URL such as http://collector:4318.
	// Tracing is disabled when empty.
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
}

// Option configures Setup.
type Option func(*setupOptions)

type setupOptions struct {
	readers []sdkmetric.Reader
}

// WithMetricReader attaches a metric reader. Without one, metrics are
// discarded.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *setupOptions) { o.readers = append(o.readers, r) }
}

// Providers bundles the configured providers.
type Providers struct {
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider
}

// Observer builds a ToolObserver from p.
func (p Providers) Observer() (*ToolObserver, error) {
	return NewToolObserver(p.Meter.Meter(instrumentationName), p.Tracer.Tracer(instrumentationName))
}

// Setup builds trace and meter providers from cfg and installs the tracer
// provider globally. The returned func flushes and stops exporters.
func Setup(ctx context.Context, cfg Config, opts ...Option) (Providers, func(context.Context) error, error) {
	var so setupOptions
	for _, opt := range opts {
		opt(&so)
	}

	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	p := Providers{
		Tracer: tracenoop.NewTracerProvider(),
		Meter:  metricnoop.NewMeterProvider(),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
		if err != nil {
			return Providers{}, nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		shutdowns = append(shutdowns, tp.Shutdown)
		p.Tracer = tp
		otel.SetTracerProvider(tp)
	}

	if len(so.readers) > 0 {
		mopts := []sdkmetric.Option{sdkmetric.WithResource(res)}
		for _, r := range so.readers {
			mopts = append(mopts, sdkmetric.WithReader(r))
		}
		mp := sdkmetric.NewMeterProvider(mopts...)
		shutdowns = append(shutdowns, mp.Shutdown)
		p.Meter = mp
	}

	return p, shutdown, nil
}
