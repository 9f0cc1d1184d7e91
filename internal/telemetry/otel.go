package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Providers bundles the OpenTelemetry tracer and meter providers together
// with their shutdown hooks. Spans and OTLP-shaped metrics are written to a
// single stream (stderr in the default wiring) so they never interleave with
// protocol traffic on stdout.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	shutdowns []func(context.Context) error
}

// ProviderOption configures NewProviders.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	metricInterval time.Duration
	sampleRatio    float64
}

// WithMetricInterval sets how often the periodic reader exports metrics.
func WithMetricInterval(d time.Duration) ProviderOption {
	return func(o *providerOptions) {
		if d > 0 {
			o.metricInterval = d
		}
	}
}

// WithSampleRatio sets the trace sampling ratio in [0,1]. 1 samples every
// trace.
func WithSampleRatio(r float64) ProviderOption {
	return func(o *providerOptions) {
		if r >= 0 && r <= 1 {
			o.sampleRatio = r
		}
	}
}

// NewProviders builds tracer and meter providers exporting to w and installs
// them as the otel globals. Callers must invoke Shutdown to flush pending
// spans and metrics.
func NewProviders(w io.Writer, service, version string, opts ...ProviderOption) (*Providers, error) {
	o := providerOptions{
		metricInterval: 60 * time.Second,
		sampleRatio:    1.0,
	}
	for _, opt := range opts {
		opt(&o)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	)

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.sampleRatio))),
	)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(w)))
	if err != nil {
		shutdownQuietly(tp.Shutdown)
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			metricExp,
			sdkmetric.WithInterval(o.metricInterval),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Providers{
		TracerProvider: tp,
		MeterProvider:  mp,
		shutdowns: []func(context.Context) error{
			tp.Shutdown,
			mp.Shutdown,
		},
	}, nil
}

// Noop returns providers that record nothing. Used when telemetry is
// disabled and in tests.
func Noop() *Providers {
	return &Providers{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}
}

// Tracer returns a named tracer from the bundled provider.
func (p *Providers) Tracer(name string) trace.Tracer {
	return p.TracerProvider.Tracer(name)
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdowns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func shutdownQuietly(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = fn(ctx)
}
