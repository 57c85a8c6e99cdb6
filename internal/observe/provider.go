package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig selects where voicedeck telemetry goes.
type ProviderConfig struct {
	// ServiceName defaults to "voicedeck".
	ServiceName    string
	ServiceVersion string

	// Registerer receives the collector behind the OTel metric bridge. Nil
	// means [prometheus.DefaultRegisterer]; whoever serves /metrics must
	// gather from the same registry.
	Registerer prometheus.Registerer

	// TraceExporter, when set, receives batched spans. Without it spans are
	// still created so correlation ids work, they are just never shipped.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs global meter and tracer providers plus the W3C
// trace-context propagator. The returned func flushes and stops both
// providers, tracer first.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var opts []promexporter.Option
	if cfg.Registerer != nil {
		opts = append(opts, promexporter.WithRegisterer(cfg.Registerer))
	}
	bridge, err := promexporter.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus bridge: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(bridge))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func serviceResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "voicedeck"
	}
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(name)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	own, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, err
	}
	return resource.Merge(resource.Default(), own)
}
