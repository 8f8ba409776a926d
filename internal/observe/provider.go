package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers installed by
// [InitProvider].
type ProviderConfig struct {
	// ServiceName is reported in every metric and span resource.
	// Default: "voxloop".
	ServiceName string

	// ServiceVersion is the build version reported alongside ServiceName.
	ServiceVersion string

	// TraceExporter receives finished spans. Nil keeps spans in-process only:
	// trace IDs still flow through logs and the X-Correlation-ID header, but
	// nothing is shipped. Deployments that want full traces plug in an OTLP
	// exporter here.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs the global OTel providers for the process: a meter
// provider bridged to a Prometheus registry (scraped via GET /metrics) and a
// tracer provider with the configured exporter.
//
// It must run before the first [DefaultMetrics] call, otherwise the lazily
// built instruments bind to the no-op globals and every recording vanishes.
//
// The returned shutdown flushes both providers; main calls it during
// graceful exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "voxloop"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	shutdown = func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}
	return shutdown, nil
}
