// Package telemetry provides OpenTelemetry tracing and metrics for the API.
//
// Telemetry is off unless Options.Enabled is set. When off, no-op providers
// are installed and WrapStore returns the store untouched.
//
//	OTEL_ENABLED=true   enable telemetry
//	OTEL_STDOUT=true    pretty-print spans and metrics to stdout
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "issueprops/api"

type Options struct {
	Enabled     bool
	Stdout      bool
	ServiceName string
	Version     string
	// MetricInterval is how often metrics are exported; defaults to 30s.
	MetricInterval time.Duration
}

var (
	enabled     bool
	shutdownFns []func(context.Context) error
)

// Enabled reports whether Init installed real providers.
func Enabled() bool {
	return enabled
}

// Init configures the global OTel providers.
func Init(ctx context.Context, opts Options) error {
	enabled = opts.Enabled
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	name := opts.ServiceName
	if name == "" {
		name = "issueprops-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", name),
			attribute.String("service.version", opts.Version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	var out io.Writer = io.Discard
	if opts.Stdout {
		out = os.Stdout
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	interval := opts.MetricInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

// Shutdown flushes spans and metrics. Call it with a short-lived context.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
	enabled = false
}
