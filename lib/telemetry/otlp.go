package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// give up on unreachable collectors quickly, the tool has to start
	// without one
	exporterDialTimeout  = 3 * time.Second
	metricExportInterval = 5 * time.Second
)

// exporterTarget is one OTLP destination from telemetry.json5. When both
// endpoints are set, grpc wins.
type exporterTarget struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

func (t exporterTarget) useGrpc() bool {
	return t.GrpcEndpoint != ""
}

func (t exporterTarget) endpoint() string {
	if t.useGrpc() {
		return t.GrpcEndpoint
	}
	return t.HttpEndpoint
}

// announce logs the destination before dialing it; a wrong endpoint
// otherwise only shows up as silently missing spans.
func (t exporterTarget) announce(signal string) {
	protocol := "http"
	if t.useGrpc() {
		protocol = "grpc"
	}
	slog.Info(signal+" exporter initialized",
		"type", protocol,
		"endpoint", t.endpoint(),
		"headers", len(t.Headers) > 0,
	)
}

type otlpConfig struct {
	Traces  exporterTarget `json:"traces"`
	Metrics exporterTarget `json:"metrics"`
}

type config struct {
	Otlp otlpConfig `json:"otlp"`
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, config config) (*trace.TracerProvider, error) {
	exporter, err := newTraceExporter(ctx, config.Otlp.Traces)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newTraceExporter(ctx context.Context, target exporterTarget) (trace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	target.announce("tracer")
	if target.useGrpc() {
		return otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(target.GrpcEndpoint),
			otlptracegrpc.WithHeaders(target.Headers),
		)
	}
	return otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(target.HttpEndpoint),
		otlptracehttp.WithHeaders(target.Headers),
	)
}

func newMetricProvider(ctx context.Context, r *resource.Resource, config config) (*metric.MeterProvider, error) {
	exporter, err := newMetricExporter(ctx, config.Otlp.Metrics)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(metricExportInterval))),
		metric.WithResource(r),
	), nil
}

func newMetricExporter(ctx context.Context, target exporterTarget) (metric.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	target.announce("metric")
	if target.useGrpc() {
		return otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(target.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(target.Headers),
		)
	}
	return otlpmetrichttp.New(
		ctx,
		otlpmetrichttp.WithEndpointURL(target.HttpEndpoint),
		otlpmetrichttp.WithHeaders(target.Headers),
	)
}
