package observability

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlpmetrichttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/ca-srg/slackvote/internal/config"
)

// Init installs global tracer and meter providers. With telemetry disabled the providers
// are still installed but never sample or export.
func Init(ctx context.Context, cfg *config.OTelConfig) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	settings, err := NewSettings(cfg)
	if err != nil {
		return noop, err
	}

	tp, err := newTracerProvider(ctx, settings)
	if err != nil {
		return noop, err
	}
	mp, err := newMeterProvider(ctx, settings)
	if err != nil {
		_ = NewShutdownFunc(tp, nil)(ctx)
		return noop, err
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return NewShutdownFunc(tp, mp), nil
}

func newTracerProvider(ctx context.Context, s *Settings) (*sdktrace.TracerProvider, error) {
	if !s.Enabled {
		return sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample())), nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch s.ExporterProtocol {
	case protocolGRPC:
		endpoint, insecure, perr := parseGRPCEndpoint(s.ExporterEndpoint)
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", perr)
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		endpoint, perr := signalURL(s.ExporterEndpoint, "/v1/traces")
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", perr)
		}
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create OTLP trace exporter: %w", err)
	}

	res, err := newResource(ctx, s)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(s)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	), nil
}

func newMeterProvider(ctx context.Context, s *Settings) (*sdkmetric.MeterProvider, error) {
	if !s.Enabled {
		return sdkmetric.NewMeterProvider(), nil
	}

	var (
		exporter sdkmetric.Exporter
		err      error
	)
	switch s.ExporterProtocol {
	case protocolGRPC:
		endpoint, insecure, perr := parseGRPCEndpoint(s.ExporterEndpoint)
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", perr)
		}
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
		if insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
	default:
		endpoint, perr := signalURL(s.ExporterEndpoint, "/v1/metrics")
		if perr != nil {
			return nil, fmt.Errorf("observability: invalid OTLP HTTP endpoint: %w", perr)
		}
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(endpoint)}
		if strings.HasPrefix(endpoint, "http://") {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("observability: failed to create OTLP metric exporter: %w", err)
	}

	res, err := newResource(ctx, s)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(s.MetricExportInterval))),
	), nil
}

func sampler(s *Settings) sdktrace.Sampler {
	switch s.TracesSampler {
	case "always_off":
		return sdktrace.NeverSample()
	case samplerTraceIDRatio:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.TracesSamplerArg))
	case "parentbased_always_on":
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.AlwaysSample()
	}
}

func newResource(ctx context.Context, s *Settings) (*resource.Resource, error) {
	attrs := make([]attribute.KeyValue, 0, len(s.ResourceAttributes))
	attrs = append(attrs, attribute.String(resourceServiceNameKey, s.ServiceName))
	for key, value := range s.ResourceAttributes {
		if strings.EqualFold(key, resourceServiceNameKey) {
			continue
		}
		attrs = append(attrs, attribute.String(key, value))
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to build resource information: %w", err)
	}
	return res, nil
}
