// Package observability wires OpenTelemetry tracing and metrics for the webhook server.
package observability

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ca-srg/slackvote/internal/config"
)

const (
	defaultServiceName     = "slackvote"
	protocolHTTP           = "http/protobuf"
	protocolGRPC           = "grpc"
	resourceServiceNameKey = "service.name"
	defaultMetricInterval  = 60 * time.Second
	samplerTraceIDRatio    = "traceidratio"
	samplerAlwaysOn        = "always_on"
)

// Settings are the resolved telemetry options
type Settings struct {
	Enabled              bool
	ServiceName          string
	ExporterEndpoint     string
	ExporterProtocol     string
	ResourceAttributes   map[string]string
	TracesSampler        string
	TracesSamplerArg     float64
	MetricExportInterval time.Duration
}

// NewSettings resolves and validates settings from the environment configuration.
// ServiceName always wins over a service.name entry in ResourceAttributes.
func NewSettings(cfg *config.OTelConfig) (*Settings, error) {
	if cfg == nil {
		return nil, fmt.Errorf("observability: nil configuration provided")
	}

	attrs, err := parseResourceAttributes(cfg.ResourceAttributes)
	if err != nil {
		return nil, fmt.Errorf("observability: failed to parse resource attributes: %w", err)
	}

	s := &Settings{
		Enabled:            cfg.Enabled,
		ServiceName:        strings.TrimSpace(cfg.ServiceName),
		ExporterEndpoint:   strings.TrimSpace(cfg.ExporterEndpoint),
		ExporterProtocol:   strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)),
		ResourceAttributes: attrs,
		TracesSampler:      strings.ToLower(strings.TrimSpace(cfg.TracesSampler)),
		TracesSamplerArg:   cfg.TracesSamplerArg,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.ServiceName == "" {
		s.ServiceName = defaultServiceName
	}
	if s.ExporterProtocol == "" {
		s.ExporterProtocol = protocolHTTP
	}
	if s.TracesSampler == "" {
		s.TracesSampler = samplerAlwaysOn
	}
	if s.MetricExportInterval <= 0 {
		s.MetricExportInterval = defaultMetricInterval
	}
	// OTEL_SERVICE_NAME takes precedence over service.name in OTEL_RESOURCE_ATTRIBUTES
	s.ResourceAttributes[resourceServiceNameKey] = s.ServiceName

	if !s.Enabled {
		return nil
	}

	if s.ExporterEndpoint == "" {
		return fmt.Errorf("observability: OTEL_EXPORTER_OTLP_ENDPOINT is required when OpenTelemetry is enabled")
	}

	switch s.ExporterProtocol {
	case protocolHTTP:
		parsed, err := url.Parse(s.ExporterEndpoint)
		if err != nil {
			return fmt.Errorf("observability: invalid OTLP exporter endpoint: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("observability: OTLP endpoint must use http or https with the http/protobuf protocol")
		}
		if parsed.Host == "" {
			return fmt.Errorf("observability: OTLP endpoint must include a host")
		}
	case protocolGRPC:
		if _, _, err := parseGRPCEndpoint(s.ExporterEndpoint); err != nil {
			return fmt.Errorf("observability: invalid OTLP gRPC endpoint: %w", err)
		}
	default:
		return fmt.Errorf("observability: unsupported OTLP exporter protocol %q", s.ExporterProtocol)
	}

	if s.TracesSamplerArg < 0 {
		return fmt.Errorf("observability: traces sampler argument must be non-negative")
	}
	if s.TracesSampler == samplerTraceIDRatio && (s.TracesSamplerArg <= 0 || s.TracesSamplerArg > 1) {
		return fmt.Errorf("observability: traces sampler argument must be in (0, 1] for traceidratio")
	}
	return nil
}

// parseResourceAttributes reads "k1=v1,k2=v2"
func parseResourceAttributes(input string) (map[string]string, error) {
	attributes := make(map[string]string)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid resource attribute %q", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("resource attribute key cannot be empty")
		}
		attributes[key] = strings.TrimSpace(value)
	}
	return attributes, nil
}
