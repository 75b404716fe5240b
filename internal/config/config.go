package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	env "github.com/netflix/go-env"
)

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port            int           `env:"PORT,default=3000"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=10s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
}

// OTelConfig holds OpenTelemetry settings as read from the environment
type OTelConfig struct {
	Enabled            bool    `env:"OTEL_ENABLED,default=false"`
	ServiceName        string  `env:"OTEL_SERVICE_NAME,default=slackvote"`
	ExporterEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT,required=false"`
	ExporterProtocol   string  `env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	ResourceAttributes string  `env:"OTEL_RESOURCE_ATTRIBUTES,required=false"`
	TracesSampler      string  `env:"OTEL_TRACES_SAMPLER,default=always_on"`
	TracesSamplerArg   float64 `env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
}

// Config bundles everything the serve command needs
type Config struct {
	Slack  *SlackConfig
	Server *ServerConfig
	OTel   *OTelConfig
}

// Load loads the complete configuration from environment variables
func Load() (*Config, error) {
	slackCfg, err := LoadSlack()
	if err != nil {
		return nil, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return nil, err
	}
	otelCfg, err := LoadOTel()
	if err != nil {
		return nil, err
	}
	return &Config{Slack: slackCfg, Server: serverCfg, OTel: otelCfg}, nil
}

// LoadServer loads listener configuration from environment variables
func LoadServer() (*ServerConfig, error) {
	var cfg ServerConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server environment variables: %w", err)
	}
	if err := validateServerConfig(&cfg); err != nil {
		return nil, fmt.Errorf("server configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadOTel loads OpenTelemetry configuration from environment variables
func LoadOTel() (*OTelConfig, error) {
	var cfg OTelConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse OpenTelemetry environment variables: %w", err)
	}
	cfg.ServiceName = strings.TrimSpace(cfg.ServiceName)
	cfg.ExporterEndpoint = strings.TrimSpace(cfg.ExporterEndpoint)
	cfg.ExporterProtocol = strings.TrimSpace(cfg.ExporterProtocol)
	cfg.TracesSampler = strings.TrimSpace(cfg.TracesSampler)
	return &cfg, nil
}

// Addr returns the listen address in host:port form
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// validateServerConfig validates listener values and fills zero durations with defaults
func validateServerConfig(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("SERVER_HOST cannot be empty")
	}
	// Host must survive being placed in a URL authority
	if _, err := url.Parse("http://" + cfg.Addr()); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", cfg.Addr(), err)
	}

	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return nil
}
