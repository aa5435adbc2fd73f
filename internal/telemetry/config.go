// Package telemetry provides OpenTelemetry instrumentation for the reconciler.
// It supports configurable tracing over OTLP and metrics over OTLP or a
// Prometheus scrape endpoint.
package telemetry

import "fmt"

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "npm-step-reconciler"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate (5%)
	DefaultSampling = 0.05
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled controls whether telemetry is enabled globally.
	// When false, no telemetry providers are initialized.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`

	// ServiceName defaults to "npm-step-reconciler"
	ServiceName string `mapstructure:"serviceName" yaml:"serviceName,omitempty" toml:"serviceName,omitempty"`

	// ServiceVersion defaults to the application version
	ServiceVersion string `mapstructure:"serviceVersion" yaml:"serviceVersion,omitempty" toml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector endpoint in "host:port" form.
	// Defaults to "localhost:4318".
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`

	// Insecure allows HTTP connections instead of HTTPS
	Insecure bool `mapstructure:"insecure" yaml:"insecure,omitempty" toml:"insecure,omitempty"`

	Tracing *TracingConfig `mapstructure:"tracing" yaml:"tracing,omitempty" toml:"tracing,omitempty"`
	Metrics *MetricsConfig `mapstructure:"metrics" yaml:"metrics,omitempty" toml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`

	// Sampling controls the trace sampling rate in (0.0, 1.0].
	// Nil means DefaultSampling.
	Sampling *float64 `mapstructure:"sampling" yaml:"sampling,omitempty" toml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`

	// Prometheus replaces the OTLP push exporter with a pull reader served
	// at /metrics on the ops server.
	Prometheus bool `mapstructure:"prometheus" yaml:"prometheus,omitempty" toml:"prometheus,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetInsecure returns the insecure flag
func (c *Config) GetInsecure() bool {
	return c.Insecure
}

// GetSampling returns the sampling ratio, or DefaultSampling when unset.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate validates the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled || c.Sampling == nil {
		return nil
	}

	sampling := *c.Sampling
	if sampling <= 0 || sampling > 1.0 {
		return fmt.Errorf("sampling must be greater than 0.0 and at most 1.0, got %f", sampling)
	}

	return nil
}

// UsesPrometheus reports whether metrics should be exposed for scraping.
func (c *Config) UsesPrometheus() bool {
	return c.metricsEnabled() && c.Metrics.Prometheus
}

func (c *Config) tracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

func (c *Config) metricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}
