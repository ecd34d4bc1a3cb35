// Package telemetry wires OpenTelemetry tracing and metrics for the sync service.
// Metrics can be pushed over OTLP, pulled through a Prometheus endpoint, or both.
package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/stacklok/tmdb-sync/internal/versions"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "tmdb-sync"

	// DefaultEndpoint is the default OTLP endpoint for telemetry
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling rate (5%)
	DefaultSampling = 0.05

	// ExporterOTLP pushes metrics to the OTLP endpoint
	ExporterOTLP = "otlp"

	// ExporterPrometheus exposes metrics for scraping on /metrics
	ExporterPrometheus = "prometheus"

	// DefaultPushInterval is how often OTLP metrics are exported
	DefaultPushInterval = 60 * time.Second
)

// Config represents the root telemetry configuration
type Config struct {
	// Enabled controls whether telemetry is enabled globally
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "tmdb-sync"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the binary version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as "host:port"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure allows plain HTTP to the collector
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the trace sampling ratio between 0.0 and 1.0
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporters lists the metric exporters to run, "otlp" and/or "prometheus".
	// Defaults to otlp only.
	Exporters []string `yaml:"exporters,omitempty"`

	// PushInterval is how often OTLP metrics are exported, e.g. "30s". Defaults to 60s.
	PushInterval string `yaml:"pushInterval,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, falling back to the build version
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return versions.Version
	}
	return c.ServiceVersion
}

// TracingEnabled reports whether spans are exported
func (c *Config) TracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

// MetricsEnabled reports whether any metric exporter runs
func (c *Config) MetricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
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

// GetSampling returns the sampling ratio.
// Zero is treated as unset and yields DefaultSampling.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetExporters returns the configured exporters, defaulting to OTLP
func (c *MetricsConfig) GetExporters() []string {
	if len(c.Exporters) == 0 {
		return []string{ExporterOTLP}
	}
	return c.Exporters
}

// GetPushInterval returns the OTLP export interval. Invalid values are
// rejected by Validate and read as the default here.
func (c *MetricsConfig) GetPushInterval() time.Duration {
	if c == nil || c.PushInterval == "" {
		return DefaultPushInterval
	}
	d, err := time.ParseDuration(c.PushInterval)
	if err != nil || d <= 0 {
		return DefaultPushInterval
	}
	return d
}

// PrometheusEnabled reports whether the scrape endpoint should be served
func (c *MetricsConfig) PrometheusEnabled() bool {
	return c != nil && c.Enabled && slices.Contains(c.GetExporters(), ExporterPrometheus)
}

// OTLPEnabled reports whether metrics are pushed to the collector
func (c *MetricsConfig) OTLPEnabled() bool {
	return c != nil && c.Enabled && slices.Contains(c.GetExporters(), ExporterOTLP)
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	if err := c.Metrics.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metrics: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates the tracing configuration
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Sampling < 0 || c.Sampling > 1.0 {
		return fmt.Errorf("sampling must be between 0.0 and 1.0, got %f", c.Sampling)
	}
	return nil
}

// Validate validates the metrics configuration
func (c *MetricsConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	for _, e := range c.Exporters {
		if e != ExporterOTLP && e != ExporterPrometheus {
			return fmt.Errorf("unknown exporter %q, must be %q or %q", e, ExporterOTLP, ExporterPrometheus)
		}
	}
	if c.PushInterval != "" {
		if d, err := time.ParseDuration(c.PushInterval); err != nil || d <= 0 {
			return fmt.Errorf("pushInterval must be a positive duration, got %q", c.PushInterval)
		}
	}
	return nil
}
