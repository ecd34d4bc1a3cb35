package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider builds a meter provider with one reader per configured
// exporter and installs it as the global provider. reg receives the
// Prometheus collector and must be set when that exporter is enabled.
// A nil config or disabled metrics yields a no-op provider.
func NewMeterProvider(ctx context.Context, cfg *Config, reg prometheus.Registerer) (metric.MeterProvider, error) {
	if !cfg.MetricsEnabled() {
		slog.Info("Metrics disabled, using no-op meter provider")
		return noop.NewMeterProvider(), nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	readers, err := metricReaders(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		providerOpts = append(providerOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(providerOpts...)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized",
		"exporters", cfg.Metrics.GetExporters(),
		"endpoint", cfg.GetEndpoint(),
		"push_interval", cfg.Metrics.GetPushInterval().String(),
	)
	return mp, nil
}

func metricReaders(ctx context.Context, cfg *Config, reg prometheus.Registerer) ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	if cfg.Metrics.OTLPEnabled() {
		exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.GetEndpoint())}
		if cfg.GetInsecure() {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.Metrics.GetPushInterval())))
	}

	if cfg.Metrics.PrometheusEnabled() {
		if reg == nil {
			return nil, errors.New("prometheus exporter requires a registerer")
		}
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		readers = append(readers, exporter)
	}

	return readers, nil
}
