// Package telemetry provides OpenTelemetry instrumentation for forged.
//
// Telemetry failures never crash the daemon; a failed provider leaves the
// instance degraded and the global no-op providers in place.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config holds telemetry settings.
type Config struct {
	Enabled bool `json:"enabled" koanf:"enabled"`

	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `json:"endpoint" koanf:"endpoint"`

	// Protocol selects the exporter transport: "grpc" or "http/protobuf".
	Protocol string `json:"protocol" koanf:"protocol"`

	Insecure      bool `json:"insecure" koanf:"insecure"`
	TLSSkipVerify bool `json:"tls_skip_verify" koanf:"tls_skip_verify"`

	// SampleRatio is the trace sampling rate, 0-1.
	SampleRatio float64 `json:"sample_ratio" koanf:"sample_ratio"`

	// MetricsIntervalSeconds is the metric export period.
	MetricsIntervalSeconds int `json:"metrics_interval_seconds" koanf:"metrics_interval_seconds"`

	ServiceName    string `json:"service_name" koanf:"service_name"`
	ServiceVersion string `json:"service_version" koanf:"service_version"`
}

// DefaultConfig returns telemetry disabled with sane export settings.
func DefaultConfig() *Config {
	return &Config{
		Enabled:                false,
		Endpoint:               "localhost:4317",
		Protocol:               "grpc",
		Insecure:               true,
		SampleRatio:            1.0,
		MetricsIntervalSeconds: 30,
		ServiceName:            "forged",
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required when enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("telemetry: unknown protocol %q", c.Protocol)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be 0-1")
	}
	return nil
}

// Telemetry owns the tracer and meter providers.
type Telemetry struct {
	config *Config

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded atomic.Bool
}

// New initializes the global OTEL providers. A disabled config returns a
// working no-op instance; exporter failures mark the instance degraded
// instead of failing startup.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{config: cfg}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.degraded.Store(true)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		t.degraded.Store(true)
	} else {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Degraded reports whether any provider failed to initialize.
func (t *Telemetry) Degraded() bool {
	return t.degraded.Load()
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
