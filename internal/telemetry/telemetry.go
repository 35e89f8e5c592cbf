package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds the download core's metric instruments. A zero-value
// instance (telemetry disabled) is valid: every record method no-ops.
type Telemetry struct {
	meterProvider metric.MeterProvider
	meter         metric.Meter

	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	rpcCallsTotal    metric.Int64Counter
	rpcCallDuration  metric.Float64Histogram
	sampleDuration   metric.Float64Histogram
	eventsDropped    metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool
	ServiceName string
}

// New creates a new telemetry instance backed by the Prometheus exporter.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         otel.Meter(cfg.ServiceName),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Handler returns the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Downloads by terminal status and transport kind"),
	); err != nil {
		return err
	}

	if t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"downloads_active",
		metric.WithDescription("Downloads in flight, from submission until the payload is settled, failed, or cancelled; a record seeding on past completion no longer counts"),
	); err != nil {
		return err
	}

	if t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Wall time from submission to a terminal state"),
	); err != nil {
		return err
	}

	if t.rpcCallsTotal, err = t.meter.Int64Counter(
		"daemon_rpc_calls_total",
		metric.WithDescription("Daemon RPC calls by method and outcome"),
	); err != nil {
		return err
	}

	if t.rpcCallDuration, err = t.meter.Float64Histogram(
		"daemon_rpc_duration_seconds",
		metric.WithDescription("Daemon RPC round-trip duration"),
	); err != nil {
		return err
	}

	if t.sampleDuration, err = t.meter.Float64Histogram(
		"sampler_tick_duration_seconds",
		metric.WithDescription("Duration of one full registry sampling pass"),
	); err != nil {
		return err
	}

	if t.eventsDropped, err = t.meter.Int64Counter(
		"events_dropped_total",
		metric.WithDescription("Progress events dropped because a subscriber was not draining"),
	); err != nil {
		return err
	}

	return nil
}

// RecordTerminal records a download reaching a terminal status.
func (t *Telemetry) RecordTerminal(status, kind string, duration time.Duration) {
	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("status", status),
				attribute.String("kind", kind),
			),
		)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// IncrementActiveDownloads increments the active downloads gauge.
func (t *Telemetry) IncrementActiveDownloads() {
	if t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the active downloads gauge.
func (t *Telemetry) DecrementActiveDownloads() {
	if t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordRPCCall records one daemon RPC round trip.
func (t *Telemetry) RecordRPCCall(method, outcome string, duration time.Duration) {
	if t.rpcCallsTotal != nil {
		t.rpcCallsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("outcome", outcome),
			),
		)
	}

	if t.rpcCallDuration != nil {
		t.rpcCallDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("method", method)),
		)
	}
}

// RecordSamplePass records the duration of one sampler tick.
func (t *Telemetry) RecordSamplePass(duration time.Duration) {
	if t.sampleDuration != nil {
		t.sampleDuration.Record(context.Background(), duration.Seconds())
	}
}

// RecordDroppedEvent counts an event lost to a slow subscriber.
func (t *Telemetry) RecordDroppedEvent() {
	if t.eventsDropped != nil {
		t.eventsDropped.Add(context.Background(), 1)
	}
}
