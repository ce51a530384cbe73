// Package telemetry provides OpenTelemetry instrumentation for the loader service:
// tracer and meter providers, refresh metrics and HTTP middleware.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// RefreshMetricsMeterName is the name used for the refresh metrics meter
	RefreshMetricsMeterName = "github.com/codefordc/housing-insights-loader/refresh"
)

// RefreshMetrics holds the OpenTelemetry instruments for table refreshes
type RefreshMetrics struct {
	loadDuration   metric.Float64Histogram
	runsTotal      metric.Int64Counter
	notifyFailures metric.Int64Counter
}

// NewRefreshMetrics creates a new RefreshMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewRefreshMetrics(provider metric.MeterProvider) (*RefreshMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(RefreshMetricsMeterName)

	loadDuration, err := meter.Float64Histogram(
		"hi_loader_load_duration_seconds",
		metric.WithDescription("Duration of table loads in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	runsTotal, err := meter.Int64Counter(
		"hi_loader_runs_total",
		metric.WithDescription("Number of completed refresh runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	notifyFailures, err := meter.Int64Counter(
		"hi_loader_notify_failures_total",
		metric.WithDescription("Number of reports that could not be delivered"),
		metric.WithUnit("{report}"),
	)
	if err != nil {
		return nil, err
	}

	return &RefreshMetrics{
		loadDuration:   loadDuration,
		runsTotal:      runsTotal,
		notifyFailures: notifyFailures,
	}, nil
}

// RecordLoadDuration records how long a table load took and whether it succeeded
func (m *RefreshMetrics) RecordLoadDuration(ctx context.Context, table string, duration time.Duration, success bool) {
	if m == nil || m.loadDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("table", table),
		attribute.Bool("success", success),
	}

	m.loadDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordRun counts a completed run by what started it
func (m *RefreshMetrics) RecordRun(ctx context.Context, origin string) {
	if m == nil || m.runsTotal == nil {
		return
	}

	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", origin)))
}

// RecordNotifyFailure counts a report that the notifier failed to deliver
func (m *RefreshMetrics) RecordNotifyFailure(ctx context.Context) {
	if m == nil || m.notifyFailures == nil {
		return
	}

	m.notifyFailures.Add(ctx, 1)
}
