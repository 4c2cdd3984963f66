package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the media pipeline
type MetricsCollector struct {
	meter metric.Meter

	// Task metrics
	tasksStarted   metric.Int64Counter
	tasksCompleted metric.Int64Counter
	tasksFailed    metric.Int64Counter
	tasksActive    metric.Int64UpDownCounter
	stageDuration  metric.Float64Histogram

	// Collaborator metrics
	collaboratorCalls   metric.Int64Counter
	collaboratorLatency metric.Float64Histogram

	// Upload metrics
	grantsIssued metric.Int64Counter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool
	PrometheusPort int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("murmur")

	tasksStarted, err := meter.Int64Counter(
		"murmur.tasks.started.total",
		metric.WithDescription("Total number of processing tasks started"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_started counter: %w", err)
	}

	tasksCompleted, err := meter.Int64Counter(
		"murmur.tasks.completed.total",
		metric.WithDescription("Total number of tasks that reached completed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_completed counter: %w", err)
	}

	tasksFailed, err := meter.Int64Counter(
		"murmur.tasks.failed.total",
		metric.WithDescription("Total number of tasks that reached failed"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_failed counter: %w", err)
	}

	tasksActive, err := meter.Int64UpDownCounter(
		"murmur.tasks.active",
		metric.WithDescription("Number of tasks currently processing"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks_active gauge: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"murmur.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_duration histogram: %w", err)
	}

	collaboratorCalls, err := meter.Int64Counter(
		"murmur.collaborator.calls.total",
		metric.WithDescription("Total number of AI collaborator calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaborator_calls counter: %w", err)
	}

	collaboratorLatency, err := meter.Float64Histogram(
		"murmur.collaborator.latency",
		metric.WithDescription("AI collaborator call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaborator_latency histogram: %w", err)
	}

	grantsIssued, err := meter.Int64Counter(
		"murmur.grants.issued.total",
		metric.WithDescription("Total number of upload grants issued"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grants_issued counter: %w", err)
	}

	collector := &MetricsCollector{
		meter:               meter,
		tasksStarted:        tasksStarted,
		tasksCompleted:      tasksCompleted,
		tasksFailed:         tasksFailed,
		tasksActive:         tasksActive,
		stageDuration:       stageDuration,
		collaboratorCalls:   collaboratorCalls,
		collaboratorLatency: collaboratorLatency,
		grantsIssued:        grantsIssued,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordTaskStarted records a new task entering the pipeline
func (m *MetricsCollector) RecordTaskStarted(ctx context.Context) {
	if m.tasksStarted == nil {
		return
	}
	m.tasksStarted.Add(ctx, 1)
	m.tasksActive.Add(ctx, 1)
}

// RecordTaskFinished records a terminal transition
func (m *MetricsCollector) RecordTaskFinished(ctx context.Context, failed bool, errorKind string) {
	if m.tasksStarted == nil {
		return
	}
	m.tasksActive.Add(ctx, -1)
	if failed {
		m.tasksFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("error_kind", errorKind)))
		return
	}
	m.tasksCompleted.Add(ctx, 1)
}

// RecordStageDuration records how long a pipeline stage took
func (m *MetricsCollector) RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordCollaboratorCall records one external AI call
func (m *MetricsCollector) RecordCollaboratorCall(ctx context.Context, name string, status string, d time.Duration) {
	if m.collaboratorCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("collaborator", name),
		attribute.String("status", status),
	)
	m.collaboratorCalls.Add(ctx, 1, attrs)
	m.collaboratorLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordGrantIssued records one upload grant issuance
func (m *MetricsCollector) RecordGrantIssued(ctx context.Context, contentType string) {
	if m.grantsIssued == nil {
		return
	}
	m.grantsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("content_type", contentType)))
}
