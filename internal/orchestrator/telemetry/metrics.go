// Package telemetry exposes the orchestrator's metrics in Prometheus format through OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/meetbot-dev/meetbot/pkg/models"
)

const (
	Namespace = "meetbot"

	meterName = "github.com/meetbot-dev/meetbot"
)

// Deployment outcomes
const (
	OutcomeSuccess = "success"
	OutcomeQueued  = "queued"
	OutcomeFailure = "failure"
)

// PoolSource reports pool and queue sizes for the observable gauges
type PoolSource interface {
	Stats(ctx context.Context) (*models.PoolStats, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// Metrics holds the orchestrator instruments
type Metrics struct {
	Requests        metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram
	Deployments     metric.Int64Counter

	meter    metric.Meter
	registry *prometheus.Registry
}

// InitMetrics creates a meter provider backed by a private Prometheus registry.
// The returned function shuts the provider down.
func InitMetrics(version string) (func(context.Context) error, *Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(Namespace),
		semconv.ServiceVersionKey.String(version),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	if err := runtime.Start(runtime.WithMeterProvider(provider)); err != nil {
		return nil, nil, fmt.Errorf("failed to start runtime metrics: %w", err)
	}

	meter := provider.Meter(meterName)
	m := &Metrics{meter: meter, registry: registry}

	if m.Requests, err = meter.Int64Counter(Namespace+"_http_requests",
		metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, nil, err
	}
	if m.ErrorCount, err = meter.Int64Counter(Namespace+"_http_errors",
		metric.WithDescription("Total number of HTTP requests answered with an error status")); err != nil {
		return nil, nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram(Namespace+"_http_request_duration",
		metric.WithDescription("HTTP request duration in seconds")); err != nil {
		return nil, nil, err
	}
	if m.Deployments, err = meter.Int64Counter(Namespace+"_deployments",
		metric.WithDescription("Bot deployments by platform and outcome")); err != nil {
		return nil, nil, err
	}

	return provider.Shutdown, m, nil
}

// PrometheusHandler serves the registry in the Prometheus exposition format
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDeployment counts one deployment outcome. A nil Metrics records nothing.
func (m *Metrics) RecordDeployment(ctx context.Context, platform models.PlatformType, outcome string) {
	if m == nil {
		return
	}
	m.Deployments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", string(platform)),
		attribute.String("outcome", outcome),
	))
}

// ObservePool registers gauges that read slot and queue counts at collection time
func (m *Metrics) ObservePool(source PoolSource) error {
	slots, err := m.meter.Int64ObservableGauge(Namespace+"_pool_slots",
		metric.WithDescription("Pool slots by status"))
	if err != nil {
		return err
	}
	waiting, err := m.meter.Int64ObservableGauge(Namespace+"_queue_waiting",
		metric.WithDescription("Bots waiting for a pool slot"))
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		stats, err := source.Stats(ctx)
		if err != nil {
			return err
		}
		for status, n := range map[models.SlotStatus]int{
			models.SlotStatusIdle:      stats.Idle,
			models.SlotStatusDeploying: stats.Deploying,
			models.SlotStatusHealthy:   stats.Healthy,
			models.SlotStatusError:     stats.Error,
		} {
			o.ObserveInt64(slots, int64(n), metric.WithAttributes(attribute.String("status", string(status))))
		}

		queue, err := source.QueueStats(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(waiting, int64(queue.Waiting))
		return nil
	}, slots, waiting)
	return err
}
