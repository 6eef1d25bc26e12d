// Package observability wires OpenTelemetry metrics and tracing for the gateway.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"mcp-gateway/backend/pkg/models"
)

// Metrics records gateway activity. Implementations must tolerate concurrent use.
type Metrics interface {
	RecordToolCall(ctx context.Context, namespace string, kind models.ErrorKind, duration time.Duration)
	RecordWorkflow(ctx context.Context, status models.ExecutionStatus, steps int, duration time.Duration)
	// RecordBackendHealth replaces every backend series with the snapshot's;
	// namespaces absent from it stop being exported.
	RecordBackendHealth(ctx context.Context, snapshot models.HealthSnapshot)
	Handler() http.Handler
}

// MetricsConfig configures Prometheus export.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PrometheusMetrics exports otel instruments through a private Prometheus registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	toolCalls        metric.Int64Counter
	toolDuration     metric.Float64Histogram
	workflowRuns     metric.Int64Counter
	workflowSteps    metric.Int64Histogram
	workflowDuration metric.Float64Histogram
	backendUp        atomic.Pointer[map[string]int64]
}

// InitMetrics builds the Metrics implementation selected by cfg.
func InitMetrics(cfg MetricsConfig) (Metrics, error) {
	if !cfg.Enabled {
		return NoopMetrics{}, nil
	}

	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter("mcp-gateway")
	m := &PrometheusMetrics{registry: reg}

	if m.toolCalls, err = meter.Int64Counter(
		"gateway_tool_calls_total",
		metric.WithDescription("Tool calls routed to backends, by namespace and outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"gateway_tool_call_duration_seconds",
		metric.WithDescription("Tool call latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.workflowRuns, err = meter.Int64Counter(
		"gateway_workflow_executions_total",
		metric.WithDescription("Workflow executions by terminal status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow counter: %w", err)
	}

	if m.workflowSteps, err = meter.Int64Histogram(
		"gateway_workflow_steps",
		metric.WithDescription("Steps executed per workflow"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow steps histogram: %w", err)
	}

	if m.workflowDuration, err = meter.Float64Histogram(
		"gateway_workflow_duration_seconds",
		metric.WithDescription("Workflow wall time in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create workflow duration histogram: %w", err)
	}

	if _, err = meter.Int64ObservableGauge(
		"gateway_backend_up",
		metric.WithDescription("1 when the backend's last probe was healthy, 0 otherwise"),
		metric.WithInt64Callback(m.observeBackends),
	); err != nil {
		return nil, fmt.Errorf("failed to create backend health gauge: %w", err)
	}

	return m, nil
}

func (m *PrometheusMetrics) RecordToolCall(ctx context.Context, namespace string, kind models.ErrorKind, duration time.Duration) {
	outcome := "success"
	if kind != models.ErrorKindNone {
		outcome = string(kind)
	}
	attrs := metric.WithAttributes(
		attribute.String("namespace", namespace),
		attribute.String("outcome", outcome),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *PrometheusMetrics) RecordWorkflow(ctx context.Context, status models.ExecutionStatus, steps int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", string(status)))
	m.workflowRuns.Add(ctx, 1, attrs)
	m.workflowSteps.Record(ctx, int64(steps), attrs)
	m.workflowDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *PrometheusMetrics) RecordBackendHealth(ctx context.Context, snapshot models.HealthSnapshot) {
	up := make(map[string]int64, len(snapshot.PerNamespace))
	for ns, h := range snapshot.PerNamespace {
		if h.Status == models.HealthHealthy {
			up[ns] = 1
		} else {
			up[ns] = 0
		}
	}
	m.backendUp.Store(&up)
}

func (m *PrometheusMetrics) observeBackends(_ context.Context, o metric.Int64Observer) error {
	up := m.backendUp.Load()
	if up == nil {
		return nil
	}
	for ns, v := range *up {
		o.Observe(v, metric.WithAttributes(attribute.String("namespace", ns)))
	}
	return nil
}

// Handler serves the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordToolCall(context.Context, string, models.ErrorKind, time.Duration) {}

func (NoopMetrics) RecordWorkflow(context.Context, models.ExecutionStatus, int, time.Duration) {}

func (NoopMetrics) RecordBackendHealth(context.Context, models.HealthSnapshot) {}

func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics disabled", http.StatusNotFound)
	})
}
