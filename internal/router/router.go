// Package router dispatches tool requests to the backend owning their namespace.
package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/observability"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/pkg/models"
)

// Lookup resolves a namespace to its registry entry.
type Lookup interface {
	Lookup(namespace string) (registry.Entry, error)
}

// RetryPolicy controls opt-in retries of Unreachable failures. MaxAttempts
// below 2 disables retrying.
type RetryPolicy struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// Router looks up the namespace of a request and hands it to the backend client.
type Router struct {
	registry Lookup
	invoker  backend.Invoker
	retry    RetryPolicy
	metrics  observability.Metrics
	tracer   trace.Tracer
	logger   *logging.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithRetry enables retrying Unreachable failures.
func WithRetry(p RetryPolicy) Option {
	return func(r *Router) { r.retry = p }
}

// WithMetrics records per-call metrics.
func WithMetrics(m observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithTracer overrides the tracer used for route spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

// WithLogger sets the router logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a new Router.
func New(reg Lookup, invoker backend.Invoker, opts ...Option) *Router {
	r := &Router{
		registry: reg,
		invoker:  invoker,
		metrics:  observability.NoopMetrics{},
		tracer:   observability.Tracer(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route resolves req.Namespace and invokes req.Tool on that backend. The
// backend's result is returned as is apart from the stamped correlation id,
// namespace and tool. Unknown namespaces fail without any network call.
func (r *Router) Route(ctx context.Context, req models.ToolRequest) models.ToolResult {
	ctx, span := r.tracer.Start(ctx, "router.Route", trace.WithAttributes(
		observability.AttrNamespace.String(req.Namespace),
		observability.AttrTool.String(req.Tool),
		observability.AttrCorrelationID.String(req.CorrelationID),
	))
	defer span.End()

	start := time.Now()
	result := r.route(ctx, req)
	result.CorrelationID = req.CorrelationID
	result.Namespace = req.Namespace
	result.Tool = req.Tool

	r.metrics.RecordToolCall(ctx, req.Namespace, result.ErrorKind, time.Since(start))
	if !result.Success {
		span.SetAttributes(observability.AttrErrorKind.String(string(result.ErrorKind)))
		span.SetStatus(codes.Error, result.ErrorMessage)
		r.logger.Warn("tool call failed",
			"namespace", req.Namespace, "tool", req.Tool,
			"correlation_id", req.CorrelationID,
			"kind", result.ErrorKind, "error", result.ErrorMessage)
	} else {
		r.logger.Debug("tool call succeeded",
			"namespace", req.Namespace, "tool", req.Tool,
			"correlation_id", req.CorrelationID, "duration_ms", result.DurationMs)
	}
	return result
}

func (r *Router) route(ctx context.Context, req models.ToolRequest) models.ToolResult {
	if req.Tool == "" {
		return models.Failure(models.ErrorKindValidationError, "tool name is required")
	}

	entry, err := r.registry.Lookup(req.Namespace)
	if err != nil {
		return models.Failure(models.ErrorKindUnknownNamespace, err.Error())
	}

	if r.retry.MaxAttempts < 2 {
		return r.invoker.Invoke(ctx, entry, req.Tool, req.Arguments, req.CorrelationID)
	}
	return r.invokeWithRetry(ctx, entry, req)
}

// invokeWithRetry retries only Unreachable failures; every other outcome,
// including Timeout, is final.
func (r *Router) invokeWithRetry(ctx context.Context, entry registry.Entry, req models.ToolRequest) models.ToolResult {
	eb := backoff.NewExponentialBackOff()
	if r.retry.InitialInterval > 0 {
		eb.InitialInterval = r.retry.InitialInterval
	}
	if r.retry.MaxInterval > 0 {
		eb.MaxInterval = r.retry.MaxInterval
	}
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.retry.MaxAttempts-1)), ctx)

	var result models.ToolResult
	attempt := 0
	_ = backoff.Retry(func() error {
		attempt++
		result = r.invoker.Invoke(ctx, entry, req.Tool, req.Arguments, req.CorrelationID)
		if result.Success || !result.ErrorKind.Retryable() {
			return nil
		}
		r.logger.Info("retrying unreachable backend",
			"namespace", req.Namespace, "attempt", attempt, "correlation_id", req.CorrelationID)
		return result.Err()
	}, policy)
	return result
}
