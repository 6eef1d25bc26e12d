// Package workflow executes ordered sequences of tool calls as one operation.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/observability"
	"mcp-gateway/backend/pkg/models"
)

// ErrorPolicy decides what happens after a failed step.
type ErrorPolicy string

// PolicyFailFast stops at the first failed step. It is the only policy
// implemented; continue-on-error and rollback are deliberately unsupported.
const PolicyFailFast ErrorPolicy = "fail_fast"

// ParsePolicy validates a configured policy name. Empty means fail-fast.
func ParsePolicy(name string) (ErrorPolicy, error) {
	switch ErrorPolicy(strings.ToLower(strings.TrimSpace(name))) {
	case "", PolicyFailFast:
		return PolicyFailFast, nil
	default:
		return "", fmt.Errorf("unsupported workflow error policy %q", name)
	}
}

// Router routes a single tool request.
type Router interface {
	Route(ctx context.Context, req models.ToolRequest) models.ToolResult
}

// Recorder persists execution snapshots. It is called after every step and
// once more when the workflow terminates.
type Recorder interface {
	Save(ctx context.Context, report *models.ExecutionReport) error
}

// Engine runs workflows step by step through a Router. It holds no state
// across executions, so concurrent Execute calls are independent.
type Engine struct {
	router   Router
	policy   ErrorPolicy
	recorder Recorder
	metrics  observability.Metrics
	tracer   trace.Tracer
	logger   *logging.Logger
	now      func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRecorder persists a snapshot of the report after every step.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithPolicy sets the error policy.
func WithPolicy(p ErrorPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMetrics records workflow metrics.
func WithMetrics(m observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer overrides the tracer used for workflow spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a new Engine.
func NewEngine(router Router, opts ...Option) (*Engine, error) {
	e := &Engine{
		router:  router,
		policy:  PolicyFailFast,
		metrics: observability.NoopMetrics{},
		tracer:  observability.Tracer(),
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy != PolicyFailFast {
		return nil, fmt.Errorf("unsupported workflow error policy %q", e.policy)
	}
	return e, nil
}

// Execute runs def's steps in order and returns the final report. Every step
// shares one correlation id: def.CorrelationID when set, otherwise a new one.
func (e *Engine) Execute(ctx context.Context, def models.WorkflowDefinition) *models.ExecutionReport {
	correlationID := def.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	report := &models.ExecutionReport{
		ExecutionID:   uuid.New().String(),
		WorkflowID:    def.ID,
		WorkflowName:  def.Name,
		CorrelationID: correlationID,
		Status:        models.ExecutionRunning,
		StepResults:   make([]models.ToolResult, 0, len(def.Steps)),
		StartedAt:     e.now().UTC(),
	}

	ctx, span := e.tracer.Start(ctx, "workflow.Execute", trace.WithAttributes(
		observability.AttrWorkflowID.String(def.ID),
		observability.AttrCorrelationID.String(correlationID),
	))
	defer span.End()

	log := e.logger.With("workflow_id", def.ID, "workflow_name", def.Name,
		"execution_id", report.ExecutionID, "correlation_id", correlationID)
	log.Info("executing workflow", "steps", len(def.Steps))
	e.record(ctx, log, report)

	outputs := make([]any, 0, len(def.Steps))
	for i, step := range def.Steps {
		if ctx.Err() != nil {
			e.finish(ctx, log, report, models.ExecutionAborted, i)
			break
		}

		result := e.runStep(ctx, log, step, i, len(def.Steps), outputs, correlationID)
		report.StepResults = append(report.StepResults, result)

		if !result.Success {
			status := models.ExecutionFailed
			if ctx.Err() != nil {
				status = models.ExecutionAborted
			}
			log.Error("workflow stopped at failed step",
				"step", i, "namespace", step.Namespace, "tool", step.Tool,
				"kind", result.ErrorKind, "error", result.ErrorMessage)
			e.finish(ctx, log, report, status, i)
			break
		}

		outputs = append(outputs, result.Value)
		e.record(ctx, log, report)
	}

	if !report.Status.Terminal() {
		e.finish(ctx, log, report, models.ExecutionCompleted, -1)
	}

	if report.Status != models.ExecutionCompleted {
		span.SetStatus(codes.Error, string(report.Status))
	}
	e.metrics.RecordWorkflow(ctx, report.Status, len(report.StepResults), report.FinishedAt.Sub(report.StartedAt))
	log.Info("workflow finished", "status", report.Status, "steps_run", len(report.StepResults))
	return report
}

func (e *Engine) runStep(ctx context.Context, log *logging.Logger, step models.WorkflowStep, index, total int, outputs []any, correlationID string) models.ToolResult {
	ctx, span := e.tracer.Start(ctx, "workflow.Step", trace.WithAttributes(
		observability.AttrStepIndex.Int(index),
		observability.AttrNamespace.String(step.Namespace),
		observability.AttrTool.String(step.Tool),
	))
	defer span.End()

	invalid := func(msg string) models.ToolResult {
		r := models.Failure(models.ErrorKindValidationError, msg)
		r.CorrelationID = correlationID
		r.Namespace = step.Namespace
		r.Tool = step.Tool
		span.SetStatus(codes.Error, msg)
		return r
	}

	if step.Namespace == "" || step.Tool == "" {
		return invalid(fmt.Sprintf("step %d is missing namespace or tool", index))
	}

	args, err := resolveArguments(step.Arguments, outputs, index)
	if err != nil {
		return invalid(fmt.Sprintf("step %d: %v", index, err))
	}

	log.Info("executing step", "step", index+1, "of", total, "name", step.Name,
		"namespace", step.Namespace, "tool", step.Tool)

	return e.router.Route(ctx, models.ToolRequest{
		Namespace:     step.Namespace,
		Tool:          step.Tool,
		Arguments:     args,
		CorrelationID: correlationID,
	})
}

func (e *Engine) finish(ctx context.Context, log *logging.Logger, report *models.ExecutionReport, status models.ExecutionStatus, failedAt int) {
	report.Status = status
	if failedAt >= 0 {
		idx := failedAt
		report.FailedAtStep = &idx
	}
	finished := e.now().UTC()
	report.FinishedAt = &finished
	e.record(context.WithoutCancel(ctx), log, report)
}

// record hands a snapshot to the recorder. Persistence problems are logged
// and never change the outcome of the workflow.
func (e *Engine) record(ctx context.Context, log *logging.Logger, report *models.ExecutionReport) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Save(ctx, report.Clone()); err != nil {
		log.Warn("failed to persist execution snapshot", "error", err)
	}
}
