// Package services exposes the gateway operations shared by every front-end.
package services

import (
	"context"
	"errors"

	"mcp-gateway/backend/pkg/models"
)

// ErrPersistenceDisabled is returned by execution lookups when no store is configured.
var ErrPersistenceDisabled = errors.New("execution persistence is disabled")

// ErrReloadUnsupported is returned when the gateway has no registry source to re-read.
var ErrReloadUnsupported = errors.New("registry reload is not configured")

// Gateway is the operation set behind the REST, JSON-RPC and MCP front-ends.
type Gateway interface {
	// CallTool routes one tool call. An empty correlation id is generated.
	CallTool(ctx context.Context, req models.ToolRequest) models.ToolResult
	// ExecuteWorkflow runs a workflow to completion or first failure.
	ExecuteWorkflow(ctx context.Context, def models.WorkflowDefinition) *models.ExecutionReport
	// GetExecution returns a persisted execution report.
	GetExecution(ctx context.Context, executionID string) (*models.ExecutionReport, error)
	// ListExecutions returns recent execution reports, newest first.
	ListExecutions(ctx context.Context, limit int) ([]*models.ExecutionReport, error)
	// BackendHealth probes every backend and returns a fresh snapshot.
	BackendHealth(ctx context.Context) models.HealthSnapshot
	// Liveness reports the gateway's own status.
	Liveness() models.GatewayHealth
	// Services lists the registered namespaces.
	Services() []models.ServiceInfo
	// ReloadRegistry re-reads the backend list and swaps the registry.
	ReloadRegistry(ctx context.Context) (int, error)
}
