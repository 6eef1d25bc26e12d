// Package backend talks to the tool providers registered with the gateway.
package backend

import (
	"context"

	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/pkg/models"
)

// CorrelationHeader carries the correlation id on every backend call.
const CorrelationHeader = "X-Correlation-ID"

// Invoker sends one tool invocation to one backend.
type Invoker interface {
	// Invoke calls tool on the backend described by entry. Failures are
	// reported in the result, never as a Go error, and are never retried.
	Invoke(ctx context.Context, entry registry.Entry, tool string, arguments map[string]any, correlationID string) models.ToolResult
}

// Prober checks whether a backend is alive.
type Prober interface {
	// Probe classifies the backend as healthy, unhealthy or unreachable.
	Probe(ctx context.Context, entry registry.Entry) models.NamespaceHealth
}
