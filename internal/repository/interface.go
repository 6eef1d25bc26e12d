// Package repository persists workflow execution reports.
package repository

import (
	"context"
	"errors"

	"mcp-gateway/backend/pkg/models"
)

// ErrNotFound is returned when no execution has the requested id.
var ErrNotFound = errors.New("execution not found")

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 20

// ExecutionStore is an interface for storing and retrieving execution reports.
type ExecutionStore interface {
	// Save inserts or replaces the report with the same execution id.
	Save(ctx context.Context, report *models.ExecutionReport) error
	// Get retrieves a report by its execution id.
	Get(ctx context.Context, executionID string) (*models.ExecutionReport, error)
	// List returns the most recently started reports, newest first.
	List(ctx context.Context, limit int) ([]*models.ExecutionReport, error)
	// Close releases the store's connections.
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
