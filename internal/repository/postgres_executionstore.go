package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mcp-gateway/backend/pkg/models"
)

const createExecutionsTable = `CREATE TABLE IF NOT EXISTS workflow_executions (
	execution_id   TEXT PRIMARY KEY,
	workflow_id    TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL,
	status         TEXT NOT NULL,
	report         JSONB NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workflow_executions_started_at_idx ON workflow_executions (started_at DESC);`

// PostgresExecutionStore is a PostgreSQL implementation of the ExecutionStore interface.
type PostgresExecutionStore struct {
	db *pgxpool.Pool
}

// NewPostgresExecutionStore creates a new PostgresExecutionStore.
func NewPostgresExecutionStore(db *pgxpool.Pool) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

// EnsureSchema creates the executions table if it does not exist.
func (s *PostgresExecutionStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createExecutionsTable); err != nil {
		return fmt.Errorf("failed to create workflow_executions table: %w", err)
	}
	return nil
}

// Save upserts the report keyed by execution id.
func (s *PostgresExecutionStore) Save(ctx context.Context, report *models.ExecutionReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode execution report: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO workflow_executions (execution_id, workflow_id, correlation_id, status, report, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (execution_id) DO UPDATE SET status = EXCLUDED.status, report = EXCLUDED.report, updated_at = now()`,
		report.ExecutionID, report.WorkflowID, report.CorrelationID, string(report.Status), string(data), report.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", report.ExecutionID, err)
	}
	return nil
}

// Get retrieves a report by its execution id.
func (s *PostgresExecutionStore) Get(ctx context.Context, executionID string) (*models.ExecutionReport, error) {
	var data []byte
	err := s.db.QueryRow(ctx, "SELECT report FROM workflow_executions WHERE execution_id = $1", executionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	return decodeReport(data)
}

// List returns the most recently started reports.
func (s *PostgresExecutionStore) List(ctx context.Context, limit int) ([]*models.ExecutionReport, error) {
	rows, err := s.db.Query(ctx, "SELECT report FROM workflow_executions ORDER BY started_at DESC LIMIT $1", normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var reports []*models.ExecutionReport
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeReport(data)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Close closes the underlying pool.
func (s *PostgresExecutionStore) Close() error {
	s.db.Close()
	return nil
}

func decodeReport(data []byte) (*models.ExecutionReport, error) {
	var r models.ExecutionReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode execution report: %w", err)
	}
	return &r, nil
}
