package repository

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"

	"mcp-gateway/backend/pkg/models"
)

// DefaultMaxExecutions bounds a MemoryExecutionStore created without a capacity.
const DefaultMaxExecutions = 1000

// MemoryExecutionStore keeps up to a fixed number of reports in process
// memory. Saving past capacity evicts the report saved least recently, so a
// running workflow stays while it keeps recording. Reports are lost on restart.
type MemoryExecutionStore struct {
	reports *lru.Cache
}

// NewMemoryExecutionStore creates a store holding at most maxExecutions
// reports. Zero or less selects DefaultMaxExecutions.
func NewMemoryExecutionStore(maxExecutions int) (*MemoryExecutionStore, error) {
	if maxExecutions <= 0 {
		maxExecutions = DefaultMaxExecutions
	}
	cache, err := lru.New(maxExecutions)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution cache: %w", err)
	}
	return &MemoryExecutionStore{reports: cache}, nil
}

func (s *MemoryExecutionStore) Save(ctx context.Context, report *models.ExecutionReport) error {
	s.reports.Add(report.ExecutionID, report.Clone())
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, executionID string) (*models.ExecutionReport, error) {
	v, ok := s.reports.Peek(executionID)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*models.ExecutionReport).Clone(), nil
}

func (s *MemoryExecutionStore) List(ctx context.Context, limit int) ([]*models.ExecutionReport, error) {
	keys := s.reports.Keys()
	out := make([]*models.ExecutionReport, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.reports.Peek(k); ok {
			out = append(out, v.(*models.ExecutionReport).Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored reports.
func (s *MemoryExecutionStore) Len() int {
	return s.reports.Len()
}

func (s *MemoryExecutionStore) Close() error {
	s.reports.Purge()
	return nil
}
