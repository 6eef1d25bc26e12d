package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mcp-gateway/backend/internal/health"
	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/internal/repository"
	"mcp-gateway/backend/internal/workflow"
	"mcp-gateway/backend/pkg/models"
)

// ServiceName and Version identify the gateway in liveness responses.
const (
	ServiceName = "mcp-gateway"
	Version     = "1.0.0"
)

// RegistrySource produces a fresh backend list for ReloadRegistry.
type RegistrySource func(ctx context.Context) ([]registry.Entry, error)

// GatewayService is the default Gateway.
type GatewayService struct {
	registry *registry.Registry
	router   workflow.Router
	engine   *workflow.Engine
	health   *health.Aggregator
	store    repository.ExecutionStore
	source   RegistrySource
	logger   *logging.Logger

	// reloadMu serializes source reads and registry swaps.
	reloadMu sync.Mutex
}

// Option customizes a GatewayService.
type Option func(*GatewayService)

// WithStore enables execution lookups.
func WithStore(store repository.ExecutionStore) Option {
	return func(s *GatewayService) { s.store = store }
}

// WithRegistrySource enables ReloadRegistry.
func WithRegistrySource(source RegistrySource) Option {
	return func(s *GatewayService) { s.source = source }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *GatewayService) { s.logger = l }
}

// NewGatewayService creates a new GatewayService.
func NewGatewayService(reg *registry.Registry, router workflow.Router, engine *workflow.Engine, agg *health.Aggregator, opts ...Option) *GatewayService {
	s := &GatewayService{
		registry: reg,
		router:   router,
		engine:   engine,
		health:   agg,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GatewayService) CallTool(ctx context.Context, req models.ToolRequest) models.ToolResult {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	return s.router.Route(ctx, req)
}

func (s *GatewayService) ExecuteWorkflow(ctx context.Context, def models.WorkflowDefinition) *models.ExecutionReport {
	return s.engine.Execute(ctx, def)
}

func (s *GatewayService) GetExecution(ctx context.Context, executionID string) (*models.ExecutionReport, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.store.Get(ctx, executionID)
}

func (s *GatewayService) ListExecutions(ctx context.Context, limit int) ([]*models.ExecutionReport, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.store.List(ctx, limit)
}

func (s *GatewayService) BackendHealth(ctx context.Context) models.HealthSnapshot {
	return s.health.Snapshot(ctx)
}

func (s *GatewayService) Liveness() models.GatewayHealth {
	return models.GatewayHealth{
		Status:    "ok",
		Service:   ServiceName,
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Backends:  s.registry.Len(),
	}
}

func (s *GatewayService) Services() []models.ServiceInfo {
	entries := s.registry.Entries()
	out := make([]models.ServiceInfo, len(entries))
	for i, e := range entries {
		out[i] = models.ServiceInfo{
			Namespace: e.Namespace,
			URL:       e.BaseAddress.String(),
			InvokeURL: e.InvokeURL(),
			HealthURL: e.HealthURL(),
			TimeoutMs: e.Timeout.Milliseconds(),
		}
	}
	return out
}

// ReloadRegistry keeps the current registry when the source fails or
// returns invalid entries. Concurrent reloads run one at a time.
func (s *GatewayService) ReloadRegistry(ctx context.Context) (int, error) {
	if s.source == nil {
		return 0, ErrReloadUnsupported
	}
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	entries, err := s.source(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read backends: %w", err)
	}
	if err := s.registry.Reload(entries); err != nil {
		return 0, err
	}
	s.logger.Info("registry reloaded", "backends", len(entries))
	return len(entries), nil
}
