package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/health"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/internal/repository"
	"mcp-gateway/backend/internal/router"
	"mcp-gateway/backend/internal/workflow"
	"mcp-gateway/backend/pkg/models"
)

func newService(t *testing.T, backendURL string, opts ...Option) (*GatewayService, *registry.Registry) {
	t.Helper()
	e, err := registry.ParseEntry("cmdb", backendURL, time.Second)
	require.NoError(t, err)
	reg, err := registry.New([]registry.Entry{e})
	require.NoError(t, err)

	client := backend.NewHTTPClient()
	r := router.New(reg, client)
	store, err := repository.NewMemoryExecutionStore(0)
	require.NoError(t, err)
	engine, err := workflow.NewEngine(r, workflow.WithRecorder(store))
	require.NoError(t, err)

	opts = append([]Option{WithStore(store)}, opts...)
	return NewGatewayService(reg, r, engine, health.NewAggregator(reg, client), opts...), reg
}

func TestGatewayService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.Write([]byte(`{"result":{"ip":"10.0.0.5"}}`))
	}))
	defer srv.Close()

	svc, _ := newService(t, srv.URL)
	ctx := context.Background()

	t.Run("CallTool generates a correlation id", func(t *testing.T) {
		result := svc.CallTool(ctx, models.ToolRequest{Namespace: "cmdb", Tool: "lookupHost"})
		require.True(t, result.Success, result.ErrorMessage)
		assert.NotEmpty(t, result.CorrelationID)
	})

	t.Run("executions are persisted", func(t *testing.T) {
		report := svc.ExecuteWorkflow(ctx, models.WorkflowDefinition{Steps: []models.WorkflowStep{
			{Namespace: "cmdb", Tool: "lookupHost"},
		}})
		require.Equal(t, models.ExecutionCompleted, report.Status)

		got, err := svc.GetExecution(ctx, report.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionCompleted, got.Status)

		list, err := svc.ListExecutions(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("health and services", func(t *testing.T) {
		snap := svc.BackendHealth(ctx)
		assert.Equal(t, models.HealthHealthy, snap.PerNamespace["cmdb"].Status)

		services := svc.Services()
		require.Len(t, services, 1)
		assert.Equal(t, "cmdb", services[0].Namespace)
		assert.Equal(t, srv.URL+"/tools/call", services[0].InvokeURL)
		assert.EqualValues(t, 1000, services[0].TimeoutMs)

		assert.Equal(t, 1, svc.Liveness().Backends)
	})
}

func TestGatewayServiceWithoutStore(t *testing.T) {
	e, err := registry.ParseEntry("cmdb", "http://cmdb:1", time.Second)
	require.NoError(t, err)
	reg, err := registry.New([]registry.Entry{e})
	require.NoError(t, err)
	r := router.New(reg, backend.NewHTTPClient())
	engine, err := workflow.NewEngine(r)
	require.NoError(t, err)

	svc := NewGatewayService(reg, r, engine, health.NewAggregator(reg, backend.NewHTTPClient()))
	_, err = svc.GetExecution(context.Background(), "x")
	assert.ErrorIs(t, err, ErrPersistenceDisabled)
	_, err = svc.ReloadRegistry(context.Background())
	assert.ErrorIs(t, err, ErrReloadUnsupported)
}

func TestGatewayServiceReload(t *testing.T) {
	next, err := registry.ParseEntry("os.linux", "http://linux:8001", time.Second)
	require.NoError(t, err)

	var fail bool
	source := func(ctx context.Context) ([]registry.Entry, error) {
		if fail {
			return nil, errors.New("config unreadable")
		}
		return []registry.Entry{next}, nil
	}
	svc, reg := newService(t, "http://cmdb:1", WithRegistrySource(source))

	n, err := svc.ReloadRegistry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = reg.Lookup("os.linux")
	assert.NoError(t, err)
	_, err = reg.Lookup("cmdb")
	assert.ErrorIs(t, err, registry.ErrUnknownNamespace)

	fail = true
	_, err = svc.ReloadRegistry(context.Background())
	assert.Error(t, err)
	_, err = reg.Lookup("os.linux")
	assert.NoError(t, err, "failed reload keeps the previous table")
}

func TestGatewayServiceReloadSerialized(t *testing.T) {
	next, err := registry.ParseEntry("os.linux", "http://linux:8001", time.Second)
	require.NoError(t, err)

	var inFlight, overlaps atomic.Int32
	source := func(ctx context.Context) ([]registry.Entry, error) {
		if inFlight.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return []registry.Entry{next}, nil
	}
	svc, _ := newService(t, "http://cmdb:1", WithRegistrySource(source))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ReloadRegistry(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, overlaps.Load())
}
