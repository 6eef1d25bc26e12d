package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-gateway/backend/pkg/models"
)

func scrape(t *testing.T, h http.Handler) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestPrometheusMetrics(t *testing.T) {
	m, err := InitMetrics(MetricsConfig{Enabled: true})
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordToolCall(ctx, "os.linux", models.ErrorKindNone, 20*time.Millisecond)
	m.RecordToolCall(ctx, "cmdb", models.ErrorKindTimeout, time.Second)
	m.RecordWorkflow(ctx, models.ExecutionFailed, 2, 3*time.Second)
	m.RecordBackendHealth(ctx, models.HealthSnapshot{PerNamespace: map[string]models.NamespaceHealth{
		"cmdb": {Status: models.HealthUnreachable},
	}})

	code, body := scrape(t, m.Handler())
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "gateway_tool_calls")
	assert.Contains(t, body, `namespace="os.linux"`)
	assert.Contains(t, body, `outcome="Timeout"`)
	assert.Contains(t, body, "gateway_workflow_executions")
	assert.Contains(t, body, `status="FAILED"`)
	assert.Contains(t, body, "gateway_backend_up")
}

func TestBackendHealthDropsRemovedNamespaces(t *testing.T) {
	m, err := InitMetrics(MetricsConfig{Enabled: true})
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordBackendHealth(ctx, models.HealthSnapshot{PerNamespace: map[string]models.NamespaceHealth{
		"cmdb": {Status: models.HealthHealthy},
		"docs": {Status: models.HealthUnhealthy},
	}})
	_, body := scrape(t, m.Handler())
	assert.Regexp(t, `gateway_backend_up\{[^}]*namespace="cmdb"[^}]*\} 1`, body)
	assert.Regexp(t, `gateway_backend_up\{[^}]*namespace="docs"[^}]*\} 0`, body)

	m.RecordBackendHealth(ctx, models.HealthSnapshot{PerNamespace: map[string]models.NamespaceHealth{
		"cmdb": {Status: models.HealthUnreachable},
	}})
	_, body = scrape(t, m.Handler())
	assert.Regexp(t, `gateway_backend_up\{[^}]*namespace="cmdb"[^}]*\} 0`, body)
	assert.NotContains(t, body, `namespace="docs"`)
}

func TestNoopMetrics(t *testing.T) {
	m, err := InitMetrics(MetricsConfig{})
	require.NoError(t, err)
	assert.IsType(t, NoopMetrics{}, m)

	m.RecordToolCall(context.Background(), "x", models.ErrorKindNone, time.Millisecond)
	code, _ := scrape(t, m.Handler())
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
