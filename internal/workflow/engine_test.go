package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/internal/router"
	"mcp-gateway/backend/pkg/models"
)

// spyRouter answers from a per-call script and counts invocations.
type spyRouter struct {
	mu       sync.Mutex
	requests []models.ToolRequest
	script   func(i int, req models.ToolRequest) models.ToolResult
}

func (s *spyRouter) Route(ctx context.Context, req models.ToolRequest) models.ToolResult {
	s.mu.Lock()
	i := len(s.requests)
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.script == nil {
		return models.Success(nil)
	}
	r := s.script(i, req)
	r.CorrelationID = req.CorrelationID
	return r
}

type memoryRecorder struct {
	mu        sync.Mutex
	snapshots []*models.ExecutionReport
	err       error
}

func (m *memoryRecorder) Save(ctx context.Context, report *models.ExecutionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, report)
	return m.err
}

func newEngine(t *testing.T, r Router, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(r, opts...)
	require.NoError(t, err)
	return e
}

func steps(n int) []models.WorkflowStep {
	out := make([]models.WorkflowStep, n)
	for i := range out {
		out[i] = models.WorkflowStep{Namespace: "cmdb", Tool: "t"}
	}
	return out
}

func TestExecuteFailFast(t *testing.T) {
	spy := &spyRouter{script: func(i int, req models.ToolRequest) models.ToolResult {
		if i == 1 {
			return models.Failure(models.ErrorKindBackendError, "host not found")
		}
		return models.Success(map[string]any{"i": i})
	}}

	report := newEngine(t, spy).Execute(context.Background(), models.WorkflowDefinition{Steps: steps(3)})

	assert.Equal(t, models.ExecutionFailed, report.Status)
	require.NotNil(t, report.FailedAtStep)
	assert.Equal(t, 1, *report.FailedAtStep)
	require.Len(t, report.StepResults, 2)
	assert.True(t, report.StepResults[0].Success)
	assert.Equal(t, "host not found", report.StepResults[1].ErrorMessage)
	assert.Len(t, spy.requests, 2, "step 2 must never be invoked")
	assert.NotNil(t, report.FinishedAt)
}

func TestExecuteCompletes(t *testing.T) {
	spy := &spyRouter{}
	report := newEngine(t, spy).Execute(context.Background(), models.WorkflowDefinition{
		ID: "wf-1", Name: "diag", CorrelationID: "corr-7", Steps: steps(3),
	})

	assert.Equal(t, models.ExecutionCompleted, report.Status)
	assert.Nil(t, report.FailedAtStep)
	assert.Len(t, report.StepResults, 3)
	assert.Equal(t, "corr-7", report.CorrelationID)
	assert.NotEmpty(t, report.ExecutionID)
	for _, req := range spy.requests {
		assert.Equal(t, "corr-7", req.CorrelationID)
	}
}

func TestExecuteGeneratesSharedCorrelationID(t *testing.T) {
	spy := &spyRouter{}
	report := newEngine(t, spy).Execute(context.Background(), models.WorkflowDefinition{Steps: steps(2)})

	require.NotEmpty(t, report.CorrelationID)
	require.Len(t, spy.requests, 2)
	assert.Equal(t, report.CorrelationID, spy.requests[0].CorrelationID)
	assert.Equal(t, report.CorrelationID, spy.requests[1].CorrelationID)
}

func TestExecuteEmptyWorkflow(t *testing.T) {
	spy := &spyRouter{}
	report := newEngine(t, spy).Execute(context.Background(), models.WorkflowDefinition{})

	assert.Equal(t, models.ExecutionCompleted, report.Status)
	assert.Empty(t, report.StepResults)
	assert.Empty(t, spy.requests)
}

func TestExecuteResolvesPlaceholders(t *testing.T) {
	spy := &spyRouter{script: func(i int, req models.ToolRequest) models.ToolResult {
		if i == 0 {
			return models.Success(map[string]any{"ip": "10.0.0.5"})
		}
		return models.Success("ok")
	}}

	def := models.WorkflowDefinition{Steps: []models.WorkflowStep{
		{Namespace: "cmdb", Tool: "lookupHost", Arguments: map[string]any{"name": "web-01"}},
		{Namespace: "os.linux", Tool: "runCommand", Arguments: map[string]any{"host": "${steps[0].output.ip}"}},
	}}
	report := newEngine(t, spy).Execute(context.Background(), def)

	require.Equal(t, models.ExecutionCompleted, report.Status)
	require.Len(t, spy.requests, 2)
	assert.Equal(t, map[string]any{"host": "10.0.0.5"}, spy.requests[1].Arguments)
	assert.Equal(t, "${steps[0].output.ip}", def.Steps[1].Arguments["host"])
}

func TestExecuteUnresolvablePlaceholders(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"forward reference", map[string]any{"host": "${steps[1].output}"}},
		{"missing key", map[string]any{"host": "${steps[0].output.hostname}"}},
		{"malformed references", map[string]any{
			"a": "${steps[0].outputs.ip}",
			"b": "${steps[0].output.ip }",
			"c": "${steps[-1].output.ip}",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := &spyRouter{script: func(i int, req models.ToolRequest) models.ToolResult {
				return models.Success(map[string]any{"ip": "10.0.0.5"})
			}}
			def := models.WorkflowDefinition{Steps: []models.WorkflowStep{
				{Namespace: "cmdb", Tool: "lookupHost"},
				{Namespace: "os.linux", Tool: "runCommand", Arguments: tt.args},
			}}
			report := newEngine(t, spy).Execute(context.Background(), def)

			assert.Equal(t, models.ExecutionFailed, report.Status)
			require.NotNil(t, report.FailedAtStep)
			assert.Equal(t, 1, *report.FailedAtStep)
			require.Len(t, report.StepResults, 2)
			assert.Equal(t, models.ErrorKindValidationError, report.StepResults[1].ErrorKind)
			assert.Len(t, spy.requests, 1, "the failing step must not reach the router")
		})
	}
}

func TestExecuteRejectsMalformedPlaceholderBeforeAnyCall(t *testing.T) {
	spy := &spyRouter{}
	report := newEngine(t, spy).Execute(context.Background(), models.WorkflowDefinition{
		Steps: []models.WorkflowStep{{Namespace: "os.linux", Tool: "ping", Arguments: map[string]any{"host": "${steps[0].outputs.ip}"}}},
	})

	assert.Equal(t, models.ExecutionFailed, report.Status)
	require.Len(t, report.StepResults, 1)
	assert.Equal(t, models.ErrorKindValidationError, report.StepResults[0].ErrorKind)
	assert.Contains(t, report.StepResults[0].ErrorMessage, "malformed placeholder")
	assert.Empty(t, spy.requests)
}

func TestExecuteRejectsStepWithoutTool(t *testing.T) {
	spy := &spyRouter{}
	report := newEngine(t, spy).Execute(context.Background(), models.WorkflowDefinition{
		Steps: []models.WorkflowStep{{Namespace: "cmdb"}},
	})

	assert.Equal(t, models.ExecutionFailed, report.Status)
	assert.Equal(t, models.ErrorKindValidationError, report.StepResults[0].ErrorKind)
	assert.Empty(t, spy.requests)
}

func TestExecuteAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	spy := &spyRouter{script: func(i int, req models.ToolRequest) models.ToolResult {
		if i == 0 {
			cancel()
		}
		return models.Success("ok")
	}}

	report := newEngine(t, spy).Execute(ctx, models.WorkflowDefinition{Steps: steps(3)})

	assert.Equal(t, models.ExecutionAborted, report.Status)
	require.NotNil(t, report.FailedAtStep)
	assert.Equal(t, 1, *report.FailedAtStep)
	assert.Len(t, report.StepResults, 1)
	assert.Len(t, spy.requests, 1)
}

func TestExecuteRecordsSnapshots(t *testing.T) {
	rec := &memoryRecorder{}
	report := newEngine(t, &spyRouter{}, WithRecorder(rec)).Execute(context.Background(), models.WorkflowDefinition{Steps: steps(2)})

	// initial + one per step + final
	require.Len(t, rec.snapshots, 4)
	assert.Equal(t, models.ExecutionRunning, rec.snapshots[0].Status)
	assert.Len(t, rec.snapshots[1].StepResults, 1)
	assert.Equal(t, models.ExecutionCompleted, rec.snapshots[3].Status)
	for _, s := range rec.snapshots {
		assert.Equal(t, report.ExecutionID, s.ExecutionID)
	}
}

func TestExecuteIgnoresRecorderFailure(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("disk full")}
	report := newEngine(t, &spyRouter{}, WithRecorder(rec)).Execute(context.Background(), models.WorkflowDefinition{Steps: steps(1)})
	assert.Equal(t, models.ExecutionCompleted, report.Status)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyFailFast, p)

	p, err = ParsePolicy("FAIL_FAST")
	require.NoError(t, err)
	assert.Equal(t, PolicyFailFast, p)

	_, err = ParsePolicy("continue")
	assert.Error(t, err)

	_, err = NewEngine(&spyRouter{}, WithPolicy("rollback"))
	assert.Error(t, err)
}

func TestExecuteEndToEnd(t *testing.T) {
	cmdb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"ip":"10.0.0.5"}}`))
	}))
	defer cmdb.Close()

	var gotArgs map[string]any
	linux := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Arguments map[string]any `json:"arguments"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotArgs = body.Arguments
		w.Write([]byte(`{"result":{"stdout":"1 packets transmitted, 1 received"}}`))
	}))
	defer linux.Close()

	a, err := registry.ParseEntry("cmdb", cmdb.URL, time.Second)
	require.NoError(t, err)
	b, err := registry.ParseEntry("os.linux", linux.URL, time.Second)
	require.NoError(t, err)
	reg, err := registry.New([]registry.Entry{a, b})
	require.NoError(t, err)

	engine := newEngine(t, router.New(reg, backend.NewHTTPClient()))
	report := engine.Execute(context.Background(), models.WorkflowDefinition{Steps: []models.WorkflowStep{
		{Namespace: "cmdb", Tool: "lookupHost", Arguments: map[string]any{"name": "web-01"}},
		{Namespace: "os.linux", Tool: "runCommand", Arguments: map[string]any{"cmd": "ping -c 1 ${steps[0].output.ip}"}},
	}})

	require.Equal(t, models.ExecutionCompleted, report.Status)
	assert.Equal(t, map[string]any{"cmd": "ping -c 1 10.0.0.5"}, gotArgs)
	assert.Equal(t, map[string]any{"stdout": "1 packets transmitted, 1 received"}, report.StepResults[1].Value)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: diag
name: Host diagnostics
steps:
  - name: find host
    service: cmdb
    tool: lookupHost
    params:
      name: web-01
  - namespace: os.linux
    tool: runCommand
    arguments:
      cmd: "ping -c 1 ${steps[0].output.ip}"
      count: 3
`), 0o600))

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "diag", def.ID)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "cmdb", def.Steps[0].Namespace)
	assert.Equal(t, map[string]any{"name": "web-01"}, def.Steps[0].Arguments)
	assert.Equal(t, float64(3), def.Steps[1].Arguments["count"])

	_, err = Parse([]byte("name: nothing"))
	assert.Error(t, err)
}
