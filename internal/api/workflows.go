package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"mcp-gateway/backend/internal/repository"
	"mcp-gateway/backend/internal/services"
	"mcp-gateway/backend/pkg/models"
)

// ExecuteWorkflowRequest is the body of POST /api/v1/workflows/execute.
type ExecuteWorkflowRequest struct {
	Workflow      *models.WorkflowDefinition `json:"workflow"`
	CorrelationID string                     `json:"correlationId,omitempty"`
}

// ExecuteWorkflow runs a workflow and returns its report. Step failures are
// reported in the body; the status is 200 whenever the workflow ran.
// (POST /api/v1/workflows/execute)
func (h *Handler) ExecuteWorkflow(c echo.Context) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.Workflow == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow is required")
	}

	def := *req.Workflow
	def.CorrelationID = correlationID(c, firstNonEmpty(req.CorrelationID, def.CorrelationID))

	report := h.gateway.ExecuteWorkflow(c.Request().Context(), def)
	return c.JSON(http.StatusOK, report)
}

// GetExecution returns a persisted execution report
// (GET /api/v1/workflows/executions/{id})
func (h *Handler) GetExecution(c echo.Context) error {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter id: %s", err))
	}

	report, err := h.gateway.GetExecution(c.Request().Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Execution not found: "+id)
	case errors.Is(err, services.ErrPersistenceDisabled):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load execution: "+err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

// ListExecutions returns recent execution reports, newest first
// (GET /api/v1/workflows/executions?limit=n)
func (h *Handler) ListExecutions(c echo.Context) error {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", c.QueryParams(), &limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}
	n := 0
	if limit != nil {
		if *limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must not be negative")
		}
		n = *limit
	}

	reports, err := h.gateway.ListExecutions(c.Request().Context(), n)
	if errors.Is(err, services.ErrPersistenceDisabled) {
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list executions: "+err.Error())
	}
	if reports == nil {
		reports = []*models.ExecutionReport{}
	}
	return c.JSON(http.StatusOK, reports)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
