package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"mcp-gateway/backend/pkg/models"
)

// ToolCallRequest is the body of POST /api/v1/tools/call.
type ToolCallRequest struct {
	Namespace     string         `json:"namespace"`
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// ToolCallResponse carries either a result or a typed error.
type ToolCallResponse struct {
	CorrelationID string            `json:"correlationId"`
	Namespace     string            `json:"namespace"`
	Tool          string            `json:"tool"`
	DurationMs    int64             `json:"durationMs"`
	Result        any               `json:"result,omitempty"`
	Error         *models.ToolError `json:"error,omitempty"`
}

func newToolCallResponse(r models.ToolResult) ToolCallResponse {
	resp := ToolCallResponse{
		CorrelationID: r.CorrelationID,
		Namespace:     r.Namespace,
		Tool:          r.Tool,
		DurationMs:    r.DurationMs,
	}
	if r.Success {
		resp.Result = r.Value
	} else {
		resp.Error = &models.ToolError{Kind: r.ErrorKind, Message: r.ErrorMessage}
	}
	return resp
}

// CallTool routes one tool call to the backend owning its namespace
// (POST /api/v1/tools/call)
func (h *Handler) CallTool(c echo.Context) error {
	var req ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	id := correlationID(c, req.CorrelationID)
	if req.Namespace == "" || req.Tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "namespace and tool are required")
	}

	result := h.gateway.CallTool(c.Request().Context(), models.ToolRequest{
		Namespace:     req.Namespace,
		Tool:          req.Tool,
		Arguments:     req.Arguments,
		CorrelationID: id,
	})
	return c.JSON(statusForKind(result.ErrorKind), newToolCallResponse(result))
}
