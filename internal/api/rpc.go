package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"mcp-gateway/backend/pkg/models"
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcToolCallParams accepts the legacy "service"/"params" names as well.
type rpcToolCallParams struct {
	Namespace     string         `json:"namespace"`
	Service       string         `json:"service"`
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments"`
	Params        map[string]any `json:"params"`
	CorrelationID string         `json:"correlationId"`
}

type rpcSystemHealth struct {
	Gateway  models.GatewayHealth  `json:"gateway"`
	Backends models.HealthSnapshot `json:"backends"`
}

// HandleRPC serves the JSON-RPC 2.0 surface. Protocol problems are JSON-RPC
// errors; tool failures are returned inside a successful result envelope.
// (POST /api/v1/rpc)
func (h *Handler) HandleRPC(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 10<<20))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusOK, rpcFailure(nil, rpcParseError, "Parse error", err.Error()))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return c.JSON(http.StatusOK, rpcFailure(req.ID, rpcInvalidRequest, "Invalid Request", nil))
	}

	ctx := c.Request().Context()
	switch req.Method {
	case "tools/call":
		var p rpcToolCallParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return c.JSON(http.StatusOK, rpcFailure(req.ID, rpcInvalidParams, "Invalid params", err.Error()))
		}
		ns := firstNonEmpty(p.Namespace, p.Service)
		if ns == "" || p.Tool == "" {
			return c.JSON(http.StatusOK, rpcFailure(req.ID, rpcInvalidParams, "Invalid params", "namespace and tool are required"))
		}
		args := p.Arguments
		if args == nil {
			args = p.Params
		}
		result := h.gateway.CallTool(ctx, models.ToolRequest{
			Namespace:     ns,
			Tool:          p.Tool,
			Arguments:     args,
			CorrelationID: correlationID(c, p.CorrelationID),
		})
		return c.JSON(http.StatusOK, rpcSuccess(req.ID, newToolCallResponse(result)))

	case "workflows/execute":
		var p ExecuteWorkflowRequest
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Workflow == nil {
			detail := "workflow is required"
			if err != nil {
				detail = err.Error()
			}
			return c.JSON(http.StatusOK, rpcFailure(req.ID, rpcInvalidParams, "Invalid params", detail))
		}
		def := *p.Workflow
		def.CorrelationID = correlationID(c, firstNonEmpty(p.CorrelationID, def.CorrelationID))
		return c.JSON(http.StatusOK, rpcSuccess(req.ID, h.gateway.ExecuteWorkflow(ctx, def)))

	case "system/health":
		return c.JSON(http.StatusOK, rpcSuccess(req.ID, rpcSystemHealth{
			Gateway:  h.gateway.Liveness(),
			Backends: h.gateway.BackendHealth(ctx),
		}))

	case "system/listServices":
		return c.JSON(http.StatusOK, rpcSuccess(req.ID, h.gateway.Services()))

	default:
		return c.JSON(http.StatusOK, rpcFailure(req.ID, rpcMethodNotFound, "Method not found", req.Method))
	}
}

func rpcSuccess(id json.RawMessage, result any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: nullID(id), Result: result}
}

func rpcFailure(id json.RawMessage, code int, message string, data any) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: nullID(id), Error: &rpcError{Code: code, Message: message, Data: data}}
}

func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
