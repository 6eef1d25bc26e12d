// Package api contains the HTTP handlers for the gateway REST and JSON-RPC front-ends
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"mcp-gateway/backend/internal/backend"
	"mcp-gateway/backend/internal/logging"
	"mcp-gateway/backend/internal/services"
	"mcp-gateway/backend/pkg/models"
)

// Handler contains HTTP handlers for the gateway REST API
type Handler struct {
	gateway services.Gateway
	logger  *logging.Logger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(gateway services.Gateway, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{gateway: gateway, logger: logger}
}

// Register mounts every route under /api/v1 plus the OpenAPI document.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/openapi.yaml", echo.WrapHandler(SpecHandler()))
	e.GET("/docs", echo.WrapHandler(SwaggerHandler("/openapi.yaml")))

	v1 := e.Group("/api/v1")
	v1.GET("/health", h.HandleHealth)
	v1.GET("/health/backends", h.HandleBackendHealth)
	v1.GET("/namespaces", h.ListNamespaces)
	v1.POST("/registry/reload", h.ReloadRegistry)
	v1.POST("/tools/call", h.CallTool)
	v1.POST("/workflows/execute", h.ExecuteWorkflow)
	v1.GET("/workflows/executions", h.ListExecutions)
	v1.GET("/workflows/executions/:id", h.GetExecution)
	v1.POST("/rpc", h.HandleRPC)
}

// HandleHealth returns basic health status (always returns 200 OK)
// (GET /api/v1/health)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, h.gateway.Liveness())
}

// HandleBackendHealth probes every backend and returns the fresh snapshot
// (GET /api/v1/health/backends)
func (h *Handler) HandleBackendHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, h.gateway.BackendHealth(c.Request().Context()))
}

// ListNamespaces returns the registered namespaces
// (GET /api/v1/namespaces)
func (h *Handler) ListNamespaces(c echo.Context) error {
	return c.JSON(http.StatusOK, h.gateway.Services())
}

// ReloadRegistry re-reads the backend list
// (POST /api/v1/registry/reload)
func (h *Handler) ReloadRegistry(c echo.Context) error {
	n, err := h.gateway.ReloadRegistry(c.Request().Context())
	if errors.Is(err, services.ErrReloadUnsupported) {
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Registry reload failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"backends": n})
}

// correlationID picks the id from the request body, then the inbound
// header, and generates one otherwise. The chosen id is echoed back.
func correlationID(c echo.Context, fromBody string) string {
	id := strings.TrimSpace(fromBody)
	if id == "" {
		id = strings.TrimSpace(c.Request().Header.Get(backend.CorrelationHeader))
	}
	if id == "" {
		id = uuid.New().String()
	}
	c.Response().Header().Set(backend.CorrelationHeader, id)
	return id
}

// statusForKind maps a tool failure to the HTTP status of the REST envelope.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindNone:
		return http.StatusOK
	case models.ErrorKindUnknownNamespace:
		return http.StatusNotFound
	case models.ErrorKindValidationError:
		return http.StatusBadRequest
	case models.ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// ErrorHandler renders every echo error as an RFC 7807 Problem Details response
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				detail = msg
			} else if he.Internal != nil {
				detail = he.Internal.Error()
			} else {
				detail = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "status", status, "error", err)
		}

		problem := models.ProblemDetails{
			Type:          "about:blank",
			Title:         http.StatusText(status),
			Status:        status,
			Detail:        detail,
			Instance:      c.Request().URL.Path,
			CorrelationID: c.Response().Header().Get(backend.CorrelationHeader),
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			var body []byte
			if body, err = json.Marshal(problem); err == nil {
				err = c.Blob(status, "application/problem+json", body)
			}
		}
		if err != nil {
			logger.Warn("failed to write error response", "error", err)
		}
	}
}
