package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/pkg/models"
)

// maxBodyBytes bounds how much of a backend response is read.
const maxBodyBytes = 10 << 20

// invokeRequest is the body POSTed to a backend's invocation endpoint.
type invokeRequest struct {
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

type backendError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// invokeResponse accepts {"result": ...} and {"error": {...}} as well as the
// legacy {"type": "tool_result"|"tool_error", ...} form, optionally wrapped in
// a JSON-RPC envelope.
type invokeResponse struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Type    string          `json:"type,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *backendError   `json:"error,omitempty"`
}

// HTTPClient is an HTTP implementation of Invoker and Prober.
type HTTPClient struct {
	httpClient *http.Client
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.httpClient = c }
}

// NewHTTPClient creates a new HTTPClient. The default transport propagates
// trace context to backends.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke sends tool and arguments to entry's invocation endpoint with
// entry.Timeout as a hard deadline.
func (c *HTTPClient) Invoke(ctx context.Context, entry registry.Entry, tool string, arguments map[string]any, correlationID string) models.ToolResult {
	start := time.Now()
	result := c.invoke(ctx, entry, tool, arguments, correlationID)
	result.DurationMs = time.Since(start).Milliseconds()
	return result
}

func (c *HTTPClient) invoke(ctx context.Context, entry registry.Entry, tool string, arguments map[string]any, correlationID string) models.ToolResult {
	if arguments == nil {
		arguments = map[string]any{}
	}
	requestBody, err := json.Marshal(invokeRequest{Tool: tool, Arguments: arguments, CorrelationID: correlationID})
	if err != nil {
		return models.Failuref(models.ErrorKindValidationError, "failed to marshal arguments: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, entry.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.InvokeURL(), bytes.NewReader(requestBody))
	if err != nil {
		return models.Failuref(models.ErrorKindUnreachable, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if correlationID != "" {
		req.Header.Set(CorrelationHeader, correlationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailure(ctx, entry, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportFailure(ctx, entry, err)
	}

	return decodeInvokeResponse(resp.StatusCode, body)
}

func decodeInvokeResponse(status int, body []byte) models.ToolResult {
	var parsed invokeResponse
	parseErr := json.Unmarshal(body, &parsed)
	if parseErr == nil {
		parsed = unwrapJSONRPC(parsed)
	}

	if parseErr == nil && parsed.Error != nil {
		return models.Failure(models.ErrorKindBackendError, parsed.Error.Message)
	}
	if parseErr == nil && parsed.Type == "tool_error" {
		return models.Failure(models.ErrorKindBackendError, "backend reported tool_error without a message")
	}

	if status < 200 || status > 299 {
		return models.Failuref(models.ErrorKindBackendError, "HTTP %d: %s", status, truncate(strings.TrimSpace(string(body)), 512))
	}
	if parseErr != nil {
		return models.Failuref(models.ErrorKindBackendError, "failed to decode backend response: %v", parseErr)
	}

	var value any
	if len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, &value); err != nil {
			return models.Failuref(models.ErrorKindBackendError, "failed to decode backend result: %v", err)
		}
	}
	return models.Success(value)
}

// unwrapJSONRPC lifts a legacy MCP payload out of a JSON-RPC result.
func unwrapJSONRPC(r invokeResponse) invokeResponse {
	if r.JSONRPC == "" || r.Error != nil || len(r.Result) == 0 {
		return r
	}
	var inner invokeResponse
	if err := json.Unmarshal(r.Result, &inner); err != nil || inner.Type == "" {
		return r
	}
	return inner
}

// transportFailure maps a failed round trip to Timeout or Unreachable.
func transportFailure(ctx context.Context, entry registry.Entry, err error) models.ToolResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return models.Failuref(models.ErrorKindTimeout, "backend %q did not answer within %s", entry.Namespace, entry.Timeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.Failuref(models.ErrorKindTimeout, "backend %q timed out: %v", entry.Namespace, err)
	}
	return models.Failuref(models.ErrorKindUnreachable, "backend %q unreachable: %v", entry.Namespace, err)
}

// Probe issues a GET against entry's health endpoint.
func (c *HTTPClient) Probe(ctx context.Context, entry registry.Entry) (health models.NamespaceHealth) {
	health.URL = entry.HealthURL()
	start := time.Now()
	defer func() { health.LatencyMs = time.Since(start).Milliseconds() }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, health.URL, nil)
	if err != nil {
		health.Status = models.HealthUnreachable
		health.Error = fmt.Sprintf("failed to create request: %v", err)
		return health
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		health.Status = models.HealthUnreachable
		health.Error = err.Error()
		return health
	}
	defer resp.Body.Close()

	health.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		health.Status = models.HealthHealthy
		var detail any
		if json.Unmarshal(body, &detail) == nil {
			health.Detail = detail
		}
		return health
	}

	health.Status = models.HealthUnhealthy
	health.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	if text := strings.TrimSpace(string(body)); text != "" {
		health.Detail = truncate(text, 512)
	}
	return health
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
