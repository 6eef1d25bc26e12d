// Package models defines the domain models shared by the gateway components
package models

import (
	"fmt"
)

// ErrorKind classifies why a tool invocation failed
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindUnknownNamespace ErrorKind = "UnknownNamespace"
	ErrorKindUnreachable      ErrorKind = "Unreachable"
	ErrorKindTimeout          ErrorKind = "Timeout"
	ErrorKindBackendError     ErrorKind = "BackendError"
	ErrorKindValidationError  ErrorKind = "ValidationError"
)

// Retryable reports whether a caller may reasonably retry a call that failed
// with this kind. Timeouts are not retried: the backend may still be working.
func (k ErrorKind) Retryable() bool {
	return k == ErrorKindUnreachable
}

// ToolRequest is a single routed tool invocation
type ToolRequest struct {
	Namespace     string         `json:"namespace"`
	Tool          string         `json:"tool"`
	Arguments     map[string]any `json:"arguments,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// String returns the request's display identifier, e.g. "os.linux/runCommand".
// Namespace and tool are joined with a slash so a dotted namespace stays readable.
func (r ToolRequest) String() string {
	return fmt.Sprintf("%s/%s", r.Namespace, r.Tool)
}

// ToolResult is the outcome of one ToolRequest
type ToolResult struct {
	Success       bool      `json:"success"`
	Value         any       `json:"value,omitempty"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Namespace     string    `json:"namespace,omitempty"`
	Tool          string    `json:"tool,omitempty"`
	DurationMs    int64     `json:"durationMs"`
}

// Success builds a successful result carrying value
func Success(value any) ToolResult {
	return ToolResult{Success: true, Value: value}
}

// Failure builds a failed result of the given kind with message kept as is
func Failure(kind ErrorKind, message string) ToolResult {
	return ToolResult{Success: false, ErrorKind: kind, ErrorMessage: message}
}

// Failuref is Failure with a formatted message
func Failuref(kind ErrorKind, format string, args ...any) ToolResult {
	return Failure(kind, fmt.Sprintf(format, args...))
}

// Err converts a failed result into an error, or nil on success
func (r ToolResult) Err() error {
	if r.Success {
		return nil
	}
	return &ToolError{Kind: r.ErrorKind, Message: r.ErrorMessage}
}

// ToolError is the error form of a failed ToolResult
type ToolError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}
