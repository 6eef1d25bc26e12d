package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution
type ExecutionStatus string

const (
	// ExecutionRunning only appears in snapshots persisted mid-execution.
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// Terminal reports whether no further steps will run
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionAborted
}

// WorkflowDefinition is an ordered list of tool invocations supplied by the caller.
type WorkflowDefinition struct {
	ID            string         `json:"id,omitempty" yaml:"id"`
	Name          string         `json:"name,omitempty" yaml:"name"`
	CorrelationID string         `json:"correlationId,omitempty" yaml:"correlationId"`
	Steps         []WorkflowStep `json:"steps" yaml:"steps"`
}

// WorkflowStep names one tool call. Arguments may hold ${steps[N].output...}
// placeholders that resolve against earlier step outputs.
type WorkflowStep struct {
	Name      string         `json:"name,omitempty" yaml:"name"`
	Namespace string         `json:"namespace" yaml:"namespace"`
	Tool      string         `json:"tool" yaml:"tool"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments"`
}

// UnmarshalJSON accepts the legacy orchestrator field names "service" and
// "params" alongside "namespace" and "arguments".
func (s *WorkflowStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string         `json:"name"`
		Namespace string         `json:"namespace"`
		Service   string         `json:"service"`
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
		Params    map[string]any `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Tool = raw.Tool
	s.Namespace = raw.Namespace
	if s.Namespace == "" {
		s.Namespace = raw.Service
	}
	s.Arguments = raw.Arguments
	if s.Arguments == nil {
		s.Arguments = raw.Params
	}
	return nil
}

// ExecutionReport records the progress and outcome of one workflow execution.
type ExecutionReport struct {
	ExecutionID   string          `json:"executionId"`
	WorkflowID    string          `json:"workflowId,omitempty"`
	WorkflowName  string          `json:"workflowName,omitempty"`
	CorrelationID string          `json:"correlationId"`
	Status        ExecutionStatus `json:"status"`
	StepResults   []ToolResult    `json:"stepResults"`
	FailedAtStep  *int            `json:"failedAtStep,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
}

// Clone returns a deep enough copy for handing to persistence while the
// engine keeps appending to the original.
func (r *ExecutionReport) Clone() *ExecutionReport {
	c := *r
	c.StepResults = append([]ToolResult(nil), r.StepResults...)
	if r.FailedAtStep != nil {
		idx := *r.FailedAtStep
		c.FailedAtStep = &idx
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
