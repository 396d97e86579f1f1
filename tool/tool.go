// Package tool defines the tool collaborator contract the Executor relays
// model tool calls to, plus a local registry of Go function tools.
package tool

import (
	"context"
	"fmt"
)

// Error codes carried by ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
)

// ToolSpec describes a tool offered to the model. Command and Args are set
// for tools served by an external process (e.g. an MCP server).
type ToolSpec struct {
	Name        string         `json:"name" yaml:"name"`
	Command     string         `json:"command,omitempty" yaml:"command"`
	Args        []string       `json:"args,omitempty" yaml:"args"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters"`
}

// Collaborator is the boundary to whatever actually executes tools.
//
// Invoke must report failures as *ToolError so the failure can be fed back
// to the model as a turn result instead of aborting the task.
type Collaborator interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
}

// Tool is a single locally executed capability.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
