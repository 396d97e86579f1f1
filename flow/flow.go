// Package flow assembles model requests for one agent turn and relays the
// tool calls a model asks for.
//
// A request is built by running a list of RequestProcessors over a Turn.
// The default pipeline is:
//
//	instructions -> context -> task -> tools
//
// which yields the agent instruction as the system prompt, followed by the
// (already compressed) context refs, the task description with its output
// schema, and the tool declarations.
package flow

import (
	"fmt"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/tool"
)

// Turn carries everything a prompt is assembled from.
type Turn struct {
	Task     *core.Task
	Identity core.AgentIdentity
	// Instruction is the agent's system prompt template.
	Instruction string
	// Refs are the context refs after compression.
	Refs  []core.ContextRef
	Tools []tool.ToolSpec
	// Emphasis is appended to the task message, e.g. when re-asking after
	// an empty reply.
	Emphasis string
}

// Vars exposes turn fields to instruction templates.
func (t *Turn) Vars() map[string]any {
	vars := map[string]any{
		"agent_id":     t.Identity.AgentID,
		"role":         t.Identity.Role,
		"capabilities": t.Identity.Capabilities,
	}
	if t.Task != nil {
		vars["task_id"] = t.Task.ID
	}
	return vars
}

// RequestProcessor contributes one aspect of a model request.
type RequestProcessor interface {
	Name() string
	ProcessRequest(turn *Turn, req *model.Request) error
}

// DefaultProcessors returns the standard pipeline.
func DefaultProcessors() []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(),
		NewContextProcessor(),
		NewTaskProcessor(),
		NewToolsProcessor(),
	}
}

// Assemble runs processors in order over an empty request.
func Assemble(turn *Turn, processors ...RequestProcessor) (model.Request, error) {
	if len(processors) == 0 {
		processors = DefaultProcessors()
	}
	var req model.Request
	for _, p := range processors {
		if err := p.ProcessRequest(turn, &req); err != nil {
			return model.Request{}, fmt.Errorf("%s processor: %w", p.Name(), err)
		}
	}
	return req, nil
}
