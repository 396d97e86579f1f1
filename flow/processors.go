package flow

import (
	"fmt"
	"strings"

	"github.com/hupe1980/verimesh/core"
	internalutil "github.com/hupe1980/verimesh/internal/util"
	"github.com/hupe1980/verimesh/model"
)

// InstructionsProcessor renders the agent instruction into the system prompt.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions and the leading system content.
func (p *InstructionsProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	instructions, err := internalutil.RenderTemplate(turn.Instruction, turn.Vars())
	if err != nil {
		return fmt.Errorf("failed to render instruction: %w", err)
	}
	instructions = strings.TrimSpace(instructions)
	req.Instructions = instructions
	if instructions != "" {
		req.Contents = append(req.Contents, core.NewTextContent(core.RoleSystem, instructions))
	}
	return nil
}

// ContextProcessor adds the context refs as one user message.
type ContextProcessor struct{}

// NewContextProcessor creates a new context processor.
func NewContextProcessor() *ContextProcessor { return &ContextProcessor{} }

// Name returns the processor's identifier.
func (p *ContextProcessor) Name() string { return "context" }

// ProcessRequest appends the rendered context, if any.
func (p *ContextProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	if text := RenderContext(turn.Refs); text != "" {
		req.Contents = append(req.Contents, core.NewTextContent(core.RoleUser, text))
	}
	return nil
}

// RenderContext formats refs in order, each under its label.
func RenderContext(refs []core.ContextRef) string {
	var b strings.Builder
	for _, ref := range refs {
		text := strings.TrimSpace(ref.Text())
		if text == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Context:\n")
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", ref.Label(), text)
	}
	return b.String()
}

// TaskProcessor adds the task description and output schema.
type TaskProcessor struct{}

// NewTaskProcessor creates a new task processor.
func NewTaskProcessor() *TaskProcessor { return &TaskProcessor{} }

// Name returns the processor's identifier.
func (p *TaskProcessor) Name() string { return "task" }

// ProcessRequest appends the task message and sets the schema hint.
func (p *TaskProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	if turn.Task == nil {
		return fmt.Errorf("turn has no task")
	}
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(strings.TrimSpace(turn.Task.Description))
	if instr := turn.Task.OutputSchema.Instructions(); instr != "" {
		b.WriteString("\n\n")
		b.WriteString(instr)
	}
	if turn.Emphasis != "" {
		b.WriteString("\n\n")
		b.WriteString(turn.Emphasis)
	}
	req.Contents = append(req.Contents, core.NewTextContent(core.RoleUser, b.String()))
	if !turn.Task.OutputSchema.IsZero() {
		req.SchemaHint = turn.Task.OutputSchema.JSONSchema()
	}
	return nil
}

// ToolsProcessor declares the turn's tools.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest converts tool specs into tool definitions.
func (p *ToolsProcessor) ProcessRequest(turn *Turn, req *model.Request) error {
	for _, spec := range turn.Tools {
		params := spec.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return nil
}
