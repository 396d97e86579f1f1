package agent

import "github.com/hupe1980/verimesh/core"

// DefaultInstruction is the Executor system prompt. It is rendered as a
// template with the agent_id, role, capabilities and task_id variables.
const DefaultInstruction = `You are {{.agent_id}}{{if .role}}, working as {{.role}}{{end}}.
Complete the task below accurately and completely. Use the provided context and tools when they help.
Answer with the requested output only.`

// Provider supplies instruction text at runtime.
type Provider interface {
	Instruction(identity core.AgentIdentity, task *core.Task) (string, error)
}

// Func adapts a function to Provider.
type Func func(identity core.AgentIdentity, task *core.Task) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(identity core.AgentIdentity, task *core.Task) (string, error) {
	return f(identity, task)
}

// Instruction is either a static template or a dynamic provider.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(core.AgentIdentity, *core.Task) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic reports whether the instruction is a static template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether neither text nor provider is set.
func (i Instruction) IsZero() bool { return i.text == "" && i.provider == nil }

// Resolve returns the instruction template, calling the provider if set.
func (i Instruction) Resolve(identity core.AgentIdentity, task *core.Task) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(identity, task)
	}
	return i.text, nil
}
