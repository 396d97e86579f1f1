package testutil

import (
	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/schema"
)

// TaskBuilder constructs tasks with fluent chaining.
// Example:
//
//	task := NewTaskBuilder("count the words").Field("count", schema.TypeInteger).Tool("wc").Build()
type TaskBuilder struct {
	description  string
	id           string
	fields       []schema.FieldSpec
	tools        []core.ToolRef
	refs         []core.ContextRef
	requirements []string
}

// NewTaskBuilder starts a task with the given description.
func NewTaskBuilder(description string) *TaskBuilder {
	return &TaskBuilder{description: description}
}

// ID sets a fixed task id (chainable).
func (b *TaskBuilder) ID(id string) *TaskBuilder {
	b.id = id
	return b
}

// Field adds a required output field (chainable).
func (b *TaskBuilder) Field(name string, typ schema.FieldType) *TaskBuilder {
	b.fields = append(b.fields, schema.Field(name, typ))
	return b
}

// OptionalField adds an optional output field (chainable).
func (b *TaskBuilder) OptionalField(name string, typ schema.FieldType) *TaskBuilder {
	b.fields = append(b.fields, schema.OptionalField(name, typ))
	return b
}

// Tool references a tool by name (chainable).
func (b *TaskBuilder) Tool(names ...string) *TaskBuilder {
	for _, n := range names {
		b.tools = append(b.tools, core.ToolRef{Name: n})
	}
	return b
}

// Knowledge adds a knowledge context ref (chainable).
func (b *TaskBuilder) Knowledge(text string) *TaskBuilder {
	b.refs = append(b.refs, core.KnowledgeRef(core.NewKnowledgeItem(text, "")))
	return b
}

// Require adds explicit capability tags (chainable).
func (b *TaskBuilder) Require(tags ...string) *TaskBuilder {
	b.requirements = append(b.requirements, tags...)
	return b
}

// Build returns the task.
func (b *TaskBuilder) Build() *core.Task {
	return core.NewTask(b.description, schema.New(b.fields...), func(o *core.TaskOptions) {
		o.ID = b.id
		o.ToolRefs = b.tools
		o.ContextRefs = b.refs
		o.Requirements = b.requirements
	})
}

// Agent returns an identity with the given capabilities.
func Agent(id string, capabilities ...string) core.AgentIdentity {
	return core.AgentIdentity{AgentID: id, Role: "worker", Capabilities: capabilities}
}
