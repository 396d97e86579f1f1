package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verimesh/schema"
)

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("Summarize the report", schema.New(schema.Field("summary", schema.TypeText)))
	assert.NotEmpty(t, task.ID)
	assert.Nil(t, task.Response())
	assert.False(t, task.Finalized())

	withID := NewTask("x", schema.SchemaSpec{}, func(o *TaskOptions) {
		o.ID = "task-1"
		o.ToolRefs = []ToolRef{{Name: "search"}, {Name: "fetch"}}
	})
	assert.Equal(t, "task-1", withID.ID)
	assert.Equal(t, []string{"search", "fetch"}, withID.ToolNames())
}

func TestTask_FinalizeOnce(t *testing.T) {
	task := NewTask("x", schema.SchemaSpec{})
	first := &TaskResult{RawOutput: "a"}

	require.NoError(t, task.Finalize(first))
	err := task.Finalize(&TaskResult{RawOutput: "b"})
	assert.True(t, errors.Is(err, ErrTaskFinalized))
	assert.Same(t, first, task.Response())
	assert.Error(t, task.Finalize(nil))
}

func TestTask_FinalizeConcurrent(t *testing.T) {
	task := NewTask("x", schema.SchemaSpec{})
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if task.Finalize(&TaskResult{}) == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestTask_DigestStable(t *testing.T) {
	spec := schema.New(schema.Field("title", schema.TypeText))
	a := NewTask("Write a title", spec, func(o *TaskOptions) { o.ToolRefs = []ToolRef{{Name: "b"}, {Name: "a"}} })
	b := NewTask("  Write a title ", spec, func(o *TaskOptions) { o.ToolRefs = []ToolRef{{Name: "a"}, {Name: "b"}} })
	c := NewTask("Write a subtitle", spec)

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.Len(t, a.Digest(), 64)
}

func TestNewCritique_Clamps(t *testing.T) {
	issues := []string{"missing count"}
	c := NewCritique(1.7, issues, "add count")
	issues[0] = "mutated"

	assert.Equal(t, 1.0, c.Score)
	assert.Equal(t, []string{"missing count"}, c.Issues)
	assert.Equal(t, 0.0, NewCritique(-0.2, nil, "").Score)
}

func TestTaskResult_Text(t *testing.T) {
	var nilResult *TaskResult
	assert.Equal(t, "", nilResult.Text())
	assert.Equal(t, 0.0, nilResult.ScoreValue())

	raw := &TaskResult{RawOutput: "plain"}
	assert.Equal(t, "plain", raw.Text())

	parsed := &TaskResult{RawOutput: "ignored", ParsedOutput: map[string]any{"a": 1}}
	assert.Equal(t, `{"a":1}`, parsed.Text())
}

func TestAgentIdentity(t *testing.T) {
	assert.ErrorIs(t, AgentIdentity{}.Validate(), ErrInvalidAgent)
	a := AgentIdentity{AgentID: "writer", Capabilities: []string{"Summarization"}}
	assert.NoError(t, a.Validate())
	assert.True(t, a.HasCapability("summarization"))
	assert.False(t, a.HasCapability("translation"))
}
