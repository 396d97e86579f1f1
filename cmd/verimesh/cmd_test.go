package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verimesh/config"
	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/dispatch"
	"github.com/hupe1980/verimesh/schema"
)

const sampleTaskFile = `
agents:
  - agent_id: counter
    role: analyst
    capabilities: [count, words]
    memory_enabled: true
  - agent_id: writer
    role: author
    capabilities: [poem]
tasks:
  - id: wc
    description: Count the words in the sentence.
    output:
      - name: count
        type: int
      - name: note
        type: string
        optional: true
    tools: [wc]
    knowledge:
      - The sentence is "the quick brown fox".
  - description: Write a short poem.
    requirements: [poem]
`

func TestParseTaskFile(t *testing.T) {
	tf, err := parseTaskFile([]byte(sampleTaskFile))
	require.NoError(t, err)
	require.Len(t, tf.Agents, 2)
	assert.Equal(t, []string{"count", "words"}, tf.Agents[0].Capabilities)
	assert.True(t, tf.Agents[0].MemoryEnabled)

	tasks, err := tf.BuildTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	wc := tasks[0]
	assert.Equal(t, "wc", wc.ID)
	assert.Equal(t, []schema.FieldSpec{
		{Name: "count", Type: schema.TypeInteger, Required: true},
		{Name: "note", Type: schema.TypeText},
	}, wc.OutputSchema.Fields)
	assert.Equal(t, []string{"wc"}, wc.ToolNames())
	require.Len(t, wc.ContextRefs, 1)
	assert.Contains(t, wc.ContextRefs[0].Text(), "quick brown fox")

	assert.NotEmpty(t, tasks[1].ID)
	assert.Equal(t, []string{"poem"}, tasks[1].Requirements)
	assert.True(t, tasks[1].OutputSchema.IsZero())
}

func TestParseTaskFile_Invalid(t *testing.T) {
	_, err := parseTaskFile([]byte("agents: [{agent_id: a}]\n"))
	assert.ErrorContains(t, err, "no tasks")

	_, err = parseTaskFile([]byte("tasks: [{description: x}]\n"))
	assert.ErrorContains(t, err, "no agents")

	tf, err := parseTaskFile([]byte("agents: [{agent_id: a}]\ntasks: [{description: x, output: [{name: n, type: blob}]}]\n"))
	require.NoError(t, err)
	_, err = tf.BuildTasks()
	assert.ErrorContains(t, err, "unknown field type")

	tf, err = parseTaskFile([]byte("agents: [{agent_id: a}]\ntasks: [{id: x, description: a}, {id: x, description: b}]\n"))
	require.NoError(t, err)
	_, err = tf.BuildTasks()
	assert.ErrorContains(t, err, "duplicate id")
}

func TestNewModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test")
	t.Setenv("ANTHROPIC_API_KEY", "test")

	for _, provider := range []string{config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderOllama} {
		cfg := config.Default().Gateway
		cfg.Provider = provider
		cfg.Model = "some-model"
		m, err := newModel(cfg)
		require.NoError(t, err, provider)
		assert.NotNil(t, m)
	}

	_, err := newModel(config.GatewayConfig{Provider: "acme"})
	assert.ErrorContains(t, err, "unknown provider")
}

func TestReport(t *testing.T) {
	agents := []core.AgentIdentity{{AgentID: "counter", Capabilities: []string{"count"}}, {AgentID: "other"}}
	tasks := []*core.Task{
		core.NewTask("count things", schema.SchemaSpec{}, func(o *core.TaskOptions) { o.ID = "a" }),
		core.NewTask("bake bread", schema.SchemaSpec{}, func(o *core.TaskOptions) { o.ID = "b" }),
	}
	assignment, err := dispatch.New().Assign(tasks, agents)
	require.NoError(t, err)

	score := 0.9
	results := map[string]*core.TaskResult{
		"a": {RawOutput: "3", Score: &score, Accepted: true},
		"b": {RawOutput: "", Err: errors.New("provider down")},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, newReport(assignment, results)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	entries := decoded["assignments"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "counter", entries[0].(map[string]any)["agent_id"])
	assert.Contains(t, entries[1].(map[string]any)["fallback"], "no_eligible_agent")

	res := decoded["results"].(map[string]any)
	assert.Equal(t, true, res["a"].(map[string]any)["accepted"])
	assert.Equal(t, "provider down", res["b"].(map[string]any)["error"])
	assert.Empty(t, results["b"].ErrorMessage, "report must not mutate results")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "dev\n", out.String())
}

func TestRunCommand_RequiresTasks(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	assert.Error(t, root.Execute())
}
