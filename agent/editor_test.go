package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/internal/testutil"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/schema"
)

func TestMergeRevision(t *testing.T) {
	spec := schema.New(
		schema.Field("title", schema.TypeText),
		schema.OptionalField("notes", schema.TypeText),
	)
	tests := []struct {
		name      string
		candidate string
		revision  string
		check     func(t *testing.T, merged string)
	}{
		{
			name:      "adds missing field and keeps the rest",
			candidate: `{"title":"Report","tags":["a"]}`,
			revision:  `{"count":3}`,
			check: func(t *testing.T, merged string) {
				assert.Equal(t, "Report", gjson.Get(merged, "title").String())
				assert.Equal(t, int64(3), gjson.Get(merged, "count").Int())
				assert.Equal(t, `["a"]`, gjson.Get(merged, "tags").Raw)
			},
		},
		{
			name:      "overrides flagged field",
			candidate: `{"title":"Reprot","count":3}`,
			revision:  "```json\n{\"title\":\"Report\"}\n```",
			check: func(t *testing.T, merged string) {
				assert.Equal(t, "Report", gjson.Get(merged, "title").String())
				assert.Equal(t, int64(3), gjson.Get(merged, "count").Int())
			},
		},
		{
			name:      "keys with path syntax",
			candidate: `{"a.b":1}`,
			revision:  `{"a.b":2,"x*y":true}`,
			check: func(t *testing.T, merged string) {
				m := gjson.Parse(merged).Map()
				assert.Equal(t, int64(2), m["a.b"].Int())
				assert.True(t, m["x*y"].Bool())
			},
		},
		{
			name:      "null removes extraneous and optional fields",
			candidate: `{"title":"Report","notes":"draft","debug":true}`,
			revision:  `{"notes":null,"debug":null}`,
			check: func(t *testing.T, merged string) {
				m := gjson.Parse(merged).Map()
				assert.Equal(t, "Report", m["title"].String())
				assert.NotContains(t, m, "notes")
				assert.NotContains(t, m, "debug")
			},
		},
		{
			name:      "null never removes a required field",
			candidate: `{"title":"Report"}`,
			revision:  `{"title":null,"missing":null}`,
			check: func(t *testing.T, merged string) {
				assert.Equal(t, "Report", gjson.Get(merged, "title").String())
				assert.False(t, gjson.Get(merged, "missing").Exists())
			},
		},
		{
			name:      "free text candidate",
			candidate: "first draft",
			revision:  "second draft",
			check: func(t *testing.T, merged string) {
				assert.Equal(t, "second draft", merged)
			},
		},
		{
			name:      "revision without object",
			candidate: `{"a":1}`,
			revision:  "I fixed it",
			check: func(t *testing.T, merged string) {
				assert.Equal(t, "I fixed it", merged)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, MergeRevision(tt.candidate, tt.revision, spec))
		})
	}
}

func TestEditor_Revise(t *testing.T) {
	m := model.NewScriptedModel(model.Reply(`{"count": 3}`))
	editor := NewEditor(model.NewGateway(m))
	task := testutil.NewTaskBuilder("Describe the report").Field("title", schema.TypeText).Field("count", schema.TypeInteger).Build()
	critique := core.NewCritique(0, []string{"count: missing required field"}, "Add the count field.")

	out, err := editor.Revise(context.Background(), task, `{"title":"Report"}`, critique)
	require.NoError(t, err)

	parsed, err := schema.Validate(out, task.OutputSchema)
	require.NoError(t, err)
	assert.Equal(t, "Report", parsed["title"])
	assert.Equal(t, int64(3), parsed["count"])

	req := m.Requests()[0]
	text := requestText(req)
	assert.Contains(t, text, "count: missing required field")
	assert.Contains(t, text, "Add the count field.")
	assert.Contains(t, text, `{"title":"Report"}`)
	assert.NotNil(t, req.SchemaHint)
}

func TestEditor_EmptyRevisionIsMalformed(t *testing.T) {
	editor := NewEditor(model.NewGateway(model.NewScriptedModel(model.Reply("   "))))
	_, err := editor.Revise(context.Background(), testutil.NewTaskBuilder("t").Build(), "draft", core.NewCritique(0.2, nil, ""))

	var gerr *model.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, model.KindMalformed, gerr.Kind)
}

func TestReflectionGate(t *testing.T) {
	gate := DefaultReflectionGate()
	tests := []struct {
		in   string
		want Verdict
	}{
		{"", Empty},
		{"   \n\t", Empty},
		{"I'm sorry, but I can't help with that.", Empty},
		{"I cannot assist with this request.", Empty},
		{"As an AI language model, I do not have opinions.", Empty},
		{`{"count": 3}`, Pass},
		{"The answer is 42.", Pass},
		{"Sorry for the delay: the total is 7.", Pass},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.Check(tt.in))
		})
	}
}

func TestReflectionGate_CustomPatterns(t *testing.T) {
	gate, err := NewReflectionGate(`(?i)^n/a$`)
	require.NoError(t, err)
	assert.Equal(t, Empty, gate.Check(" N/A "))
	assert.Equal(t, Pass, gate.Check("I'm sorry, I can't"))

	_, err = NewReflectionGate(`(`)
	assert.Error(t, err)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "pass", Pass.String())
	assert.Equal(t, "empty", Empty.String())
}
