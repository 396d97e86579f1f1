package langchain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/model"
)

type fakeLLM struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func drain(t *testing.T, m model.Model, req model.Request) (model.Response, error) {
	t.Helper()
	out, errs := m.Generate(context.Background(), req)
	var last model.Response
	for r := range out {
		last = r
	}
	for err := range errs {
		if err != nil {
			return last, err
		}
	}
	return last, nil
}

func TestGenerate_TextAndUsage(t *testing.T) {
	llm := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        `{"answer":"42"}`,
		GenerationInfo: map[string]any{"PromptTokens": 10, "CompletionTokens": 5},
	}}}}
	m := New(llm)

	resp, err := drain(t, m, model.Request{
		Instructions: "be precise",
		Contents:     []core.Content{core.NewTextContent(core.RoleUser, "question")},
		SchemaHint:   map[string]any{"type": "object"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"42"}`, resp.Text())
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	require.Len(t, llm.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, llm.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, llm.messages[1].Role)
	assert.True(t, llm.opts.JSONMode)
}

func TestGenerate_ToolCallsRoundTrip(t *testing.T) {
	llm := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           "c1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "lookup", Arguments: `{"q":"x"}`},
		}},
	}}}}
	m := New(llm)

	req := model.Request{
		Contents: []core.Content{
			core.NewTextContent(core.RoleUser, "find x"),
			{Role: core.RoleAssistant, Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c0", Name: "lookup", Arguments: "{}"}}}},
			{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c0", Name: "lookup", Response: "found"}}}},
		},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{Name: "lookup"}}},
	}
	resp, err := drain(t, m, req)
	require.NoError(t, err)

	calls := resp.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
	assert.Equal(t, `{"q":"x"}`, calls[0].Arguments)

	require.Len(t, llm.opts.Tools, 1)
	assert.False(t, llm.opts.JSONMode)
	require.Len(t, llm.messages, 3)
	tr, ok := llm.messages[2].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "found", tr.Content)
}

func TestGenerate_ErrorsAreClassified(t *testing.T) {
	m := New(&fakeLLM{err: errors.New("connection refused")})
	_, err := drain(t, m, model.Request{Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")}})

	var gerr *model.GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, model.KindProviderError, gerr.Kind)

	m = New(&fakeLLM{resp: &llms.ContentResponse{}})
	_, err = drain(t, m, model.Request{})
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, model.KindMalformed, gerr.Kind)
}
