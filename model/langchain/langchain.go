// Package langchain adapts any langchaingo llms.Model (ollama, openai,
// anthropic, bedrock...) to model.Model.
package langchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/model"
)

const providerName = "langchaingo"

// Options configures the adapter.
type Options struct {
	Name        string
	Temperature float64
	MaxTokens   int
	// JSONMode requests JSON output when a request carries a schema hint
	// and no tools.
	JSONMode bool
}

// Model wraps a langchaingo llms.Model.
type Model struct {
	llm  llms.Model
	opts Options
}

var _ model.Model = (*Model)(nil)

// New wraps llm.
func New(llm llms.Model, optFns ...func(o *Options)) *Model {
	opts := Options{
		Name:        "langchaingo",
		Temperature: 0.2,
		MaxTokens:   2048,
		JSONMode:    true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{llm: llm, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		callOpts := []llms.CallOption{
			llms.WithTemperature(m.opts.Temperature),
		}
		if m.opts.MaxTokens > 0 {
			callOpts = append(callOpts, llms.WithMaxTokens(m.opts.MaxTokens))
		}
		if len(req.Tools) > 0 {
			callOpts = append(callOpts, llms.WithTools(buildTools(req.Tools)))
		} else if req.SchemaHint != nil && m.opts.JSONMode {
			callOpts = append(callOpts, llms.WithJSONMode())
		}

		resp, err := m.llm.GenerateContent(ctx, buildMessages(req), callOpts...)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				errCh <- model.NewGatewayError(model.KindTimeout, providerName, err)
				return
			}
			if ctx.Err() != nil {
				errCh <- ctx.Err()
				return
			}
			errCh <- model.NewGatewayError(model.KindProviderError, providerName, fmt.Errorf("generate content: %w", err))
			return
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			errCh <- model.NewGatewayError(model.KindMalformed, providerName, errors.New("no choices returned"))
			return
		}

		choice := resp.Choices[0]
		var parts []core.Part
		if choice.Content != "" {
			parts = append(parts, core.TextPart{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			}})
		}

		finish := choice.StopReason
		if finish == "" {
			finish = "stop"
		}
		out <- model.Response{
			Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
			FinishReason: finish,
			Usage:        usageFrom(choice.GenerationInfo),
		}
	}()
	return out, errCh
}

// Info returns metadata describing this model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Name, Provider: providerName, SupportsTools: true}
}

func buildMessages(req model.Request) []llms.MessageContent {
	var messages []llms.MessageContent
	hasSystem := false
	for _, c := range req.Contents {
		if c.Role == core.RoleSystem {
			hasSystem = true
			break
		}
	}
	if !hasSystem && req.Instructions != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.Instructions))
	}

	for _, c := range req.Contents {
		switch c.Role {
		case core.RoleSystem:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, c.Text()))
		case core.RoleAssistant:
			msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			for _, p := range c.Parts {
				switch part := p.(type) {
				case core.TextPart:
					if part.Text != "" {
						msg.Parts = append(msg.Parts, llms.TextPart(part.Text))
					}
				case core.FunctionCallPart:
					msg.Parts = append(msg.Parts, llms.ToolCall{
						ID:   part.FunctionCall.ID,
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      part.FunctionCall.Name,
							Arguments: part.FunctionCall.Arguments,
						},
					})
				}
			}
			if len(msg.Parts) > 0 {
				messages = append(messages, msg)
			}
		case core.RoleTool:
			for _, p := range c.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					messages = append(messages, llms.MessageContent{
						Role: llms.ChatMessageTypeTool,
						Parts: []llms.ContentPart{llms.ToolCallResponse{
							ToolCallID: fr.FunctionResponse.ID,
							Name:       fr.FunctionResponse.Name,
							Content:    core.FunctionResponseText(fr.FunctionResponse),
						}},
					})
				}
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, text))
			}
		}
	}
	return messages
}

func buildTools(tools []model.ToolDefinition) []llms.Tool {
	out := make([]llms.Tool, len(tools))
	for i, t := range tools {
		out[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		}
	}
	return out
}

// usageFrom reads the token counters most langchaingo providers put into
// GenerationInfo.
func usageFrom(info map[string]any) *model.TokenUsage {
	if info == nil {
		return nil
	}
	prompt, okP := asInt(info["PromptTokens"])
	completion, okC := asInt(info["CompletionTokens"])
	if !okP && !okC {
		return nil
	}
	total, ok := asInt(info["TotalTokens"])
	if !ok {
		total = prompt + completion
	}
	return &model.TokenUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
