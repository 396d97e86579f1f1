// Package openai implements model.Model on the OpenAI Chat Completions API
// including tool calling and JSON output mode.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/model"
)

const providerName = "openai"

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Model wraps the OpenAI Chat Completions API behind model.Model.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a model using the default client (OPENAI_API_KEY).
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.2,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model with a single non-streaming completion.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)

		resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
		if err != nil {
			errCh <- classify(err)
			return
		}
		if len(resp.Choices) == 0 {
			errCh <- model.NewGatewayError(model.KindMalformed, providerName, errors.New("no choices returned"))
			return
		}
		ch0 := resp.Choices[0]
		parts := make([]core.Part, 0, len(ch0.Message.ToolCalls)+1)
		if ch0.Message.Content != "" {
			parts = append(parts, core.TextPart{Text: ch0.Message.Content})
		}
		for _, tc := range ch0.Message.ToolCalls {
			parts = append(parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}})
		}
		out <- model.Response{
			ID:           resp.ID,
			Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
			FinishReason: ch0.FinishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.PromptTokens),
				CompletionTokens: int(resp.Usage.CompletionTokens),
				TotalTokens:      int(resp.Usage.TotalTokens),
			},
		}
	}()
	return out, errCh
}

// classify maps SDK errors onto gateway error kinds.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.FromStatus(providerName, apiErr.StatusCode, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewGatewayError(model.KindTimeout, providerName, err)
	}
	return model.NewGatewayError(model.KindProviderError, providerName, fmt.Errorf("openai api error: %w", err))
}

func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if req.SchemaHint != nil && len(req.Tools) == 0 {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Function.Name,
					Description: openai.String(tdef.Function.Description),
					Parameters:  tdef.Function.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// buildMessages converts normalized contents into chat messages. Tool
// results follow the assistant turn that requested them.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	hasSystem := false
	for _, c := range req.Contents {
		if c.Role == core.RoleSystem {
			hasSystem = true
		}
	}
	if !hasSystem && req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	for _, c := range req.Contents {
		switch c.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(c.Text()))
		case core.RoleAssistant:
			calls := c.FunctionCalls()
			if len(calls) == 0 {
				messages = append(messages, openai.AssistantMessage(c.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
			for i, fc := range calls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID: fc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      fc.Name,
						Arguments: fc.Arguments,
					},
				}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls},
			})
		case core.RoleTool:
			for _, p := range c.Parts {
				if fr, ok := p.(core.FunctionResponsePart); ok {
					messages = append(messages, openai.ToolMessage(core.FunctionResponseText(fr.FunctionResponse), fr.FunctionResponse.ID))
				}
			}
		default:
			if text := c.Text(); text != "" {
				messages = append(messages, openai.UserMessage(text))
			}
		}
	}
	return messages
}

// Info returns metadata describing this model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.opts.Model, Provider: providerName, SupportsTools: true}
}
