package main

import (
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/hupe1980/verimesh/config"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/model/anthropic"
	"github.com/hupe1980/verimesh/model/langchain"
	"github.com/hupe1980/verimesh/model/openai"
)

const defaultOllamaURL = "http://localhost:11434"

// newModel builds the provider adapter selected by cfg.
func newModel(cfg config.GatewayConfig) (model.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderOpenAI:
		var clientOpts []option.RequestOption
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
		}
		client := openaisdk.NewClient(clientOpts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil

	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil

	case config.ProviderOllama:
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = defaultOllamaURL
		}
		opts := []ollama.Option{ollama.WithServerURL(serverURL)}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return langchain.New(llm, func(o *langchain.Options) {
			o.Name = "ollama/" + cfg.Model
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int(cfg.MaxTokens)
			}
		}), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
