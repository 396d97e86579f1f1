package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/verimesh/logging"
)

// Backend names a store implementation.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Provider names a model gateway adapter.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Config is the complete engine configuration.
type Config struct {
	Rounds      RoundsConfig      `koanf:"rounds"`
	Retry       RetryConfig       `koanf:"retry"`
	Gateway     GatewayConfig     `koanf:"gateway"`
	Compression CompressionConfig `koanf:"compression"`
	Dispatch    DispatchConfig    `koanf:"dispatch"`
	Memory      MemoryConfig      `koanf:"memory"`
	Durable     DurableConfig     `koanf:"durable"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Tools       ToolsConfig       `koanf:"tools"`
	Logging     logging.Config    `koanf:"logging"`
}

// RoundsConfig controls the round controller.
type RoundsConfig struct {
	// MaxRounds is the total number of rounds including the first.
	MaxRounds int     `koanf:"max_rounds"`
	Threshold float64 `koanf:"threshold"`
}

// RetryConfig controls transport retries of executor calls.
type RetryConfig struct {
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// GatewayConfig selects and tunes the model provider.
type GatewayConfig struct {
	Provider      string        `koanf:"provider"`
	Model         string        `koanf:"model"`
	BaseURL       string        `koanf:"base_url"`
	Timeout       time.Duration `koanf:"timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
	Temperature   float64       `koanf:"temperature"`
	MaxTokens     int64         `koanf:"max_tokens"`
	MaxToolTurns  int           `koanf:"max_tool_turns"`
}

// CompressionConfig controls the context compressor.
type CompressionConfig struct {
	// BudgetTokens <= 0 disables compression.
	BudgetTokens     int `koanf:"budget_tokens"`
	MinSummaryTokens int `koanf:"min_summary_tokens"`
	// Summarize uses the model for summaries instead of truncation.
	Summarize bool `koanf:"summarize"`
}

// DispatchConfig controls multi-agent dispatch.
type DispatchConfig struct {
	Concurrency  int    `koanf:"concurrency"`
	MinOverlap   int    `koanf:"min_overlap"`
	DefaultAgent string `koanf:"default_agent"`
}

// MemoryConfig selects the agent memory store.
type MemoryConfig struct {
	Enabled            bool   `koanf:"enabled"`
	Backend            string `koanf:"backend"`
	Path               string `koanf:"path"`
	RecallK            int    `koanf:"recall_k"`
	MaxRecordsPerAgent int    `koanf:"max_records_per_agent"`
}

// DurableConfig selects the checkpoint store.
type DurableConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Backend     string `koanf:"backend"`
	Path        string `koanf:"path"`
	AutoCleanup bool   `koanf:"auto_cleanup"`
}

// TelemetryConfig controls event emission.
type TelemetryConfig struct {
	// Enabled is the single switch for all telemetry.
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	Log        bool `koanf:"log"`
	Prometheus bool `koanf:"prometheus"`
	OTel       bool `koanf:"otel"`
}

// ToolsConfig lists external MCP tool servers.
type ToolsConfig struct {
	MCPServers []MCPServerConfig `koanf:"mcp_servers"`
}

// MCPServerConfig launches one MCP server over stdio.
type MCPServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Rounds: RoundsConfig{MaxRounds: 3, Threshold: 0.8},
		Retry: RetryConfig{
			MaxRetries:     2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
		},
		Gateway: GatewayConfig{
			Provider:     ProviderOpenAI,
			Timeout:      60 * time.Second,
			Temperature:  0.2,
			MaxTokens:    4096,
			MaxToolTurns: 5,
		},
		Compression: CompressionConfig{BudgetTokens: 8000, MinSummaryTokens: 32},
		Dispatch:    DispatchConfig{Concurrency: 4, MinOverlap: 1},
		Memory:      MemoryConfig{Backend: BackendMemory, RecallK: 3},
		Durable:     DurableConfig{Backend: BackendMemory, AutoCleanup: true},
		Telemetry:   TelemetryConfig{Enabled: true, BufferSize: 256, Log: true},
		Logging:     logging.Config{Level: "info", Format: "json"},
	}
}

// Validate checks value ranges and reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Rounds.MaxRounds >= 1, "rounds.max_rounds must be >= 1, got %d", c.Rounds.MaxRounds)
	check(c.Rounds.Threshold >= 0 && c.Rounds.Threshold <= 1, "rounds.threshold must be in [0,1], got %v", c.Rounds.Threshold)
	check(c.Retry.MaxRetries >= 0, "retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	check(c.Retry.InitialBackoff >= 0, "retry.initial_backoff must not be negative")
	check(c.Retry.MaxBackoff >= c.Retry.InitialBackoff, "retry.max_backoff must be >= retry.initial_backoff")

	switch strings.ToLower(c.Gateway.Provider) {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		check(false, "gateway.provider must be one of openai, anthropic, ollama, got %q", c.Gateway.Provider)
	}
	check(c.Gateway.Timeout > 0, "gateway.timeout must be positive")
	check(c.Gateway.RatePerSecond >= 0, "gateway.rate_per_second must not be negative")
	check(c.Gateway.Burst >= 0, "gateway.burst must not be negative")
	check(c.Gateway.MaxToolTurns >= 1, "gateway.max_tool_turns must be >= 1, got %d", c.Gateway.MaxToolTurns)

	check(c.Compression.MinSummaryTokens >= 0, "compression.min_summary_tokens must not be negative")
	check(c.Dispatch.Concurrency >= 1, "dispatch.concurrency must be >= 1, got %d", c.Dispatch.Concurrency)
	check(c.Dispatch.MinOverlap >= 0, "dispatch.min_overlap must not be negative")

	check(c.Memory.RecallK >= 0, "memory.recall_k must not be negative")
	check(c.Memory.MaxRecordsPerAgent >= 0, "memory.max_records_per_agent must not be negative")
	errs = append(errs, validateBackend("memory", c.Memory.Enabled, c.Memory.Backend, c.Memory.Path)...)
	errs = append(errs, validateBackend("durable", c.Durable.Enabled, c.Durable.Backend, c.Durable.Path)...)

	check(c.Telemetry.BufferSize >= 0, "telemetry.buffer_size must not be negative")
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	for i, s := range c.Tools.MCPServers {
		check(s.Command != "", "tools.mcp_servers[%d].command is required", i)
	}

	return errors.Join(errs...)
}

func validateBackend(section string, enabled bool, backend, path string) []error {
	if !enabled {
		return nil
	}
	switch backend {
	case BackendMemory:
		return nil
	case BackendSQLite:
		if path == "" {
			return []error{fmt.Errorf("%s.path is required for the sqlite backend", section)}
		}
		return nil
	default:
		return []error{fmt.Errorf("%s.backend must be memory or sqlite, got %q", section, backend)}
	}
}
