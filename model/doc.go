// Package model is the boundary between verimesh and language model
// providers.
//
// Providers implement Model (see model/openai, model/anthropic and
// model/langchain). Agents never call a Model directly; they go through a
// Gateway which adds:
//   - a per-call timeout
//   - a shared token bucket rate limiter (golang.org/x/time/rate)
//   - classification of every failure into a *GatewayError
//     (Timeout, RateLimited, ProviderError, Malformed)
//
// ScriptedModel and FuncModel are deterministic doubles for tests and
// examples.
package model
