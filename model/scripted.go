package model

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/verimesh/core"
)

// ErrScriptExhausted is returned by ScriptedModel when no steps remain.
var ErrScriptExhausted = errors.New("scripted model: no steps left")

// ScriptStep is one canned model turn.
type ScriptStep struct {
	Text  string
	Calls []core.FunctionCall
	Err   error
	// Delay postpones the response; the call aborts if ctx ends first.
	Delay time.Duration
}

// Reply is a step answering with text.
func Reply(text string) ScriptStep { return ScriptStep{Text: text} }

// Fail is a step failing with err.
func Fail(err error) ScriptStep { return ScriptStep{Err: err} }

// CallTool is a step requesting a single tool call.
func CallTool(id, name, arguments string) ScriptStep {
	return ScriptStep{Calls: []core.FunctionCall{{ID: id, Name: name, Arguments: arguments}}}
}

// ScriptedModel replays steps in order and records every request. It is
// safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	steps    []ScriptStep
	requests []Request
}

// NewScriptedModel builds a model replaying steps.
func NewScriptedModel(steps ...ScriptStep) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "scripted", SupportsTools: true},
		steps: append([]ScriptStep(nil), steps...),
	}
}

// Push appends steps.
func (m *ScriptedModel) Push(steps ...ScriptStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, steps...)
}

// Requests returns a copy of the recorded requests.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Remaining returns the number of unused steps.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

func (m *ScriptedModel) next(req Request) (ScriptStep, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.steps) == 0 {
		return ScriptStep{}, false
	}
	step := m.steps[0]
	m.steps = m.steps[1:]
	return step, true
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	step, ok := m.next(req)
	if !ok {
		step = ScriptStep{Err: ErrScriptExhausted}
	}
	return emit(ctx, func() (Response, error) {
		if step.Err != nil {
			return Response{}, step.Err
		}
		return stepResponse(step), nil
	}, step.Delay)
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

func stepResponse(step ScriptStep) Response {
	var parts []core.Part
	if step.Text != "" {
		parts = append(parts, core.TextPart{Text: step.Text})
	}
	finish := "stop"
	for _, c := range step.Calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
		finish = "tool_calls"
	}
	return Response{
		Content:      core.Content{Role: core.RoleAssistant, Parts: parts},
		FinishReason: finish,
	}
}

// FuncModel adapts a function into a Model.
type FuncModel struct {
	info Info
	fn   func(ctx context.Context, req Request) (Response, error)
}

// NewFuncModel builds a Model calling fn for every request.
func NewFuncModel(fn func(ctx context.Context, req Request) (Response, error)) *FuncModel {
	return &FuncModel{info: Info{Name: "func", Provider: "func", SupportsTools: true}, fn: fn}
}

// TextResponse is a final assistant response carrying text.
func TextResponse(text string) Response {
	return stepResponse(ScriptStep{Text: text})
}

// Generate implements Model.
func (m *FuncModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	return emit(ctx, func() (Response, error) { return m.fn(ctx, req) }, 0)
}

// Info implements Model.
func (m *FuncModel) Info() Info { return m.info }

func emit(ctx context.Context, produce func() (Response, error), delay time.Duration) (<-chan Response, <-chan error) {
	out := make(chan Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-timer.C:
			}
		}
		resp, err := produce()
		if err != nil {
			errCh <- err
			return
		}
		out <- resp
	}()
	return out, errCh
}
