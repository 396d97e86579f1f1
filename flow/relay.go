package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/tool"
)

// RelayOptions configures a ToolRelay.
type RelayOptions struct {
	// MaxParallel bounds concurrent invocations; < 1 means one goroutine per
	// call.
	MaxParallel int
	Logger      logging.Logger
}

// ToolRelay forwards model tool calls to a tool.Collaborator.
//
// Execute never fails: every call yields exactly one function response, in
// the order of the calls. Tool errors and recovered panics become the
// response's Error text so the model can react to them on its next turn.
type ToolRelay struct {
	collab tool.Collaborator
	opts   RelayOptions
}

// NewToolRelay creates a relay for collab.
func NewToolRelay(collab tool.Collaborator, optFns ...func(o *RelayOptions)) *ToolRelay {
	opts := RelayOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &ToolRelay{collab: collab, opts: opts}
}

// Execute runs calls and returns a tool role content holding the responses.
func (r *ToolRelay) Execute(ctx context.Context, calls []core.FunctionCall) core.Content {
	out := core.Content{Role: core.RoleTool, Parts: make([]core.Part, len(calls))}
	n := len(calls)
	if n == 0 {
		return out
	}

	maxPar := r.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()
	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup
	for i, fc := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, fc core.FunctionCall) {
			defer wg.Done()
			defer func() { <-sem }()
			out.Parts[idx] = core.FunctionResponsePart{FunctionResponse: r.invoke(ctx, fc)}
		}(i, fc)
	}
	wg.Wait()

	r.opts.Logger.Debug("tool.relay.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return out
}

func (r *ToolRelay) invoke(ctx context.Context, fc core.FunctionCall) (resp core.FunctionResponse) {
	resp = core.FunctionResponse{ID: fc.ID, Name: fc.Name}
	if err := ctx.Err(); err != nil {
		resp.Error = err.Error()
		return resp
	}

	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			resp.Error = tool.NewToolError(fc.Name, fmt.Sprintf("arguments are not a JSON object: %v", err), tool.CodeValidation).Error()
			return resp
		}
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("tool.relay.panic", "function", fc.Name, "recover", p)
			resp.Response = nil
			resp.Error = tool.NewToolError(fc.Name, fmt.Sprintf("panic: %v", p), tool.CodeExecution).Error()
		}
	}()

	result, err := r.collab.Invoke(ctx, fc.Name, args)
	r.opts.Logger.Info("tool.relay.executed",
		"function", fc.Name,
		"function_call_id", fc.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Response = result
	return resp
}
