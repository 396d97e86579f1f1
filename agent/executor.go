package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/verimesh/compress"
	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/flow"
	internalutil "github.com/hupe1980/verimesh/internal/util"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/tool"
)

// ErrNilTask is returned when an operation receives no task.
var ErrNilTask = errors.New("nil task")

// DefaultMaxToolTurns bounds the tool relay of one Executor call.
const DefaultMaxToolTurns = 5

// NonEmptyEmphasis is appended to the task when the first output was empty.
const NonEmptyEmphasis = "Important: your previous reply was empty or declined the task. " +
	"Produce a complete, non-empty answer now."

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Instruction Instruction
	// Tools resolves and invokes the tools a task references. Nil disables
	// tool use.
	Tools tool.Collaborator
	// MaxToolTurns bounds the model turns spent on tool calls.
	MaxToolTurns int
	// MaxParallelTools bounds concurrent tool invocations within one turn.
	MaxParallelTools int
	// Timeout is the per gateway call timeout; zero uses the gateway default.
	Timeout time.Duration
	// Compressor shrinks context refs to BudgetTokens. Nil disables
	// compression.
	Compressor   *compress.Compressor
	BudgetTokens int
	// Processors override the prompt assembly pipeline.
	Processors []flow.RequestProcessor
	Logger     logging.Logger
}

// Executor performs the primary task call. It never retries; transport
// failures are returned as *model.GatewayError for the caller to handle.
type Executor struct {
	gateway *model.Gateway
	relay   *flow.ToolRelay
	opts    ExecutorOptions
}

// NewExecutor creates an Executor sending requests through gateway.
func NewExecutor(gateway *model.Gateway, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		Instruction:  NewInstructionFromText(DefaultInstruction),
		MaxToolTurns: DefaultMaxToolTurns,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Instruction.IsZero() {
		opts.Instruction = NewInstructionFromText(DefaultInstruction)
	}
	if opts.MaxToolTurns <= 0 {
		opts.MaxToolTurns = DefaultMaxToolTurns
	}

	e := &Executor{gateway: gateway, opts: opts}
	if opts.Tools != nil {
		e.relay = flow.NewToolRelay(opts.Tools, func(o *flow.RelayOptions) {
			o.MaxParallel = opts.MaxParallelTools
			o.Logger = opts.Logger
		})
	}
	return e
}

type runOptions struct {
	emphasis string
}

// RunOption adjusts a single Executor call.
type RunOption func(o *runOptions)

// WithNonEmptyEmphasis asks the model explicitly for a non-empty answer.
func WithNonEmptyEmphasis() RunOption {
	return WithEmphasis(NonEmptyEmphasis)
}

// WithEmphasis appends text to the task message.
func WithEmphasis(text string) RunOption {
	return func(o *runOptions) { o.emphasis = text }
}

// Run executes task for identity with refs as context and returns the raw
// model output.
func (e *Executor) Run(ctx context.Context, task *core.Task, identity core.AgentIdentity, refs []core.ContextRef, opts ...RunOption) (string, error) {
	if task == nil {
		return "", ErrNilTask
	}
	var ro runOptions
	for _, fn := range opts {
		fn(&ro)
	}

	instruction, err := e.opts.Instruction.Resolve(identity, task)
	if err != nil {
		return "", fmt.Errorf("resolve instruction: %w", err)
	}

	turn := &flow.Turn{
		Task:        task,
		Identity:    identity,
		Instruction: instruction,
		Refs:        refs,
		Emphasis:    ro.emphasis,
	}

	if e.opts.Compressor != nil {
		prompt, err := internalutil.RenderTemplate(instruction, turn.Vars())
		if err != nil {
			return "", fmt.Errorf("render instruction: %w", err)
		}
		prompt += "\n" + task.Description + "\n" + task.OutputSchema.Instructions()
		turn.Refs, err = e.opts.Compressor.Compress(ctx, refs, prompt, e.opts.BudgetTokens)
		if err != nil {
			return "", err
		}
	}

	turn.Tools = e.resolveTools(ctx, task)

	req, err := flow.Assemble(turn, e.opts.Processors...)
	if err != nil {
		return "", fmt.Errorf("assemble request: %w", err)
	}

	limiter := core.NewModelLimiter(e.opts.MaxToolTurns)
	for {
		resp, err := e.gateway.Send(ctx, req, e.opts.Timeout)
		if err != nil {
			return "", err
		}

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 || e.relay == nil {
			return resp.Text(), nil
		}
		if err := limiter.Increment(); err != nil {
			e.opts.Logger.Warn("executor.tool_budget.exhausted",
				"task_id", task.ID,
				"agent_id", identity.AgentID,
				"turns", limiter.Count()-1,
			)
			return resp.Text(), nil
		}

		e.opts.Logger.Debug("executor.tool_calls", "task_id", task.ID, "count", len(calls))
		results := e.relay.Execute(ctx, calls)
		if err := ctx.Err(); err != nil {
			return "", err
		}
		req.Contents = append(req.Contents, resp.Content, results)
	}
}

// resolveTools returns the specs of the tools the task references, in
// reference order. Listing failures are logged and leave the call without
// tools.
func (e *Executor) resolveTools(ctx context.Context, task *core.Task) []tool.ToolSpec {
	names := task.ToolNames()
	if e.opts.Tools == nil || len(names) == 0 {
		return nil
	}
	available, err := e.opts.Tools.ListTools(ctx)
	if err != nil {
		e.opts.Logger.Warn("executor.list_tools.failed", "task_id", task.ID, "error", err)
		return nil
	}
	byName := make(map[string]tool.ToolSpec, len(available))
	for _, spec := range available {
		byName[spec.Name] = spec
	}

	specs := make([]tool.ToolSpec, 0, len(names))
	var missing []string
	for _, name := range names {
		spec, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		specs = append(specs, spec)
	}
	if len(missing) > 0 {
		e.opts.Logger.Warn("executor.tools.missing", "task_id", task.ID, "tools", strings.Join(missing, ","))
	}
	return specs
}
