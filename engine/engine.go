package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/dispatch"
	"github.com/hupe1980/verimesh/logging"
)

// DefaultConcurrency is the number of tasks Dispatch runs at once.
const DefaultConcurrency = 4

const tracerName = "github.com/hupe1980/verimesh/engine"

var (
	// ErrNilTask is returned for a nil task.
	ErrNilTask = errors.New("engine: nil task")
	// ErrUnknownAgent is returned when an identity is not registered while
	// the registry is in strict mode.
	ErrUnknownAgent = errors.New("engine: unknown agent")
	// ErrExecutionNotFound is returned by Stop for an id that is not running.
	ErrExecutionNotFound = errors.New("engine: execution not found")
	// ErrTaskRejected wraps a before_task callback error.
	ErrTaskRejected = errors.New("engine: task rejected")
)

// Controller runs the reliability loop for one task.
type Controller interface {
	Run(ctx context.Context, task *core.Task, identity core.AgentIdentity) (*core.TaskResult, error)
}

// Options configures an Engine.
type Options struct {
	// Concurrency bounds the tasks Dispatch runs in parallel.
	Concurrency int
	// Dispatcher assigns tasks to agents. Defaults to dispatch.New().
	Dispatcher *dispatch.Dispatcher
	// StrictAgents makes Execute reject identities that were not registered.
	StrictAgents   bool
	Callbacks      *CallbackManager
	TracerProvider trace.TracerProvider
	Logger         logging.Logger
}

// Engine owns the agent registry and runs tasks through a Controller. It is
// safe for concurrent use.
type Engine struct {
	controller Controller
	dispatcher *dispatch.Dispatcher
	callbacks  *CallbackManager
	tracer     trace.Tracer
	logger     logging.Logger
	opts       Options

	mu     sync.RWMutex
	agents map[string]core.AgentIdentity
	order  []string

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// New creates an engine around controller.
func New(controller Controller, optFns ...func(o *Options)) *Engine {
	opts := Options{Concurrency: DefaultConcurrency}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New(func(o *dispatch.Options) { o.Logger = opts.Logger })
	}
	if opts.Callbacks == nil {
		opts.Callbacks = NewCallbackManager()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Engine{
		controller: controller,
		dispatcher: opts.Dispatcher,
		callbacks:  opts.Callbacks,
		tracer:     opts.TracerProvider.Tracer(tracerName),
		logger:     opts.Logger,
		opts:       opts,
		agents:     make(map[string]core.AgentIdentity),
		active:     make(map[string]context.CancelFunc),
	}
}

// Register adds or replaces an agent identity.
func (e *Engine) Register(identity core.AgentIdentity) error {
	if err := identity.Validate(); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.agents[identity.AgentID]; !ok {
		e.order = append(e.order, identity.AgentID)
	}
	e.agents[identity.AgentID] = identity
	return nil
}

// Agent returns the registered identity with the given id.
func (e *Engine) Agent(id string) (core.AgentIdentity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	return a, ok
}

// Agents returns the registered identities in registration order.
func (e *Engine) Agents() []core.AgentIdentity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.AgentIdentity, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.agents[id])
	}
	return out
}

// Callbacks returns the engine's callback manager.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Execute runs a single task. The error return is reserved for invalid
// input, rejection by a before_task callback and cancellation; a task that
// was not accepted is reported through the result.
func (e *Engine) Execute(ctx context.Context, task *core.Task, identity core.AgentIdentity) (*core.TaskResult, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if err := identity.Validate(); err != nil {
		return nil, fmt.Errorf("execute task %s: %w", task.ID, err)
	}
	if e.opts.StrictAgents {
		if _, ok := e.Agent(identity.AgentID); !ok {
			return nil, fmt.Errorf("execute task %s: %w: %s", task.ID, ErrUnknownAgent, identity.AgentID)
		}
	}

	ctx, span := e.tracer.Start(ctx, "verimesh.execute", trace.WithAttributes(
		attribute.String("verimesh.task_id", task.ID),
		attribute.String("verimesh.agent_id", identity.AgentID),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := e.track(task.ID, cancel); err != nil {
		return nil, e.fail(ctx, span, task, identity, err)
	}
	defer e.untrack(task.ID)

	if err := e.callbacks.Execute(ctx, &CallbackContext{Type: CallbackBeforeTask, Task: task, Identity: identity}); err != nil {
		return nil, e.fail(ctx, span, task, identity, fmt.Errorf("%w: %w", ErrTaskRejected, err))
	}

	result, err := e.controller.Run(ctx, task, identity)
	if err != nil {
		return nil, e.fail(ctx, span, task, identity, err)
	}

	span.SetAttributes(
		attribute.Bool("verimesh.accepted", result.Accepted),
		attribute.Int("verimesh.round_count", result.RoundCount),
		attribute.Float64("verimesh.score", result.ScoreValue()),
	)
	if result.Err != nil {
		span.SetStatus(codes.Error, result.Err.Error())
	}

	if err := e.callbacks.Execute(ctx, &CallbackContext{Type: CallbackAfterTask, Task: task, Identity: identity, Result: result}); err != nil {
		e.logger.Warn("engine.callback.failed", "task_id", task.ID, "type", CallbackAfterTask, "error", err)
	}
	return result, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, task *core.Task, identity core.AgentIdentity, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if cbErr := e.callbacks.Execute(context.WithoutCancel(ctx), &CallbackContext{Type: CallbackOnError, Task: task, Identity: identity, Err: err}); cbErr != nil {
		e.logger.Warn("engine.callback.failed", "task_id", task.ID, "type", CallbackOnError, "error", cbErr)
	}
	return err
}

// Stop cancels the running execution of taskID.
func (e *Engine) Stop(taskID string) error {
	e.activeMu.Lock()
	cancel, ok := e.active[taskID]
	e.activeMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, taskID)
	}
	cancel()
	return nil
}

// Running returns the number of executions in flight.
func (e *Engine) Running() int {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return len(e.active)
}

func (e *Engine) track(taskID string, cancel context.CancelFunc) error {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if _, busy := e.active[taskID]; busy {
		return fmt.Errorf("execute task %s: already running", taskID)
	}
	e.active[taskID] = cancel
	return nil
}

func (e *Engine) untrack(taskID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	delete(e.active, taskID)
}

// Dispatch assigns tasks to agents and runs them with bounded concurrency.
// When agents is empty the registered agents are used. Results are keyed by
// task id; on cancellation the results collected so far are returned along
// with the context error.
func (e *Engine) Dispatch(ctx context.Context, tasks []*core.Task, agents []core.AgentIdentity) (*dispatch.Assignment, map[string]*core.TaskResult, error) {
	if len(agents) == 0 {
		agents = e.Agents()
	}
	for i, task := range tasks {
		if task == nil {
			return nil, nil, fmt.Errorf("dispatch task %d: %w", i, ErrNilTask)
		}
		if task.Finalized() {
			return nil, nil, fmt.Errorf("dispatch task %s: %w", task.ID, core.ErrTaskFinalized)
		}
	}

	ctx, span := e.tracer.Start(ctx, "verimesh.dispatch", trace.WithAttributes(
		attribute.Int("verimesh.tasks", len(tasks)),
		attribute.Int("verimesh.agents", len(agents)),
	))
	defer span.End()

	assignment, err := e.dispatcher.Assign(tasks, agents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	byID := make(map[string]core.AgentIdentity, len(agents))
	for _, a := range agents {
		byID[a.AgentID] = a
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*core.TaskResult, len(tasks))
		g       errgroup.Group
	)
	g.SetLimit(e.opts.Concurrency)
	for _, task := range tasks {
		agentID, _ := assignment.AgentFor(task.ID)
		identity := byID[agentID]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.Execute(ctx, task, identity)
			if err != nil {
				return err
			}
			mu.Lock()
			results[task.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return assignment, results, err
	}

	e.logger.Info("dispatch.completed",
		"tasks", len(tasks),
		"fallbacks", len(assignment.Fallbacks()),
	)
	return assignment, results, nil
}
