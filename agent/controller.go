package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/durable"
	"github.com/hupe1980/verimesh/evaluation"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/schema"
	"github.com/hupe1980/verimesh/telemetry"
)

// State is a Round Controller state.
type State string

const (
	StateInit       State = "init"
	StateExecuting  State = "executing"
	StateValidating State = "validating"
	StateVerifying  State = "verifying"
	StateEditing    State = "editing"
	StateAccepted   State = "accepted"
	StateExhausted  State = "exhausted"
)

// Round controller defaults.
const (
	DefaultMaxRounds      = 3
	DefaultThreshold      = 0.8
	DefaultMaxRetries     = 2
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
	DefaultRecallK        = 3
)

// schemaFix is the required fix recorded for schema violations.
const schemaFix = "Return a single JSON object that satisfies the output schema."

// TaskRunner performs the primary call of a task.
type TaskRunner interface {
	Run(ctx context.Context, task *core.Task, identity core.AgentIdentity, refs []core.ContextRef, opts ...RunOption) (string, error)
}

var _ TaskRunner = (*Executor)(nil)

// ControllerOptions configures a RoundController.
type ControllerOptions struct {
	// MaxRounds is the total number of rounds, the first included.
	MaxRounds int
	// Threshold is the minimum critique score for acceptance.
	Threshold float64
	// MaxRetries is the number of transport retries of the primary call.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Memory, when set, is recalled before and recorded after each task of
	// an agent with MemoryEnabled.
	Memory  core.MemoryStore
	RecallK int

	// Checkpoints, when set, receives the progress of every execution.
	Checkpoints core.CheckpointStore
	AutoCleanup bool

	Telemetry *telemetry.Emitter
	Gate      *ReflectionGate
	// OnTransition observes every state change.
	OnTransition func(taskID string, from, to State)
	Logger       logging.Logger
}

// RoundController drives one task through execute, validate, verify and
// edit rounds until a candidate is accepted or the rounds are exhausted.
//
// The controller keeps no per-task state between calls and may run many
// tasks concurrently; calls for one task are strictly sequential.
type RoundController struct {
	executor TaskRunner
	verifier evaluation.Verifier
	editor   Reviser
	opts     ControllerOptions
}

// NewRoundController wires the three agents of a task execution.
func NewRoundController(executor TaskRunner, verifier evaluation.Verifier, editor Reviser, optFns ...func(o *ControllerOptions)) *RoundController {
	opts := ControllerOptions{
		MaxRounds:      DefaultMaxRounds,
		Threshold:      DefaultThreshold,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		RecallK:        DefaultRecallK,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRounds < 1 {
		opts.MaxRounds = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.Gate == nil {
		opts.Gate = DefaultReflectionGate()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &RoundController{executor: executor, verifier: verifier, editor: editor, opts: opts}
}

// candidate is a scored output of one round.
type candidate struct {
	raw    string
	parsed map[string]any
	score  float64
	valid  bool
	round  int
}

func (c *candidate) betterThan(other *candidate) bool {
	if other == nil {
		return true
	}
	if c.score != other.score {
		return c.score > other.score
	}
	return c.valid && !other.valid
}

// Run executes task on behalf of identity.
//
// A result is returned for every outcome except invalid input and
// cancellation: transport exhaustion, verifier or editor failures and
// exhausted rounds all produce a TaskResult with Accepted=false. The task
// is finalized with the returned result. A cancelled run returns the
// context error, leaves the task unfinalized and persists nothing.
func (c *RoundController) Run(ctx context.Context, task *core.Task, identity core.AgentIdentity) (*core.TaskResult, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if task.Finalized() {
		return nil, fmt.Errorf("run task %s: %w", task.ID, core.ErrTaskFinalized)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exec := durable.NewExecution(c.opts.Checkpoints, task.ID, identity.AgentID, func(o *durable.ExecutionOptions) {
		o.AutoCleanup = c.opts.AutoCleanup
		o.Logger = c.opts.Logger
	})
	log := c.opts.Logger
	log.Info("task.start", "task_id", task.ID, "agent_id", identity.AgentID, "execution_id", exec.ID())

	refs := c.contextRefs(ctx, task, identity)
	out, err := c.rounds(ctx, task, identity, refs, exec)
	if err != nil {
		exec.Discard(context.WithoutCancel(ctx))
		log.Info("task.cancelled", "task_id", task.ID, "agent_id", identity.AgentID, "error", err)
		return nil, err
	}

	result := out.result
	if err := task.Finalize(result); err != nil {
		return nil, err
	}
	c.remember(ctx, task, identity, result)

	kind := telemetry.KindTaskExhausted
	if out.state == StateAccepted {
		kind = telemetry.KindTaskAccepted
	}
	c.opts.Telemetry.Emit(telemetry.Event{
		Kind:       kind,
		TaskID:     task.ID,
		AgentID:    identity.AgentID,
		RoundCount: result.RoundCount,
		FinalScore: result.ScoreValue(),
	})

	if out.failed {
		exec.MarkFailed(ctx, result.RoundCount, result.Err)
	} else {
		exec.MarkCompleted(ctx, result.RoundCount, result.ScoreValue(), result.RawOutput)
	}

	log.Info("task.finished",
		"task_id", task.ID,
		"agent_id", identity.AgentID,
		"state", string(out.state),
		"round_count", result.RoundCount,
		"best_round", result.BestRound,
		"score", result.ScoreValue(),
	)
	return result, nil
}

// outcome is the terminal state of a run. failed marks transport
// exhaustion, where no candidate exists.
type outcome struct {
	result *core.TaskResult
	state  State
	failed bool
}

// machine records state transitions of one run.
type machine struct {
	taskID string
	state  State
	hook   func(taskID string, from, to State)
	log    logging.Logger
}

func (m *machine) to(next State) {
	prev := m.state
	m.state = next
	m.log.Debug("round.transition", "task_id", m.taskID, "from", string(prev), "to", string(next))
	if m.hook != nil {
		m.hook(m.taskID, prev, next)
	}
}

func (m *machine) finish(next State, res *core.TaskResult) outcome {
	m.to(next)
	return outcome{result: res, state: next}
}

// rounds runs the state machine. A non-nil error is always a cancellation.
func (c *RoundController) rounds(ctx context.Context, task *core.Task, identity core.AgentIdentity, refs []core.ContextRef, exec *durable.Execution) (outcome, error) {
	log := c.opts.Logger
	m := &machine{taskID: task.ID, state: StateInit, hook: c.opts.OnTransition, log: log}

	m.to(StateExecuting)
	raw, err := c.execute(ctx, task, identity, refs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{}, ctxErr
		}
		log.Error("task.transport.exhausted", "task_id", task.ID, "agent_id", identity.AgentID, "error", err)
		out := m.finish(StateExhausted, &core.TaskResult{Err: err, ErrorMessage: err.Error()})
		out.failed = true
		return out, nil
	}

	if c.opts.Gate.Check(raw) == Empty {
		log.Warn("reflection.empty", "task_id", task.ID, "agent_id", identity.AgentID)
		again, err := c.executor.Run(ctx, task, identity, refs, WithNonEmptyEmphasis())
		switch {
		case err == nil:
			raw = again
		case ctx.Err() != nil:
			return outcome{}, ctx.Err()
		default:
			log.Warn("reflection.reask.failed", "task_id", task.ID, "error", err)
		}
	}
	exec.Checkpoint(ctx, 0, durable.StepExecute, 0, raw)

	var (
		best    *candidate
		history []core.Critique
		current = raw
	)
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return outcome{}, err
		}

		m.to(StateValidating)
		cand := &candidate{raw: current, round: round}
		var critique core.Critique
		parsed, verr := schema.Validate(current, task.OutputSchema)
		if verr != nil {
			critique = validationCritique(verr)
			log.Debug("round.invalid", "task_id", task.ID, "round", round, "issues", len(critique.Issues))
		} else {
			cand.parsed, cand.valid = parsed, true
			m.to(StateVerifying)
			critique, err = c.verifier.Verify(ctx, task, current)
			if err != nil {
				if ctx.Err() != nil {
					return outcome{}, ctx.Err()
				}
				log.Warn("verifier.failed", "task_id", task.ID, "round", round, "error", err)
				return m.finish(StateExhausted, degraded(best, cand, history, round, err)), nil
			}
		}
		cand.score = critique.Score
		history = append(history, critique)
		if cand.betterThan(best) {
			best = cand
		}

		c.opts.Telemetry.Emit(telemetry.Event{
			Kind:       telemetry.KindRoundCompleted,
			TaskID:     task.ID,
			AgentID:    identity.AgentID,
			RoundCount: round,
			FinalScore: critique.Score,
		})
		exec.Checkpoint(ctx, round, durable.StepVerify, best.score, best.raw)
		log.Info("round.completed",
			"task_id", task.ID,
			"agent_id", identity.AgentID,
			"round", round,
			"score", critique.Score,
			"valid", cand.valid,
		)

		if cand.valid && critique.Score >= c.opts.Threshold {
			return m.finish(StateAccepted, buildResult(cand, history, round, true)), nil
		}
		if round+1 >= c.opts.MaxRounds {
			return m.finish(StateExhausted, buildResult(best, history, round, false)), nil
		}

		m.to(StateEditing)
		revised, err := c.editor.Revise(ctx, task, current, critique)
		if err != nil {
			if ctx.Err() != nil {
				return outcome{}, ctx.Err()
			}
			log.Warn("editor.failed", "task_id", task.ID, "round", round, "error", err)
			res := buildResult(best, history, round, false)
			res.Err, res.ErrorMessage = err, err.Error()
			return m.finish(StateExhausted, res), nil
		}
		current = revised
		exec.Checkpoint(ctx, round+1, durable.StepEdit, best.score, best.raw)
		m.to(StateExecuting)
	}
}

// execute runs the primary call with transport retries. Only retryable
// gateway errors are retried.
func (c *RoundController) execute(ctx context.Context, task *core.Task, identity core.AgentIdentity, refs []core.ContextRef) (string, error) {
	op := func() (string, error) {
		out, err := c.executor.Run(ctx, task, identity, refs)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !model.IsRetryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.opts.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.opts.Logger.Warn("gateway.retry",
				"task_id", task.ID,
				"agent_id", identity.AgentID,
				"backoff_ms", next.Milliseconds(),
				"error", err,
			)
		}),
	)
	// The final attempt returns a permanent error still wrapped.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return out, err
}

// contextRefs prepends recalled memory to the task's own context.
func (c *RoundController) contextRefs(ctx context.Context, task *core.Task, identity core.AgentIdentity) []core.ContextRef {
	if c.opts.Memory == nil || !identity.MemoryEnabled || c.opts.RecallK <= 0 {
		return task.ContextRefs
	}
	records, err := c.opts.Memory.Recall(ctx, identity.AgentID, c.opts.RecallK)
	if err != nil {
		c.opts.Logger.Warn("memory.recall.failed", "agent_id", identity.AgentID, "error", err)
		return task.ContextRefs
	}
	if len(records) == 0 {
		return task.ContextRefs
	}
	refs := make([]core.ContextRef, 0, len(records)+len(task.ContextRefs))
	for _, rec := range records {
		refs = append(refs, core.MemoryRef(rec))
	}
	return append(refs, task.ContextRefs...)
}

func (c *RoundController) remember(ctx context.Context, task *core.Task, identity core.AgentIdentity, result *core.TaskResult) {
	if c.opts.Memory == nil || !identity.MemoryEnabled {
		return
	}
	if err := c.opts.Memory.Record(ctx, identity.AgentID, task, result); err != nil {
		c.opts.Logger.Warn("memory.record.failed", "agent_id", identity.AgentID, "task_id", task.ID, "error", err)
	}
}

func validationCritique(err error) core.Critique {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		return core.NewCritique(0, verr.Issues(), schemaFix)
	}
	return core.NewCritique(0, []string{err.Error()}, schemaFix)
}

func buildResult(c *candidate, history []core.Critique, round int, accepted bool) *core.TaskResult {
	score := c.score
	res := &core.TaskResult{
		RawOutput:       c.raw,
		Score:           &score,
		Accepted:        accepted,
		RoundCount:      round,
		BestRound:       c.round,
		CritiqueHistory: append([]core.Critique(nil), history...),
	}
	if c.valid {
		res.ParsedOutput = c.parsed
	}
	return res
}

// degraded builds the result of a round whose verification failed. The
// unscored current candidate is only returned when nothing was scored yet.
func degraded(best, current *candidate, history []core.Critique, round int, cause error) *core.TaskResult {
	var res *core.TaskResult
	if best != nil {
		res = buildResult(best, history, round, false)
	} else {
		res = &core.TaskResult{
			RawOutput:       current.raw,
			RoundCount:      round,
			BestRound:       round,
			CritiqueHistory: append([]core.Critique(nil), history...),
		}
		if current.valid {
			res.ParsedOutput = current.parsed
		}
	}
	res.Err, res.ErrorMessage = cause, cause.Error()
	return res
}
