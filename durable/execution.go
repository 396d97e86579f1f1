package durable

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/logging"
)

// Step names recorded in checkpoints.
const (
	StepExecute = "execute"
	StepVerify  = "verify"
	StepEdit    = "edit"
	StepFinish  = "finish"
)

// ExecutionOptions configures an Execution.
type ExecutionOptions struct {
	// AutoCleanup deletes the checkpoint once the execution completes.
	AutoCleanup bool
	Logger      logging.Logger
	// Now stamps checkpoints.
	Now func() time.Time
}

// Execution tracks the checkpoints of one task execution. A nil store turns
// every method into a no-op, so callers never need to branch on whether
// durability is configured.
type Execution struct {
	store   core.CheckpointStore
	id      string
	taskID  string
	agentID string
	opts    ExecutionOptions
	last    core.Checkpoint
}

// NewExecution starts tracking a new execution of taskID by agentID.
func NewExecution(store core.CheckpointStore, taskID, agentID string, optFns ...func(o *ExecutionOptions)) *Execution {
	opts := ExecutionOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Execution{
		store:   store,
		id:      NewExecutionID(opts.Now()),
		taskID:  taskID,
		agentID: agentID,
		opts:    opts,
	}
}

// LoadExecution re-attaches to the execution stored under executionID.
// The returned Execution continues from the stored checkpoint; AutoCleanup
// is off so finishing it keeps the record.
func LoadExecution(ctx context.Context, store core.CheckpointStore, executionID string, optFns ...func(o *ExecutionOptions)) (*Execution, error) {
	if store == nil {
		return nil, core.ErrCheckpointNotFound
	}
	cp, err := store.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	opts := ExecutionOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.AutoCleanup = false
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Execution{
		store:   store,
		id:      cp.ExecutionID,
		taskID:  cp.TaskID,
		agentID: cp.AgentID,
		opts:    opts,
		last:    cp,
	}, nil
}

// NewExecutionID returns "<yyyymmddhhmmss>-<8 hex>" using the UTC time of now.
func NewExecutionID(now time.Time) string {
	return now.UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// Enabled reports whether checkpoints are persisted.
func (e *Execution) Enabled() bool { return e != nil && e.store != nil }

// Checkpoint saves a running checkpoint after a step of round.
func (e *Execution) Checkpoint(ctx context.Context, round int, step string, bestScore float64, candidate string) {
	e.save(ctx, core.Checkpoint{
		Round:     round,
		Step:      step,
		Status:    core.StatusRunning,
		BestScore: bestScore,
		Candidate: candidate,
	})
}

// MarkCompleted records a finished execution. With AutoCleanup the
// checkpoint is deleted instead.
func (e *Execution) MarkCompleted(ctx context.Context, round int, bestScore float64, candidate string) {
	if !e.Enabled() {
		return
	}
	if e.opts.AutoCleanup {
		e.Discard(ctx)
		return
	}
	e.save(ctx, core.Checkpoint{
		Round:     round,
		Step:      StepFinish,
		Status:    core.StatusCompleted,
		BestScore: bestScore,
		Candidate: candidate,
	})
}

// MarkFailed records a failed execution together with the cause.
func (e *Execution) MarkFailed(ctx context.Context, round int, cause error) {
	cp := e.last
	cp.Round = round
	cp.Status = core.StatusFailed
	if cause != nil {
		cp.Error = cause.Error()
	}
	e.save(ctx, cp)
}

// Discard deletes any persisted state of the execution.
func (e *Execution) Discard(ctx context.Context) {
	if !e.Enabled() {
		return
	}
	if err := e.store.Delete(ctx, e.id); err != nil {
		e.opts.Logger.Warn("durable.discard.failed", "execution_id", e.id, "error", err)
	}
}

// Last returns the most recent checkpoint saved or loaded by this Execution.
func (e *Execution) Last() core.Checkpoint { return e.last }

// Info loads the latest persisted checkpoint.
func (e *Execution) Info(ctx context.Context) (core.Checkpoint, error) {
	if !e.Enabled() {
		return core.Checkpoint{}, core.ErrCheckpointNotFound
	}
	return e.store.Load(ctx, e.id)
}

func (e *Execution) save(ctx context.Context, cp core.Checkpoint) {
	if !e.Enabled() {
		return
	}
	cp.ExecutionID = e.id
	cp.TaskID = e.taskID
	cp.AgentID = e.agentID
	cp.SavedAt = e.opts.Now().UTC()
	if err := e.store.Save(ctx, cp); err != nil {
		e.opts.Logger.Warn("durable.checkpoint.failed",
			"execution_id", e.id,
			"status", cp.Status,
			"round", cp.Round,
			"error", err,
		)
		return
	}
	e.last = cp
}
