package core

import (
	"context"
	"errors"
	"time"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for an execution.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// ExecutionStatus is the lifecycle state of a durable execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Checkpoint is the persisted progress of one task execution.
type Checkpoint struct {
	ExecutionID string          `json:"execution_id"`
	TaskID      string          `json:"task_id"`
	AgentID     string          `json:"agent_id"`
	Round       int             `json:"round"`
	Step        string          `json:"step"`
	Status      ExecutionStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
	BestScore   float64         `json:"best_score"`
	Candidate   string          `json:"candidate,omitempty"`
	SavedAt     time.Time       `json:"saved_at"`
}

// CheckpointStore persists execution checkpoints.
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, executionID string) (Checkpoint, error)
	// List returns checkpoints, newest first, optionally filtered by status.
	// An empty status matches all; limit <= 0 means no limit.
	List(ctx context.Context, status ExecutionStatus, limit int) ([]Checkpoint, error)
	Delete(ctx context.Context, executionID string) error
	// DeleteOlderThan removes completed and failed checkpoints saved before
	// cutoff and returns how many were removed. Running ones are kept.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
