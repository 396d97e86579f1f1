package durable

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/verimesh/core"
)

var _ core.CheckpointStore = (*InMemoryStore)(nil)

// InMemoryStore keeps checkpoints in a process local map. It is safe for
// concurrent use; values are copied in and out so callers cannot mutate
// stored state.
type InMemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]core.Checkpoint
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{checkpoints: make(map[string]core.Checkpoint)}
}

// Save stores or replaces the checkpoint for cp.ExecutionID.
func (s *InMemoryStore) Save(ctx context.Context, cp core.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.ExecutionID == "" {
		return fmt.Errorf("durable: checkpoint without execution id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ExecutionID] = cp
	return nil
}

// Load returns the checkpoint or core.ErrCheckpointNotFound.
func (s *InMemoryStore) Load(ctx context.Context, executionID string) (core.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return core.Checkpoint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[executionID]
	if !ok {
		return core.Checkpoint{}, fmt.Errorf("durable: %s: %w", executionID, core.ErrCheckpointNotFound)
	}
	return cp, nil
}

// List returns checkpoints newest first.
func (s *InMemoryStore) List(ctx context.Context, status core.ExecutionStatus, limit int) ([]core.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]core.Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		if status == "" || cp.Status == status {
			out = append(out, cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ExecutionID > out[j].ExecutionID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes the checkpoint. Deleting an unknown id is not an error.
func (s *InMemoryStore) Delete(ctx context.Context, executionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, executionID)
	return nil
}

// DeleteOlderThan removes finished checkpoints saved before cutoff.
func (s *InMemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, cp := range s.checkpoints {
		if cp.Status == core.StatusRunning || !cp.SavedAt.Before(cutoff) {
			continue
		}
		delete(s.checkpoints, id)
		n++
	}
	return n, nil
}
