package durable

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/internal/sqlite"
)

func newStores(t *testing.T) map[string]core.CheckpointStore {
	sq, err := NewSQLiteStore(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]core.CheckpointStore{
		"in_memory": NewInMemoryStore(),
		"sqlite":    sq,
	}
}

func stepClock() func() time.Time {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func TestNewExecutionID(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 30, 45, 0, time.FixedZone("CET", 3600))
	id := NewExecutionID(now)
	assert.Regexp(t, regexp.MustCompile(`^20250301113045-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewExecutionID(now))
}

func TestStore_SaveLoadDelete(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := core.Checkpoint{
				ExecutionID: "e1",
				TaskID:      "t1",
				AgentID:     "a1",
				Round:       1,
				Step:        StepEdit,
				Status:      core.StatusRunning,
				BestScore:   0.7,
				Candidate:   `{"a":1}`,
				SavedAt:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			}
			require.NoError(t, store.Save(ctx, cp))

			got, err := store.Load(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, cp.TaskID, got.TaskID)
			assert.Equal(t, cp.Round, got.Round)
			assert.Equal(t, cp.Status, got.Status)
			assert.Equal(t, cp.Candidate, got.Candidate)
			assert.True(t, cp.SavedAt.Equal(got.SavedAt))

			cp.Status = core.StatusCompleted
			require.NoError(t, store.Save(ctx, cp))
			got, err = store.Load(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, core.StatusCompleted, got.Status)

			require.NoError(t, store.Delete(ctx, "e1"))
			_, err = store.Load(ctx, "e1")
			assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
			assert.NoError(t, store.Delete(ctx, "e1"))
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			statuses := []core.ExecutionStatus{core.StatusCompleted, core.StatusFailed, core.StatusCompleted, core.StatusRunning}
			for i, st := range statuses {
				require.NoError(t, store.Save(ctx, core.Checkpoint{
					ExecutionID: string(rune('a' + i)),
					Status:      st,
					SavedAt:     base.Add(time.Duration(i) * time.Minute),
				}))
			}

			all, err := store.List(ctx, "", 0)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "d", all[0].ExecutionID)

			completed, err := store.List(ctx, core.StatusCompleted, 0)
			require.NoError(t, err)
			require.Len(t, completed, 2)
			assert.Equal(t, "c", completed[0].ExecutionID)
			assert.Equal(t, "a", completed[1].ExecutionID)

			limited, err := store.List(ctx, "", 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestExecution_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	exec := NewExecution(store, "t1", "a1", func(o *ExecutionOptions) { o.Now = stepClock() })

	exec.Checkpoint(ctx, 0, StepVerify, 0.4, "first")
	info, err := exec.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StatusRunning, info.Status)
	assert.Equal(t, "t1", info.TaskID)
	assert.Equal(t, "a1", info.AgentID)
	assert.Equal(t, StepVerify, info.Step)

	exec.MarkCompleted(ctx, 1, 0.9, "second")
	info, err = exec.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, info.Status)
	assert.Equal(t, 1, info.Round)
	assert.Equal(t, "second", info.Candidate)
}

func TestExecution_AutoCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	exec := NewExecution(store, "t1", "a1", func(o *ExecutionOptions) { o.AutoCleanup = true })

	exec.Checkpoint(ctx, 0, StepExecute, 0, "x")
	exec.MarkCompleted(ctx, 0, 1, "x")

	_, err := exec.Info(ctx)
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func TestExecution_MarkFailedKeepsProgress(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	exec := NewExecution(store, "t1", "a1")

	exec.Checkpoint(ctx, 1, StepEdit, 0.6, "best so far")
	exec.MarkFailed(ctx, 2, errors.New("gateway timeout"))

	failed, err := store.List(ctx, core.StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, exec.ID(), failed[0].ExecutionID)
	assert.Equal(t, "gateway timeout", failed[0].Error)
	assert.Equal(t, "best so far", failed[0].Candidate)
	assert.Equal(t, 2, failed[0].Round)
}

type failingStore struct{ core.CheckpointStore }

func (failingStore) Save(context.Context, core.Checkpoint) error { return errors.New("disk full") }

func TestExecution_StoreFailuresAreSwallowed(t *testing.T) {
	exec := NewExecution(failingStore{NewInMemoryStore()}, "t1", "a1")
	assert.NotPanics(t, func() {
		exec.Checkpoint(context.Background(), 0, StepExecute, 0, "")
		exec.MarkFailed(context.Background(), 0, errors.New("boom"))
	})
}

func TestExecution_NilStore(t *testing.T) {
	exec := NewExecution(nil, "t1", "a1")
	assert.False(t, exec.Enabled())
	exec.Checkpoint(context.Background(), 0, StepExecute, 0, "")
	exec.MarkCompleted(context.Background(), 0, 0, "")
	exec.Discard(context.Background())
	_, err := exec.Info(context.Background())
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func TestLoadExecution(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			exec := NewExecution(store, "t1", "a1", func(o *ExecutionOptions) {
				o.AutoCleanup = true
				o.Now = stepClock()
			})
			exec.Checkpoint(ctx, 1, StepVerify, 0.5, "draft")

			loaded, err := LoadExecution(ctx, store, exec.ID(), func(o *ExecutionOptions) {
				o.AutoCleanup = true
			})
			require.NoError(t, err)
			assert.Equal(t, exec.ID(), loaded.ID())
			assert.Equal(t, 1, loaded.Last().Round)
			assert.Equal(t, "draft", loaded.Last().Candidate)

			loaded.MarkCompleted(ctx, 2, 0.9, "final")
			got, err := store.Load(ctx, exec.ID())
			require.NoError(t, err, "loaded executions keep their record")
			assert.Equal(t, core.StatusCompleted, got.Status)
			assert.Equal(t, "t1", got.TaskID)
			assert.Equal(t, "a1", got.AgentID)
			assert.Equal(t, "final", got.Candidate)

			_, err = LoadExecution(ctx, store, "missing")
			assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
		})
	}
}

func TestLoadExecution_NilStore(t *testing.T) {
	_, err := LoadExecution(context.Background(), nil, "e1")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			old := base.Add(-10 * 24 * time.Hour)
			for _, cp := range []core.Checkpoint{
				{ExecutionID: "old-done", Status: core.StatusCompleted, SavedAt: old},
				{ExecutionID: "old-failed", Status: core.StatusFailed, SavedAt: old},
				{ExecutionID: "old-running", Status: core.StatusRunning, SavedAt: old},
				{ExecutionID: "new-done", Status: core.StatusCompleted, SavedAt: base},
			} {
				cp.TaskID, cp.AgentID, cp.Step = "t", "a", StepFinish
				require.NoError(t, store.Save(ctx, cp))
			}

			n, err := store.DeleteOlderThan(ctx, base.Add(-7*24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			remaining, err := store.List(ctx, "", 0)
			require.NoError(t, err)
			ids := make([]string, 0, len(remaining))
			for _, cp := range remaining {
				ids = append(ids, cp.ExecutionID)
			}
			assert.ElementsMatch(t, []string{"old-running", "new-done"}, ids)

			n, err = store.DeleteOlderThan(ctx, base.Add(-7*24*time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}
