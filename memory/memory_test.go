package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/internal/sqlite"
	"github.com/hupe1980/verimesh/schema"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func result(text string, accepted bool, score float64) *core.TaskResult {
	return &core.TaskResult{RawOutput: text, Accepted: accepted, Score: &score}
}

type storeFactory func(t *testing.T, optFns ...func(o *Options)) core.MemoryStore

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"in_memory": func(t *testing.T, optFns ...func(o *Options)) core.MemoryStore {
			return NewInMemoryStore(optFns...)
		},
		"sqlite": func(t *testing.T, optFns ...func(o *Options)) core.MemoryStore {
			s, err := NewSQLiteStore(context.Background(), sqlite.MemoryPath, optFns...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_RecallMostRecentFirst(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, func(o *Options) { o.Now = fixedClock() })

			for i := 0; i < 3; i++ {
				task := core.NewTask(fmt.Sprintf("task %d", i), schema.SchemaSpec{})
				require.NoError(t, s.Record(ctx, "a1", task, result(fmt.Sprintf("out %d", i), i%2 == 0, 0.5)))
			}
			require.NoError(t, s.Record(ctx, "a2", core.NewTask("other", schema.SchemaSpec{}), result("x", true, 1)))

			recs, err := s.Recall(ctx, "a1", 2)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Contains(t, recs[0].ResultSummary, "task 2")
			assert.Contains(t, recs[1].ResultSummary, "task 1")
			assert.True(t, recs[0].Accepted)
			assert.False(t, recs[1].Accepted)
			assert.Equal(t, "a1", recs[0].AgentID)
			assert.InDelta(t, 0.5, recs[0].Score, 1e-9)
			assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))

			all, err := s.Recall(ctx, "a1", 10)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			none, err := s.Recall(ctx, "a1", 0)
			require.NoError(t, err)
			assert.Empty(t, none)

			unknown, err := s.Recall(ctx, "nobody", 5)
			require.NoError(t, err)
			assert.Empty(t, unknown)
		})
	}
}

func TestStore_TaskDigestKey(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			task := core.NewTask("summarize", schema.New(schema.Field("summary", schema.TypeText)))

			require.NoError(t, s.Record(ctx, "a1", task, result("first", false, 0.2)))
			require.NoError(t, s.Record(ctx, "a1", task, result("second", true, 0.9)))

			recs, err := s.Recall(ctx, "a1", 5)
			require.NoError(t, err)
			require.Len(t, recs, 2, "records are append-only")
			assert.Equal(t, task.Digest(), recs[0].TaskDigest)
			assert.Equal(t, recs[0].TaskDigest, recs[1].TaskDigest)
		})
	}
}

func TestStore_Retention(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, func(o *Options) { o.MaxRecordsPerAgent = 2 })
			for i := 0; i < 5; i++ {
				task := core.NewTask(fmt.Sprintf("task %d", i), schema.SchemaSpec{})
				require.NoError(t, s.Record(ctx, "a1", task, result("r", true, 1)))
			}
			recs, err := s.Recall(ctx, "a1", 10)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Contains(t, recs[0].ResultSummary, "task 4")
			assert.Contains(t, recs[1].ResultSummary, "task 3")
		})
	}
}

func TestStore_RejectsIncompleteRecord(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			err := s.Record(context.Background(), "", core.NewTask("t", schema.SchemaSpec{}), result("r", true, 1))
			assert.Error(t, err)
			err = s.Record(context.Background(), "a1", nil, result("r", true, 1))
			assert.Error(t, err)
		})
	}
}

func TestStore_ConcurrentAgents(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			var wg sync.WaitGroup
			for a := 0; a < 4; a++ {
				for i := 0; i < 10; i++ {
					wg.Add(1)
					go func(agent, i int) {
						defer wg.Done()
						task := core.NewTask(fmt.Sprintf("task %d", i), schema.SchemaSpec{})
						assert.NoError(t, s.Record(ctx, fmt.Sprintf("agent-%d", agent), task, result("r", true, 1)))
					}(a, i)
				}
			}
			wg.Wait()

			for a := 0; a < 4; a++ {
				recs, err := s.Recall(ctx, fmt.Sprintf("agent-%d", a), 100)
				require.NoError(t, err)
				assert.Len(t, recs, 10)
			}
		})
	}
}

func TestInMemoryStore_CancelledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Record(ctx, "a1", core.NewTask("t", schema.SchemaSpec{}), result("r", true, 1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len("a1"))
}
