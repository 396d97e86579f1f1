package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/verimesh/core"
)

var _ core.MemoryStore = (*InMemoryStore)(nil)

// Options configures a memory store.
type Options struct {
	// MaxRecordsPerAgent drops the oldest records once an agent holds more.
	// Zero keeps everything.
	MaxRecordsPerAgent int
	// Now is the clock used to stamp records.
	Now func() time.Time
}

func defaultOptions() Options {
	return Options{Now: time.Now}
}

// InMemoryStore is a process local MemoryStore. Records are kept per agent
// in insertion order and returned as copies.
type InMemoryStore struct {
	locks agentLocks

	mu      sync.RWMutex
	records map[string][]core.MemoryRecord
	opts    Options
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(optFns ...func(o *Options)) *InMemoryStore {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &InMemoryStore{records: make(map[string][]core.MemoryRecord), opts: opts}
}

// Record appends a record describing result for task.
func (s *InMemoryStore) Record(ctx context.Context, agentID string, task *core.Task, result *core.TaskResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if agentID == "" || task == nil || result == nil {
		return fmt.Errorf("memory: record requires agent, task and result")
	}
	rec := core.NewMemoryRecord(agentID, task, result, s.opts.Now())

	unlock := s.locks.lock(agentID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.records[agentID], rec)
	if max := s.opts.MaxRecordsPerAgent; max > 0 && len(list) > max {
		list = append([]core.MemoryRecord(nil), list[len(list)-max:]...)
	}
	s.records[agentID] = list
	return nil
}

// Recall returns up to k records for the agent, most recent first. k <= 0
// returns nothing.
func (s *InMemoryStore) Recall(ctx context.Context, agentID string, k int) ([]core.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.records[agentID]
	if k > len(list) {
		k = len(list)
	}
	out := make([]core.MemoryRecord, 0, k)
	for i := len(list) - 1; i >= 0 && len(out) < k; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

// Len returns the number of records held for the agent.
func (s *InMemoryStore) Len(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[agentID])
}
