package memory

import "sync"

// agentLocks hands out one mutex per agent so that writes for the same
// agent are serialized while different agents proceed independently.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *agentLocks) lock(agentID string) func() {
	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	l, ok := a.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[agentID] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}
