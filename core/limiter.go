package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallBudgetExceeded is returned once a ModelLimiter is exhausted.
var ErrCallBudgetExceeded = errors.New("model call budget exceeded")

// ModelLimiter enforces a maximum number of model calls for one unit of work
// (for example the tool relay of a single Executor call).
type ModelLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewModelLimiter creates a limiter allowing max calls. If max == 0, calls
// are unlimited.
func NewModelLimiter(max int) *ModelLimiter {
	return &ModelLimiter{max: max}
}

// Increment counts a call and fails once the budget is exceeded.
func (ml *ModelLimiter) Increment() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	ml.count++
	if ml.max > 0 && ml.count > ml.max {
		return fmt.Errorf("%w: max %d", ErrCallBudgetExceeded, ml.max)
	}
	return nil
}

// Count returns the number of calls made.
func (ml *ModelLimiter) Count() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.count
}

// Remaining returns the calls left, or -1 when unlimited.
func (ml *ModelLimiter) Remaining() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.max == 0 {
		return -1
	}
	if ml.count >= ml.max {
		return 0
	}
	return ml.max - ml.count
}
