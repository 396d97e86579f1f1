package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/verimesh/core"
)

// CallbackType names a point in the task lifecycle where callbacks run.
type CallbackType string

const (
	// CallbackBeforeTask runs before the round controller starts. An error
	// rejects the task.
	CallbackBeforeTask CallbackType = "before_task"
	// CallbackAfterTask runs once a result exists. Errors are logged only.
	CallbackAfterTask CallbackType = "after_task"
	// CallbackOnError runs when an execution returns an error.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries what a callback may inspect.
type CallbackContext struct {
	Type     CallbackType
	Task     *core.Task
	Identity core.AgentIdentity
	// Result is set for CallbackAfterTask.
	Result *core.TaskResult
	// Err is set for CallbackOnError.
	Err error
}

// Callback is a synchronous lifecycle hook. Callbacks of one type run in
// registration order and must be safe for concurrent use.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback adapts a function to Callback.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

var _ Callback = (*FunctionCallback)(nil)

// NewFunctionCallback wraps fn as a callback of the given type.
func NewFunctionCallback(t CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: t, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager groups callbacks by type.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds cb.
func (m *CallbackManager) Register(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[cb.Type()] = append(m.callbacks[cb.Type()], cb)
}

// Execute runs the callbacks of cc.Type and stops at the first error. A
// panicking callback is reported as an error.
func (m *CallbackManager) Execute(ctx context.Context, cc *CallbackContext) (err error) {
	m.mu.RLock()
	callbacks := append([]Callback(nil), m.callbacks[cc.Type]...)
	m.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s callback panicked: %v", cc.Type, r)
		}
	}()
	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cc); err != nil {
			return err
		}
	}
	return nil
}
