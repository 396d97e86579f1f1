// Package engine is the runtime around the round controller.
//
// It keeps a registry of agent identities, runs single tasks through
// Execute and batches through Dispatch. Dispatch asks the dispatcher for an
// assignment and then executes every task with bounded concurrency
// (golang.org/x/sync/errgroup). Each execution gets its own cancel function
// so a caller can Stop it by task id, and each is wrapped in an
// OpenTelemetry span.
//
// Lifecycle callbacks (before_task, after_task, on_error) hook into every
// execution without changing the controller.
package engine
