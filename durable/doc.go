// Package durable records the progress of task executions as checkpoints.
//
// The Round Controller saves a running checkpoint after every round and
// marks the execution completed or failed when the task ends. Stores
// implement core.CheckpointStore; InMemoryStore suits tests and single
// process hosts, SQLiteStore survives restarts so operators can list failed
// or interrupted executions.
//
// Checkpointing is best effort: store failures are logged and never change
// a task's outcome.
package durable
