// Package memory contains the core.MemoryStore implementations: a process
// local InMemoryStore and a SQLite backed SQLiteStore.
//
// Both stores serialize mutations per agent and recall records most recent
// first. Depend on core.MemoryStore in library code and pick an
// implementation at wiring time.
package memory
