// Package core defines the data model and store contracts shared by every
// verimesh component:
//
//   - Task / TaskResult / Critique (the unit of work and its outcome)
//   - AgentIdentity (explicit identity instead of ambient agent state)
//   - KnowledgeItem / ContextRef (what an Executor may be shown)
//   - Content / Part (normalized conversation turns exchanged with models)
//   - MemoryStore and CheckpointStore (pluggable persistence)
//   - ModelLimiter (per-call budget for tool relays)
//
// Implementation concerns (model transport, validation, orchestration,
// persistence backends) live in sibling packages so that this package stays
// dependency free apart from the schema description type.
package core
