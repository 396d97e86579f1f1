// Package agent contains the agents that make up a task execution and the
// RoundController that drives them.
//
//   - Executor: assembles the prompt (instruction, compressed context, task,
//     schema, tools), calls the model gateway and relays tool calls.
//   - Editor: revises a candidate against a critique, keeping unflagged
//     JSON fields intact.
//   - ReflectionGate: flags blank or refusing first outputs for one re-ask.
//   - RoundController: the execute, validate, verify, edit loop with
//     transport retry, best candidate tracking, memory, telemetry and
//     checkpoints.
//
// Agents hold no per-task state. Identity is passed explicitly and memory is
// reached through an injected core.MemoryStore.
package agent
