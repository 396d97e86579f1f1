// Package dispatch assigns tasks to agents by capability overlap.
//
// Each task yields a set of requirement tags: its explicit requirements,
// the keywords of its description (lower-cased, stop words removed) and the
// names of the tools it references. An agent scores one point per tag found
// among its capabilities. The highest score wins and ties go to the agent
// declared first. A task whose best score stays below MinOverlap goes to
// the default agent and the assignment records a DispatchError explaining
// why.
//
// Assignment is deterministic: the same tasks and agents always produce the
// same assignment.
package dispatch
