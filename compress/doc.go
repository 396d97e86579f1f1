// Package compress fits task context into a token budget.
//
// The Compressor never touches the system prompt and never mutates the refs
// it is given: it returns a copy in which the largest refs carry summaries.
// Summaries come from a Summarizer (usually a model call); when that fails
// the text is truncated deterministically instead.
package compress
