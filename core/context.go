package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KnowledgeItem is a piece of ingested knowledge usable as task context.
type KnowledgeItem struct {
	Digest    string `json:"digest"`
	Text      string `json:"text"`
	SourceURI string `json:"source_uri,omitempty"`
}

// NewKnowledgeItem builds an item whose digest is the SHA-256 of text.
func NewKnowledgeItem(text, sourceURI string) KnowledgeItem {
	sum := sha256.Sum256([]byte(text))
	return KnowledgeItem{
		Digest:    hex.EncodeToString(sum[:]),
		Text:      text,
		SourceURI: sourceURI,
	}
}

// ContextKind discriminates the ContextRef union.
type ContextKind string

const (
	ContextKnowledge ContextKind = "knowledge"
	ContextResult    ContextKind = "result"
	ContextMemory    ContextKind = "memory"
)

// ContextRef is one ordered entry of a task's context: a knowledge item, the
// result of an earlier task or a recalled memory record.
//
// Compressed holds a summary produced by the context compressor. It is only
// ever set on copies; the refs stored on a Task keep their original text so
// that each execution compresses from the source again.
type ContextRef struct {
	Kind       ContextKind    `json:"kind"`
	Knowledge  *KnowledgeItem `json:"knowledge,omitempty"`
	Result     *TaskResult    `json:"result,omitempty"`
	Memory     *MemoryRecord  `json:"memory,omitempty"`
	Compressed string         `json:"compressed,omitempty"`
}

// KnowledgeRef wraps a knowledge item.
func KnowledgeRef(item KnowledgeItem) ContextRef {
	return ContextRef{Kind: ContextKnowledge, Knowledge: &item}
}

// ResultRef wraps the result of a previous task.
func ResultRef(result *TaskResult) ContextRef {
	return ContextRef{Kind: ContextResult, Result: result}
}

// MemoryRef wraps a recalled memory record.
func MemoryRef(rec MemoryRecord) ContextRef {
	return ContextRef{Kind: ContextMemory, Memory: &rec}
}

// Source returns the original, uncompressed text of the ref.
func (r ContextRef) Source() string {
	switch r.Kind {
	case ContextKnowledge:
		if r.Knowledge != nil {
			return r.Knowledge.Text
		}
	case ContextResult:
		return r.Result.Text()
	case ContextMemory:
		if r.Memory != nil {
			return r.Memory.ResultSummary
		}
	}
	return ""
}

// Text returns the compressed text when present, otherwise the source.
func (r ContextRef) Text() string {
	if r.Compressed != "" {
		return r.Compressed
	}
	return r.Source()
}

// IsCompressed reports whether the ref carries a summary.
func (r ContextRef) IsCompressed() bool { return r.Compressed != "" }

// Label is a short human readable heading used in prompts.
func (r ContextRef) Label() string {
	switch r.Kind {
	case ContextKnowledge:
		if r.Knowledge != nil && r.Knowledge.SourceURI != "" {
			return fmt.Sprintf("knowledge (%s)", r.Knowledge.SourceURI)
		}
		return "knowledge"
	case ContextResult:
		return "previous result"
	case ContextMemory:
		return "memory"
	default:
		return string(r.Kind)
	}
}
