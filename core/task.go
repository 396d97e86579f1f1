package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/verimesh/schema"
)

// ErrTaskFinalized is returned when a response is written to a Task that
// already carries one.
var ErrTaskFinalized = errors.New("task already finalized")

// ToolRef names a tool the Executor may call for a task. The tool itself is
// resolved through the tool collaborator at execution time.
type ToolRef struct {
	Name string `json:"name" yaml:"name"`
}

// Task is the unit of work handed to the orchestration engine.
//
// A Task is created by the caller and is immutable afterwards apart from its
// response, which the Round Controller writes exactly once via Finalize. The
// output schema is fixed at creation time.
type Task struct {
	ID           string
	Description  string
	OutputSchema schema.SchemaSpec
	ToolRefs     []ToolRef
	ContextRefs  []ContextRef
	// Requirements are explicit capability tags used by the dispatcher in
	// addition to the tags inferred from the description and tools.
	Requirements []string

	mu       sync.Mutex
	response *TaskResult
}

// TaskOptions configures optional Task attributes.
type TaskOptions struct {
	ID           string
	ToolRefs     []ToolRef
	ContextRefs  []ContextRef
	Requirements []string
}

// NewTask creates a task with a generated ID unless one is supplied.
func NewTask(description string, outputSchema schema.SchemaSpec, optFns ...func(o *TaskOptions)) *Task {
	opts := TaskOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	return &Task{
		ID:           opts.ID,
		Description:  description,
		OutputSchema: outputSchema,
		ToolRefs:     append([]ToolRef(nil), opts.ToolRefs...),
		ContextRefs:  append([]ContextRef(nil), opts.ContextRefs...),
		Requirements: append([]string(nil), opts.Requirements...),
	}
}

// Response returns the finalized result or nil while the task is in flight.
func (t *Task) Response() *TaskResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

// Finalize records the task response. It fails with ErrTaskFinalized when the
// task already has one.
func (t *Task) Finalize(result *TaskResult) error {
	if result == nil {
		return fmt.Errorf("finalize task %s: nil result", t.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.response != nil {
		return fmt.Errorf("finalize task %s: %w", t.ID, ErrTaskFinalized)
	}
	t.response = result
	return nil
}

// Finalized reports whether a response has been written.
func (t *Task) Finalized() bool { return t.Response() != nil }

// ToolNames returns the names of the referenced tools in declaration order.
func (t *Task) ToolNames() []string {
	names := make([]string, 0, len(t.ToolRefs))
	for _, ref := range t.ToolRefs {
		names = append(names, ref.Name)
	}
	return names
}

// Digest is a stable fingerprint of the task intent (description, schema
// and tools). Memory records are keyed by it.
func (t *Task) Digest() string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(t.Description)))
	for _, f := range t.OutputSchema.Fields {
		fmt.Fprintf(h, "\x00%s:%s:%t", f.Name, f.Type, f.Required)
	}
	tools := t.ToolNames()
	sort.Strings(tools)
	for _, name := range tools {
		h.Write([]byte("\x01" + name))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TaskResult is the outcome of a task. A result is always produced, even
// when the task was not accepted.
type TaskResult struct {
	RawOutput    string         `json:"raw_output"`
	ParsedOutput map[string]any `json:"parsed_output,omitempty"`
	// Score is the critique score of the returned candidate; nil when no
	// candidate was ever scored.
	Score    *float64 `json:"score,omitempty"`
	Accepted bool     `json:"accepted"`
	// RoundCount is the zero-based index of the last round that ran.
	RoundCount int `json:"round_count"`
	// BestRound is the round that produced the returned candidate.
	BestRound       int        `json:"best_round"`
	CritiqueHistory []Critique `json:"critique_history,omitempty"`
	// Err carries the terminal failure (transport exhaustion, cancellation).
	Err          error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// ScoreValue returns the score or 0 when the result was never scored.
func (r *TaskResult) ScoreValue() float64 {
	if r == nil || r.Score == nil {
		return 0
	}
	return *r.Score
}

// Text renders the result for inclusion in another task's context.
func (r *TaskResult) Text() string {
	if r == nil {
		return ""
	}
	if r.ParsedOutput != nil {
		return toJSONString(r.ParsedOutput)
	}
	return r.RawOutput
}

// Critique is a scored assessment of a candidate output. Critiques are
// immutable once created; use NewCritique.
type Critique struct {
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	RequiredFix string   `json:"required_fix,omitempty"`
}

// NewCritique clamps score into [0,1] and copies issues.
func NewCritique(score float64, issues []string, requiredFix string) Critique {
	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	return Critique{
		Score:       score,
		Issues:      append([]string(nil), issues...),
		RequiredFix: requiredFix,
	}
}

func toJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
