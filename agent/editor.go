package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/schema"
)

// DefaultEditorInstruction is the Editor system prompt.
const DefaultEditorInstruction = `You are an editor. Revise the current output so that every listed issue is resolved and the required fix is applied.
Change only what the issues ask for and keep everything else exactly as it is.
Return the complete revised output and nothing else.`

// Reviser revises a candidate according to a critique.
type Reviser interface {
	Revise(ctx context.Context, task *core.Task, candidate string, critique core.Critique) (string, error)
}

// EditorOptions configures an Editor.
type EditorOptions struct {
	Instruction string
	Timeout     time.Duration
	Logger      logging.Logger
}

// Editor applies critiques with a model call. When both the candidate and
// the revision hold a JSON object, the revision is merged field by field
// onto the candidate, so fields the model dropped survive unchanged.
type Editor struct {
	gateway *model.Gateway
	opts    EditorOptions
}

var _ Reviser = (*Editor)(nil)

// NewEditor creates an Editor calling gateway.
func NewEditor(gateway *model.Gateway, optFns ...func(o *EditorOptions)) *Editor {
	opts := EditorOptions{Instruction: DefaultEditorInstruction}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Instruction == "" {
		opts.Instruction = DefaultEditorInstruction
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Editor{gateway: gateway, opts: opts}
}

// Revise returns the revised candidate. An empty reply is reported as a
// GatewayError of kind Malformed.
func (e *Editor) Revise(ctx context.Context, task *core.Task, candidate string, critique core.Critique) (string, error) {
	if task == nil {
		return "", ErrNilTask
	}
	req := model.Request{
		Instructions: e.opts.Instruction,
		Contents: []core.Content{
			core.NewTextContent(core.RoleSystem, e.opts.Instruction),
			core.NewTextContent(core.RoleUser, revisionPrompt(task, candidate, critique)),
		},
	}
	if !task.OutputSchema.IsZero() {
		req.SchemaHint = task.OutputSchema.JSONSchema()
	}

	resp, err := e.gateway.Send(ctx, req, e.opts.Timeout)
	if err != nil {
		return "", err
	}
	revision := strings.TrimSpace(resp.Text())
	if revision == "" {
		return "", model.NewGatewayError(model.KindMalformed, e.gateway.Info().Provider, errors.New("editor returned an empty revision"))
	}

	merged := MergeRevision(candidate, revision, task.OutputSchema)
	e.opts.Logger.Debug("editor.revised", "task_id", task.ID, "issues", len(critique.Issues), "merged", merged != revision)
	return merged, nil
}

func revisionPrompt(task *core.Task, candidate string, critique core.Critique) string {
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(strings.TrimSpace(task.Description))
	if instr := task.OutputSchema.Instructions(); instr != "" {
		b.WriteString("\n\n")
		b.WriteString(instr)
	}
	b.WriteString("\n\nCurrent output:\n")
	b.WriteString(candidate)
	b.WriteString("\n\nIssues:\n")
	if len(critique.Issues) == 0 {
		b.WriteString("- (none listed)\n")
	}
	for _, issue := range critique.Issues {
		b.WriteString("- " + issue + "\n")
	}
	if critique.RequiredFix != "" {
		b.WriteString("\nRequired fix:\n")
		b.WriteString(critique.RequiredFix)
		b.WriteByte('\n')
	}
	return b.String()
}

// MergeRevision overlays the top level fields of the revision's JSON object
// onto the candidate's JSON object. A null in the revision removes the field
// unless spec declares it required, in which case the candidate's value is
// kept. If either side holds no JSON object the revision is returned
// unchanged.
func MergeRevision(candidate, revision string, spec schema.SchemaSpec) string {
	base, ok := schema.ExtractJSON(candidate)
	if !ok || !gjson.Parse(base).IsObject() {
		return revision
	}
	patch, ok := schema.ExtractJSON(revision)
	if !ok || !gjson.Parse(patch).IsObject() {
		return revision
	}

	merged := base
	var mergeErr error
	gjson.Parse(patch).ForEach(func(key, value gjson.Result) bool {
		path := escapePath(key.String())
		if value.Type == gjson.Null {
			if field, ok := spec.Lookup(key.String()); ok && field.Required {
				return true
			}
			merged, mergeErr = sjson.Delete(merged, path)
			return mergeErr == nil
		}
		merged, mergeErr = sjson.SetRaw(merged, path, value.Raw)
		return mergeErr == nil
	})
	if mergeErr != nil {
		return patch
	}
	return merged
}

// escapePath escapes sjson path syntax in a literal key.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', ':', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
