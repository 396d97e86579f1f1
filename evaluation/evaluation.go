// Package evaluation scores candidate outputs.
//
// A Verifier sees only the task intent, the output schema and the candidate
// under review. It never sees earlier revisions or the acceptance
// threshold; deciding what a score means is the round controller's job.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/logging"
	"github.com/hupe1980/verimesh/model"
	"github.com/hupe1980/verimesh/schema"
)

// Verifier produces a critique of a candidate output.
type Verifier interface {
	Verify(ctx context.Context, task *core.Task, candidate string) (core.Critique, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, task *core.Task, candidate string) (core.Critique, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, task *core.Task, candidate string) (core.Critique, error) {
	return f(ctx, task, candidate)
}

// DefaultRubric is the system prompt of the ModelVerifier.
const DefaultRubric = `You are a strict reviewer. Judge whether the candidate fully and correctly completes the task.
Score from 0 (unusable) to 1 (perfect). List every concrete problem as an issue and describe the single most important fix.`

// VerifierOptions configures a ModelVerifier.
type VerifierOptions struct {
	Rubric  string
	Timeout time.Duration
	Logger  logging.Logger
}

// ModelVerifier critiques candidates with a secondary model call.
type ModelVerifier struct {
	gateway *model.Gateway
	opts    VerifierOptions
}

var _ Verifier = (*ModelVerifier)(nil)

// NewModelVerifier creates a verifier calling gateway.
func NewModelVerifier(gateway *model.Gateway, optFns ...func(o *VerifierOptions)) *ModelVerifier {
	opts := VerifierOptions{Rubric: DefaultRubric}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &ModelVerifier{gateway: gateway, opts: opts}
}

var critiqueSchema = schema.New(
	schema.Field("score", schema.TypeNumber),
	schema.Field("issues", schema.TypeArray),
	schema.OptionalField("required_fix", schema.TypeText),
)

// Verify implements Verifier. An unparsable reply is reported as a
// GatewayError of kind Malformed.
func (v *ModelVerifier) Verify(ctx context.Context, task *core.Task, candidate string) (core.Critique, error) {
	req := model.Request{
		Instructions: v.opts.Rubric,
		Contents: []core.Content{
			core.NewTextContent(core.RoleSystem, v.opts.Rubric),
			core.NewTextContent(core.RoleUser, reviewPrompt(task, candidate)),
		},
		SchemaHint: critiqueSchema.JSONSchema(),
	}

	resp, err := v.gateway.Send(ctx, req, v.opts.Timeout)
	if err != nil {
		return core.Critique{}, err
	}
	critique, err := ParseCritique(resp.Text())
	if err != nil {
		v.opts.Logger.Warn("verifier.reply.malformed", "task_id", task.ID, "error", err.Error())
		return core.Critique{}, model.NewGatewayError(model.KindMalformed, v.gateway.Info().Provider, err)
	}
	v.opts.Logger.Debug("verifier.critique", "task_id", task.ID, "score", critique.Score, "issues", len(critique.Issues))
	return critique, nil
}

func reviewPrompt(task *core.Task, candidate string) string {
	var b strings.Builder
	b.WriteString("Task:\n")
	b.WriteString(strings.TrimSpace(task.Description))
	if instr := task.OutputSchema.Instructions(); instr != "" {
		b.WriteString("\n\nExpected output format:\n")
		b.WriteString(instr)
	}
	b.WriteString("\n\nCandidate:\n")
	b.WriteString(candidate)
	b.WriteString("\n\nReply with a JSON object: ")
	b.WriteString(`{"score": <number 0..1>, "issues": [<string>...], "required_fix": "<string>"}`)
	return b.String()
}

// ParseCritique reads a critique from a verifier reply. Scores given on a
// 0..100 scale are normalized; issues may be strings or objects with a
// description.
func ParseCritique(raw string) (core.Critique, error) {
	obj, ok := schema.ExtractJSON(raw)
	if !ok {
		return core.Critique{}, errors.New("reply contains no JSON object")
	}
	doc := gjson.Parse(obj)

	scoreVal := doc.Get("score")
	var score float64
	switch scoreVal.Type {
	case gjson.Number:
		score = scoreVal.Num
	case gjson.String:
		if _, err := fmt.Sscanf(strings.TrimSpace(scoreVal.Str), "%g", &score); err != nil {
			return core.Critique{}, fmt.Errorf("score %q is not a number", scoreVal.Str)
		}
	default:
		return core.Critique{}, errors.New("reply has no numeric score")
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return core.Critique{}, fmt.Errorf("score %v is not finite", score)
	}
	if score > 1 && score <= 100 {
		score /= 100
	}

	var issues []string
	doc.Get("issues").ForEach(func(_, item gjson.Result) bool {
		var text string
		if item.IsObject() {
			text = firstString(item, "description", "issue", "message")
		} else {
			text = item.String()
		}
		if text = strings.TrimSpace(text); text != "" {
			issues = append(issues, text)
		}
		return true
	})

	fix := firstString(doc, "required_fix", "requiredFix", "fix", "suggestion")
	return core.NewCritique(score, issues, strings.TrimSpace(fix)), nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Type == gjson.String {
			return v.Str
		}
	}
	return ""
}
