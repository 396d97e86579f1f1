package testutil

import (
	"encoding/json"

	"github.com/hupe1980/verimesh/model"
)

// CritiqueReply is a scripted verifier reply with the given score and issues.
func CritiqueReply(score float64, issues ...string) model.ScriptStep {
	if issues == nil {
		issues = []string{}
	}
	b, _ := json.Marshal(map[string]any{"score": score, "issues": issues})
	return model.Reply(string(b))
}

// CritiqueReplies scripts one verifier reply per score.
func CritiqueReplies(scores ...float64) []model.ScriptStep {
	steps := make([]model.ScriptStep, len(scores))
	for i, s := range scores {
		steps[i] = CritiqueReply(s, "needs work")
	}
	return steps
}

// JSONReply is a scripted reply holding v encoded as JSON.
func JSONReply(v any) model.ScriptStep {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return model.Reply(string(b))
}
