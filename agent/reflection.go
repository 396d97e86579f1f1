package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the outcome of a reflection check.
type Verdict int

const (
	// Pass means the output is worth validating.
	Pass Verdict = iota
	// Empty means the output is blank or a refusal.
	Empty
)

func (v Verdict) String() string {
	if v == Empty {
		return "empty"
	}
	return "pass"
}

// DefaultRefusalPatterns match replies that decline the task outright.
var DefaultRefusalPatterns = []string{
	`(?i)^\s*(i'?m|i am)\s+(sorry|afraid|unable|not able)\b`,
	`(?i)^\s*(sorry,?\s+)?i\s+(can(no|')?t|cannot|won'?t|am unable to)\s+(help|assist|comply|do that|complete|provide)`,
	`(?i)^\s*as an ai( language model)?\b`,
}

// ReflectionGate checks the first executor output of a task for emptiness.
// It is stateless and safe for concurrent use.
type ReflectionGate struct {
	patterns []*regexp.Regexp
}

// NewReflectionGate compiles refusal patterns. Without patterns the
// defaults are used.
func NewReflectionGate(patterns ...string) (*ReflectionGate, error) {
	if len(patterns) == 0 {
		patterns = DefaultRefusalPatterns
	}
	g := &ReflectionGate{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile refusal pattern %q: %w", p, err)
		}
		g.patterns = append(g.patterns, re)
	}
	return g, nil
}

// DefaultReflectionGate returns a gate using DefaultRefusalPatterns.
func DefaultReflectionGate() *ReflectionGate {
	g, err := NewReflectionGate()
	if err != nil {
		panic(err)
	}
	return g
}

// Check returns Empty for blank output or a refusal, Pass otherwise.
func (g *ReflectionGate) Check(raw string) Verdict {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Empty
	}
	for _, re := range g.patterns {
		if re.MatchString(text) {
			return Empty
		}
	}
	return Pass
}
