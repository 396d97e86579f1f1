package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoAgents is returned when a batch has no agents to assign to.
	ErrNoAgents = errors.New("dispatch: no agents")
	// ErrUnknownDefaultAgent is returned when the designated default agent
	// is not among the agents.
	ErrUnknownDefaultAgent = errors.New("dispatch: default agent not found")
	// ErrDuplicateAgent is returned when two agents share an id.
	ErrDuplicateAgent = errors.New("dispatch: duplicate agent id")
)

// ErrorKind classifies dispatch errors.
type ErrorKind string

// NoEligibleAgent means no agent reached the minimum capability overlap.
const NoEligibleAgent ErrorKind = "no_eligible_agent"

// DispatchError explains why a task went to the default agent. It is
// recorded on the Assignment rather than returned.
type DispatchError struct {
	Kind         ErrorKind
	TaskID       string
	Requirements []string
	BestScore    int
	MinOverlap   int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: task %s scored %d (min %d) for requirements [%s]",
		e.Kind, e.TaskID, e.BestScore, e.MinOverlap, strings.Join(e.Requirements, ", "))
}
