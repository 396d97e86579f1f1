package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/verimesh/core"
	"github.com/hupe1980/verimesh/logging"
)

// DefaultMinOverlap is the smallest score that counts as a capability match.
const DefaultMinOverlap = 1

// Options configures a Dispatcher.
type Options struct {
	// MinOverlap is the minimum score for a regular assignment.
	MinOverlap int
	// DefaultAgent receives tasks nobody matches. Empty means the first
	// declared agent.
	DefaultAgent string
	// StopWords replaces DefaultStopWords when set.
	StopWords []string
	Logger    logging.Logger
}

// Dispatcher assigns tasks to agents. It is stateless apart from its
// options and safe for concurrent use.
type Dispatcher struct {
	opts Options
	stop map[string]struct{}
}

// New creates a Dispatcher.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{MinOverlap: DefaultMinOverlap}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MinOverlap < 0 {
		opts.MinOverlap = 0
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	words := opts.StopWords
	if words == nil {
		words = DefaultStopWords
	}
	return &Dispatcher{opts: opts, stop: stopSet(words)}
}

// Entry is the assignment of one task.
type Entry struct {
	TaskID  string
	AgentID string
	Score   int
	// Fallback is set when the task went to the default agent.
	Fallback *DispatchError
}

// Assignment maps the tasks of one batch to agents. Writes are serialized;
// reads return copies.
type Assignment struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

func newAssignment(n int) *Assignment {
	return &Assignment{order: make([]string, 0, n), entries: make(map[string]Entry, n)}
}

func (a *Assignment) set(e Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[e.TaskID]; !ok {
		a.order = append(a.order, e.TaskID)
	}
	a.entries[e.TaskID] = e
}

// AgentFor returns the agent assigned to taskID.
func (a *Assignment) AgentFor(taskID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[taskID]
	return e.AgentID, ok
}

// Entry returns the full entry of taskID.
func (a *Assignment) Entry(taskID string) (Entry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entries[taskID]
	return e, ok
}

// Entries returns all entries in task order.
func (a *Assignment) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.entries[id])
	}
	return out
}

// Fallbacks returns the recorded DispatchErrors in task order.
func (a *Assignment) Fallbacks() []*DispatchError {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*DispatchError
	for _, id := range a.order {
		if f := a.entries[id].Fallback; f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of assigned tasks.
func (a *Assignment) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

type candidateAgent struct {
	id           string
	capabilities map[string]struct{}
}

// Assign maps every task to exactly one agent.
//
// Errors are reserved for invalid input: no agents, an agent without an
// id, duplicate agent ids, an unknown default agent, a nil task or a
// duplicate task id. Tasks without a match are assigned to the default
// agent with a DispatchError recorded on the entry.
func (d *Dispatcher) Assign(tasks []*core.Task, agents []core.AgentIdentity) (*Assignment, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}

	candidates := make([]candidateAgent, 0, len(agents))
	seen := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("dispatch: %w", err)
		}
		if _, dup := seen[a.AgentID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, a.AgentID)
		}
		seen[a.AgentID] = struct{}{}

		caps := make(map[string]struct{}, len(a.Capabilities))
		for _, c := range a.Capabilities {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				caps[c] = struct{}{}
			}
		}
		candidates = append(candidates, candidateAgent{id: a.AgentID, capabilities: caps})
	}

	defaultAgent := candidates[0].id
	if d.opts.DefaultAgent != "" {
		if _, ok := seen[d.opts.DefaultAgent]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDefaultAgent, d.opts.DefaultAgent)
		}
		defaultAgent = d.opts.DefaultAgent
	}

	assignment := newAssignment(len(tasks))
	taskIDs := make(map[string]struct{}, len(tasks))
	for i, task := range tasks {
		if task == nil {
			return nil, fmt.Errorf("dispatch: task %d is nil", i)
		}
		if _, dup := taskIDs[task.ID]; dup {
			return nil, fmt.Errorf("dispatch: duplicate task id %s", task.ID)
		}
		taskIDs[task.ID] = struct{}{}

		tags := requirementTags(task, d.stop)
		bestID, bestScore := "", -1
		for _, c := range candidates {
			if score := overlap(tags, c.capabilities); score > bestScore {
				bestID, bestScore = c.id, score
			}
		}

		if bestScore < d.opts.MinOverlap {
			fallback := &DispatchError{
				Kind:         NoEligibleAgent,
				TaskID:       task.ID,
				Requirements: tags,
				BestScore:    bestScore,
				MinOverlap:   d.opts.MinOverlap,
			}
			d.opts.Logger.Warn("dispatch.fallback",
				"task_id", task.ID,
				"agent_id", defaultAgent,
				"best_score", bestScore,
			)
			assignment.set(Entry{TaskID: task.ID, AgentID: defaultAgent, Score: bestScore, Fallback: fallback})
			continue
		}

		d.opts.Logger.Debug("dispatch.assigned", "task_id", task.ID, "agent_id", bestID, "score", bestScore)
		assignment.set(Entry{TaskID: task.ID, AgentID: bestID, Score: bestScore})
	}
	return assignment, nil
}
