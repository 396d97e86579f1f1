package tool

import (
	"context"
	"fmt"
	"sync"
)

// Joined routes calls across several collaborators. A tool name is owned
// by the first collaborator that lists it.
type Joined struct {
	collaborators []Collaborator

	mu     sync.RWMutex
	owners map[string]Collaborator
}

var _ Collaborator = (*Joined)(nil)

// Join combines collaborators into one.
func Join(collaborators ...Collaborator) *Joined {
	return &Joined{
		collaborators: append([]Collaborator(nil), collaborators...),
		owners:        make(map[string]Collaborator),
	}
}

// ListTools lists the tools of every collaborator, dropping names already
// claimed by an earlier one.
func (j *Joined) ListTools(ctx context.Context) ([]ToolSpec, error) {
	owners := make(map[string]Collaborator)
	var specs []ToolSpec
	for i, c := range j.collaborators {
		listed, err := c.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools of collaborator %d: %w", i, err)
		}
		for _, spec := range listed {
			if _, taken := owners[spec.Name]; taken {
				continue
			}
			owners[spec.Name] = c
			specs = append(specs, spec)
		}
	}

	j.mu.Lock()
	j.owners = owners
	j.mu.Unlock()
	return specs, nil
}

// Invoke calls the owner of name. Owners are learned by ListTools.
func (j *Joined) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	j.mu.RLock()
	owner, ok := j.owners[name]
	j.mu.RUnlock()
	if !ok {
		return nil, NewToolError(name, "tool not registered", CodeNotFound)
	}
	return owner.Invoke(ctx, name, args)
}
