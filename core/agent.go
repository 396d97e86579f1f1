package core

import (
	"errors"
	"strings"
)

// ErrInvalidAgent is returned for an AgentIdentity without an ID.
var ErrInvalidAgent = errors.New("invalid agent identity")

// AgentIdentity is the explicit identity passed to every agent operation.
// Agents carry no hidden state; memory is reached through an injected
// MemoryStore keyed by AgentID.
type AgentIdentity struct {
	AgentID       string   `json:"agent_id" yaml:"agent_id"`
	Role          string   `json:"role" yaml:"role"`
	Capabilities  []string `json:"capabilities,omitempty" yaml:"capabilities"`
	MemoryEnabled bool     `json:"memory_enabled" yaml:"memory_enabled"`
}

// Validate checks that the identity can be addressed.
func (a AgentIdentity) Validate() error {
	if strings.TrimSpace(a.AgentID) == "" {
		return ErrInvalidAgent
	}
	return nil
}

// HasCapability reports whether tag is among the capabilities (case-insensitive).
func (a AgentIdentity) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if strings.EqualFold(c, tag) {
			return true
		}
	}
	return false
}
