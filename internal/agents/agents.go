// Package agents holds agent definitions and the lookups the orchestration
// loop uses to resolve an agent id into a persona and provider.
package agents

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aristath/taskflow/internal/config"
)

// ErrAgentNotFound is returned by lookups for unknown agent ids.
var ErrAgentNotFound = errors.New("agent not found")

// Agent is a persona that works on tasks through an LLM provider.
type Agent struct {
	ID           string
	Name         string
	Role         string
	Description  string
	Goals        []string
	Capabilities []string
	Provider     string
	Model        string
	SystemPrompt string
	Tools        []string // Allowed tool ids; empty allows every tool
}

// AllowsTool reports whether the agent may call toolID.
func (a *Agent) AllowsTool(toolID string) bool {
	return len(a.Tools) == 0 || slices.Contains(a.Tools, toolID)
}

func (a *Agent) clone() *Agent {
	c := *a
	c.Goals = slices.Clone(a.Goals)
	c.Capabilities = slices.Clone(a.Capabilities)
	c.Tools = slices.Clone(a.Tools)
	return &c
}

// Lookup resolves agent ids.
type Lookup interface {
	FindAgentByID(ctx context.Context, id string) (*Agent, error)
}

// Directory is an in-memory Lookup.
type Directory struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewDirectory returns a Directory holding agents.
func NewDirectory(agents ...Agent) *Directory {
	d := &Directory{agents: make(map[string]*Agent, len(agents))}
	for i := range agents {
		d.Put(agents[i])
	}
	return d
}

// NewDirectoryFromConfig builds a Directory from the agents section of the
// config file. Map keys become agent ids.
func NewDirectoryFromConfig(defs map[string]config.AgentConfig) *Directory {
	d := NewDirectory()
	for id, def := range defs {
		d.Put(FromConfig(id, def))
	}
	return d
}

// FromConfig converts one config entry into an Agent.
func FromConfig(id string, def config.AgentConfig) Agent {
	name := def.Name
	if name == "" {
		name = id
	}
	return Agent{
		ID:           id,
		Name:         name,
		Role:         def.Role,
		Description:  def.Description,
		Goals:        slices.Clone(def.Goals),
		Capabilities: slices.Clone(def.Capabilities),
		Provider:     def.Provider,
		Model:        def.Model,
		SystemPrompt: def.SystemPrompt,
		Tools:        slices.Clone(def.Tools),
	}
}

// Put adds or replaces an agent.
func (d *Directory) Put(a Agent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agents[a.ID] = a.clone()
}

// FindAgentByID returns a copy of the agent or ErrAgentNotFound.
func (d *Directory) FindAgentByID(_ context.Context, id string) (*Agent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return a.clone(), nil
}

// IDs returns the known agent ids, sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.agents))
	for id := range d.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
