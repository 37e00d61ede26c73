// Package catalog is the in-memory agent directory. Agents are addressed
// by id; the registry owns no worker processes.
package catalog

import (
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/superxlabs/superx/pkg/a2a"
)

type Registry struct {
	agents *sync.Map
}

func NewRegistry() *Registry {
	return &Registry{
		agents: new(sync.Map),
	}
}

// Upsert creates or replaces the agent record.
func (registry *Registry) Upsert(agent *a2a.Agent) {
	log.Info("upserting agent", "id", agent.ID, "url", agent.URL, "protocol", agent.EffectiveProtocol())

	stored := *agent
	registry.agents.Store(agent.ID, &stored)
}

// Get returns the agent by id, or false when unknown.
func (registry *Registry) Get(id string) (*a2a.Agent, bool) {
	raw, ok := registry.agents.Load(id)
	if !ok {
		return nil, false
	}

	// Copy so callers never mutate the stored record.
	agent := *(raw.(*a2a.Agent))
	return &agent, true
}

// Delete removes the agent. Deleting an unknown id is a no-op.
func (registry *Registry) Delete(id string) {
	log.Info("deleting agent", "id", id)
	registry.agents.Delete(id)
}

// List returns all registered agents ordered by id.
func (registry *Registry) List() []*a2a.Agent {
	agents := make([]*a2a.Agent, 0)

	registry.agents.Range(func(key, value any) bool {
		agent := *(value.(*a2a.Agent))
		agents = append(agents, &agent)
		return true
	})

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID < agents[j].ID
	})

	return agents
}
