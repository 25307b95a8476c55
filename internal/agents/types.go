// Package agents provides the agent data model and the store through which
// every change to agent state flows.
package agents

import "github.com/talgya/agora/internal/catalog"

// AgentID is a unique identifier for an agent. Actions are applied in
// ascending AgentID order.
type AgentID uint64

// DefaultCapacity is the maximum total inventory quantity an agent carries.
const DefaultCapacity = 100.0

// Skill is one trained ability. Level rises every XPPerLevel experience.
type Skill struct {
	Level int `json:"level"`
	XP    int `json:"xp"`
}

// XPPerLevel is the experience needed for each skill level.
const XPPerLevel = 100

// Agent is the authoritative state of one participant.
type Agent struct {
	ID         AgentID `json:"id"`
	Name       string  `json:"name"`
	Archetype  string  `json:"archetype"`
	LocationID string  `json:"location_id"`

	Needs     Needs              `json:"needs"`
	Inventory map[string]float64 `json:"inventory"`
	Capacity  float64            `json:"capacity"`
	Skills    map[string]*Skill  `json:"skills"`

	// Analytics only; never gates an action.
	TravelCost    float64        `json:"travel_cost"`
	ActionCounts  map[string]int `json:"action_counts"`
	ResourceFocus map[string]int `json:"resource_focus"` // harvested resources and crafted recipes
}

// Load is the total quantity carried. Keys are summed in sorted order so
// the result is bit-identical across runs.
func (a *Agent) Load() float64 {
	var total float64
	for _, item := range catalog.SortedKeys(a.Inventory) {
		total += a.Inventory[item]
	}
	return total
}

// Free is the remaining inventory capacity.
func (a *Agent) Free() float64 {
	f := a.Capacity - a.Load()
	if f < 0 {
		return 0
	}
	return f
}

// SkillLevels flattens skills into a level map.
func (a *Agent) SkillLevels() map[string]int {
	out := make(map[string]int, len(a.Skills))
	for name, s := range a.Skills {
		out[name] = s.Level
	}
	return out
}

// Clone returns a deep copy.
func (a *Agent) Clone() Agent {
	c := *a
	c.Inventory = make(map[string]float64, len(a.Inventory))
	for k, v := range a.Inventory {
		c.Inventory[k] = v
	}
	c.Skills = make(map[string]*Skill, len(a.Skills))
	for k, s := range a.Skills {
		cp := *s
		c.Skills[k] = &cp
	}
	c.ActionCounts = make(map[string]int, len(a.ActionCounts))
	for k, v := range a.ActionCounts {
		c.ActionCounts[k] = v
	}
	c.ResourceFocus = make(map[string]int, len(a.ResourceFocus))
	for k, v := range a.ResourceFocus {
		c.ResourceFocus[k] = v
	}
	return c
}
