package engine

import (
	"time"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/metrics"
	"github.com/talgya/agora/internal/trade"
	"github.com/talgya/agora/internal/world"
)

// Event categories.
const (
	CategoryAction     = "action"
	CategoryTrade      = "trade"
	CategoryContract   = "contract"
	CategoryGovernance = "governance"
	CategoryNeeds      = "needs"
	CategorySystem     = "system"
)

// Event is one thing that happened during a tick. Seq orders events
// within the tick.
type Event struct {
	Tick      uint64         `json:"tick"`
	Seq       int            `json:"seq"`
	Category  string         `json:"category"`
	Kind      string         `json:"kind"`
	Agent     agents.AgentID `json:"agent,omitempty"`
	Success   bool           `json:"success"`
	Reason    string         `json:"reason,omitempty"`
	Message   string         `json:"message,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Ref       uint64         `json:"ref,omitempty"` // proposal, contract or group id
}

// Mass accounts for quantity entering and leaving circulation in a tick.
// Across a tick, world stocks plus agent inventories plus group
// treasuries change by exactly
// Regenerated - Decayed - Eaten - CraftInputs + CraftOutputs - Forfeited.
type Mass struct {
	Regenerated  float64 `json:"regenerated"`
	Harvested    float64 `json:"harvested"` // moves stock to inventories
	Decayed      float64 `json:"decayed"`
	Eaten        float64 `json:"eaten"`
	CraftInputs  float64 `json:"craft_inputs"`
	CraftOutputs float64 `json:"craft_outputs"`
	Forfeited    float64 `json:"forfeited"`
}

// Net is the change in total quantity the tick should produce.
func (m Mass) Net() float64 {
	return m.Regenerated - m.Decayed - m.Eaten - m.CraftInputs + m.CraftOutputs - m.Forfeited
}

// WorldState is the full world and agent state at the end of a tick.
type WorldState struct {
	Agents    []agents.Agent   `json:"agents"`
	Locations []world.Location `json:"locations"`
}

// Summary is emitted once per tick.
type Summary struct {
	RunID    string              `json:"run_id"`
	Tick     uint64              `json:"tick"`
	Demo     bool                `json:"demo"`
	Events   []Event             `json:"events"`
	State    WorldState          `json:"state"`
	Metrics  metrics.Snapshot    `json:"metrics"`
	Prices   []trade.Quote       `json:"prices"`
	Trades   []trade.LedgerEntry `json:"trades"` // settled this tick
	Mass     Mass                `json:"mass"`
	Duration time.Duration       `json:"duration_ns"`
}

// Failed returns the events that did not succeed.
func (s Summary) Failed() []Event {
	var out []Event
	for _, e := range s.Events {
		if !e.Success {
			out = append(out, e)
		}
	}
	return out
}
