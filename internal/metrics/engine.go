package metrics

import (
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
)

// Input is the state a snapshot is derived from.
type Input struct {
	Tick            uint64
	Agents          []agents.Agent // ascending id
	ActiveGroups    int
	AvgGroupSize    float64
	PassRate        float64
	ActiveContracts int
	Trust           func(agents.AgentID) float64
}

// Snapshot is one tick's analytics.
type Snapshot struct {
	Tick           uint64         `json:"tick"`
	Population     int            `json:"population"`
	Wealth         Wealth         `json:"wealth"`
	Network        NetworkStats   `json:"network"`
	Specialization Specialization `json:"specialization"`
	Institutions   Institutions   `json:"institutions"`
}

// Engine derives snapshots. The only state it carries between ticks is
// the trade graph, extended per ledger entry, and the previous wealth
// ranking used for mobility.
type Engine struct {
	cat       *catalog.Catalog
	network   *Network
	prevRanks map[agents.AgentID]int
}

// NewEngine creates a metrics engine valuing inventories with cat.
func NewEngine(cat *catalog.Catalog) *Engine {
	return &Engine{cat: cat, network: NewNetwork()}
}

// AddTrade extends the trade graph with one settled trade.
func (e *Engine) AddTrade(a, b agents.AgentID) { e.network.AddTrade(a, b) }

// Reset clears the trade graph and ranking, ahead of replaying a ledger.
func (e *Engine) Reset() {
	e.network = NewNetwork()
	e.prevRanks = nil
}

// Compute derives the snapshot for in and remembers its wealth ranking.
func (e *Engine) Compute(in Input) Snapshot {
	values := make(map[agents.AgentID]float64, len(in.Agents))
	for _, a := range in.Agents {
		values[a.ID] = e.cat.Value(a.Inventory)
	}
	wealth, ranks := computeWealth(values, e.prevRanks)
	e.prevRanks = ranks

	inst := Institutions{
		ActiveGroups:    in.ActiveGroups,
		AvgGroupSize:    in.AvgGroupSize,
		PassRate:        in.PassRate,
		ActiveContracts: in.ActiveContracts,
		Score:           InstitutionScore(in.ActiveGroups, in.AvgGroupSize, in.PassRate, in.ActiveContracts),
	}
	if in.Trust != nil && len(in.Agents) > 0 {
		var sum float64
		for _, a := range in.Agents {
			sum += in.Trust(a.ID)
		}
		inst.AvgTrust = sum / float64(len(in.Agents))
	}

	return Snapshot{
		Tick:           in.Tick,
		Population:     len(in.Agents),
		Wealth:         wealth,
		Network:        e.network.Stats(),
		Specialization: computeSpecialization(e.cat, in.Agents),
		Institutions:   inst,
	}
}
