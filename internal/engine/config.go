package engine

import (
	"time"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/contract"
	"github.com/talgya/agora/internal/social"
	"github.com/talgya/agora/internal/trade"
	"github.com/talgya/agora/internal/world"
)

// Config holds everything a run is created with.
type Config struct {
	Agents int
	Seed   int64
	Demo   bool

	// DecisionTimeout bounds each agent's decision; a late agent idles.
	DecisionTimeout time.Duration
	// MaxConcurrent bounds decisions in flight. 0 means one per agent.
	MaxConcurrent int

	// HarvestCap bounds a single HARVEST before group limits apply.
	HarvestCap float64
	// HarvestXP is granted to the harvesting skill per successful harvest.
	HarvestXP int
	// EatThreshold is the food level below which agents eat from inventory.
	EatThreshold float64
	// ShelterRate scales a location's shelter quality into need recovery.
	ShelterRate float64
	NeedDecay   agents.NeedDecay

	// SlowTick is the duration above which the stability hook warns.
	SlowTick time.Duration

	Trade           trade.Config
	Social          social.Config
	ContractPenalty float64
	InboxCap        int
	World           world.GenConfig
}

// DefaultConfig returns the stock tuning for a run of 20 agents.
func DefaultConfig() Config {
	gen := world.DefaultGenConfig()
	return Config{
		Agents:          20,
		Seed:            gen.Seed,
		DecisionTimeout: 2 * time.Second,
		HarvestCap:      10,
		HarvestXP:       5,
		EatThreshold:    50,
		ShelterRate:     1,
		NeedDecay:       agents.DefaultNeedDecay(),
		SlowTick:        10 * time.Second,
		Trade:           trade.DefaultConfig(),
		Social:          social.DefaultConfig(),
		ContractPenalty: contract.DefaultPenalty,
		World:           gen,
	}
}
