package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/comm"
	"github.com/talgya/agora/internal/contract"
	"github.com/talgya/agora/internal/simerr"
	"github.com/talgya/agora/internal/social"
	"github.com/talgya/agora/internal/trade"
	"github.com/talgya/agora/internal/world"
)

// State is the full serialisable state of a run between ticks. The map
// topology is not stored: it is regenerated from Seed.
type State struct {
	RunID     string           `json:"run_id"`
	Seed      int64            `json:"seed"`
	Tick      uint64           `json:"tick"`
	Agents    []agents.Agent   `json:"agents"`
	Locations []world.Location `json:"locations"`
	Trade     trade.State      `json:"trade"`
	Contracts contract.State   `json:"contracts"`
	Social    social.State     `json:"social"`
	Comm      comm.State       `json:"comm"`
}

// Snapshot captures the run's state.
func (s *Simulation) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Simulation) snapshot() State {
	return State{
		RunID:     s.ID,
		Seed:      s.cfg.Seed,
		Tick:      s.tick,
		Agents:    s.agents.All(),
		Locations: s.world.Locations(),
		Trade:     s.trades.State(),
		Contracts: s.contracts.State(),
		Social:    s.groups.State(),
		Comm:      s.bus.State(),
	}
}

// Restore replaces the run's state with st. The run must have been
// created with st's seed so the map matches. Mobility starts over after a
// restore because previous ranks are not part of the state.
func (s *Simulation) Restore(st State) error {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.Seed != s.cfg.Seed {
		return simerr.Validation("snapshot seed %d does not match run seed %d", st.Seed, s.cfg.Seed)
	}
	if err := s.world.Restore(st.Locations); err != nil {
		return fmt.Errorf("restore world: %w", err)
	}
	if err := s.agents.Restore(st.Agents); err != nil {
		return fmt.Errorf("restore agents: %w", err)
	}
	s.trades.Restore(st.Trade)
	s.contracts.Restore(st.Contracts)
	s.groups.Restore(st.Social)
	s.bus.Restore(st.Comm)

	s.metrics.Reset()
	for _, e := range st.Trade.Ledger {
		s.metrics.AddTrade(e.Proposer, e.Target)
	}
	if st.RunID != "" {
		s.ID = st.RunID
	}
	s.tick = st.Tick
	s.failed = nil
	s.beginTick(st.Tick)
	s.last = s.summarize(st.Tick)
	s.logger.Info("run restored", "tick", st.Tick, "agents", len(st.Agents))
	return nil
}

// FromState creates a run and restores st into it.
func FromState(ctx context.Context, cfg Config, cat *catalog.Catalog, source Source, logger *slog.Logger, st State) (*Simulation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg.Seed = st.Seed
	cfg.Agents = 0
	s, err := New(cfg, cat, source, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Restore(st); err != nil {
		return nil, err
	}
	return s, nil
}

// Digest is a hash of the run's state that ignores the run id. Two runs
// with equal digests are in the same state.
func (s *Simulation) Digest() (string, error) {
	st := s.Snapshot()
	return DigestOf(st)
}

// DigestOf hashes st the way Digest does.
func DigestOf(st State) (string, error) {
	st.RunID = ""
	b, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
