package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/comm"
	"github.com/talgya/agora/internal/contract"
	"github.com/talgya/agora/internal/entropy"
	"github.com/talgya/agora/internal/metrics"
	"github.com/talgya/agora/internal/simerr"
	"github.com/talgya/agora/internal/social"
	"github.com/talgya/agora/internal/trade"
	"github.com/talgya/agora/internal/world"
)

// Simulation is one run: it owns every store and is the only writer of
// its state. Several simulations can live in one process.
//
// Step must not be called concurrently with itself. The query methods
// are safe to call from any goroutine.
type Simulation struct {
	ID string

	cfg     Config
	logger  *slog.Logger
	cat     *catalog.Catalog
	streams *entropy.Streams
	source  Source

	world     *world.Model
	agents    *agents.Store
	trades    *trade.Engine
	contracts *contract.Manager
	groups    *social.Registry
	bus       *comm.Bus
	metrics   *metrics.Engine

	hooks []Hook
	sinks []func(Summary)

	stepMu sync.Mutex
	mu     sync.RWMutex
	tick   uint64
	last   Summary
	failed error

	// Per-tick scratch, reset by beginTick.
	tickStart time.Time
	events    []Event
	mass      Mass
	settled   []trade.LedgerEntry
}

// New creates a run: generates the world, spawns the population and
// computes the tick 0 summary. A zero seed draws a random one.
func New(cfg Config, cat *catalog.Catalog, source Source, logger *slog.Logger) (*Simulation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if source == nil {
		source = IdleSource
	}
	if cfg.Seed == 0 {
		cfg.Seed = entropy.RandomSeed()
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = DefaultConfig().DecisionTimeout
	}
	if cfg.HarvestCap <= 0 {
		cfg.HarvestCap = DefaultConfig().HarvestCap
	}
	if cfg.Agents < 0 {
		return nil, simerr.Validation("agent count must not be negative")
	}

	gen := cfg.World
	gen.Seed = cfg.Seed
	if gen.MaxFill == 0 {
		gen.MinFill, gen.MaxFill = world.DefaultGenConfig().MinFill, world.DefaultGenConfig().MaxFill
	}
	w, err := world.Generate(cat, gen)
	if err != nil {
		return nil, fmt.Errorf("generate world: %w", err)
	}

	s := &Simulation{
		ID:      uuid.NewString(),
		cfg:     cfg,
		logger:  logger,
		cat:     cat,
		streams: entropy.New(cfg.Seed),
		source:  source,
		world:   w,
		agents:  agents.NewStore(cat, cfg.NeedDecay, w.Has),
		bus:     comm.NewBus(cfg.InboxCap),
		metrics: metrics.NewEngine(cat),
		hooks:   defaultHooks(),
	}
	s.logger = logger.With("run", s.ID)
	s.trades = trade.NewEngine(cfg.Trade, cat, s.agents, s.logger)
	s.contracts = contract.NewManager(cfg.ContractPenalty, s.agents, s.logger)
	s.groups = social.NewRegistry(cfg.Social, s.agents, s.logger)
	s.trades.OnSettle(func(e trade.LedgerEntry) {
		s.metrics.AddTrade(e.Proposer, e.Target)
		s.settled = append(s.settled, e)
	})

	spawner := agents.NewSpawner(cfg.Seed)
	for _, a := range spawner.SpawnPopulation(cfg.Agents, w.LocationIDs()) {
		if err := s.agents.Add(a); err != nil {
			return nil, fmt.Errorf("spawn agent %d: %w", a.ID, err)
		}
	}

	s.beginTick(0)
	s.last = s.summarize(0)
	s.logger.Info("run created", "seed", cfg.Seed, "agents", cfg.Agents, "locations", len(w.LocationIDs()))
	return s, nil
}

// OnSummary registers a callback for every tick summary. Callbacks run on
// the stepping goroutine after the state lock is released.
func (s *Simulation) OnSummary(fn func(Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, fn)
}

// Streams returns the run's deterministic random streams.
func (s *Simulation) Streams() *entropy.Streams { return s.streams }

// Config returns the configuration the run was created with.
func (s *Simulation) Config() Config { return s.cfg }

// Catalog returns the run's catalog.
func (s *Simulation) Catalog() *catalog.Catalog { return s.cat }

func (s *Simulation) beginTick(tick uint64) {
	s.tickStart = time.Now()
	s.events = nil
	s.mass = Mass{}
	s.settled = nil
}

// emit appends an event to the current tick, stamping tick and sequence.
func (s *Simulation) emit(e Event) {
	e.Tick = s.tick + 1
	e.Seq = len(s.events)
	s.events = append(s.events, e)
}

// Step advances the run by one tick and returns its summary. After a
// fatal error every further Step returns that error.
func (s *Simulation) Step(ctx context.Context) (Summary, error) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()

	s.mu.Lock()
	if s.failed != nil {
		s.mu.Unlock()
		return Summary{}, s.failed
	}
	tick := s.tick + 1
	s.beginTick(tick)
	if err := s.runHooks(PhaseRegen, tick); err != nil {
		s.mu.Unlock()
		return Summary{}, s.fail(tick, err)
	}
	obs, err := s.observations(tick)
	s.mu.Unlock()
	if err != nil {
		return Summary{}, s.fail(tick, err)
	}

	decisions := s.collect(ctx, obs)

	s.mu.Lock()
	sum, err := s.finish(tick, decisions)
	sinks := s.sinks
	s.mu.Unlock()
	if err != nil {
		return Summary{}, s.fail(tick, err)
	}
	for _, fn := range sinks {
		fn(sum)
	}
	return sum, nil
}

func (s *Simulation) fail(tick uint64, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = fmt.Errorf("tick %d: %w", tick, err)
	s.logger.Error("run terminated", "tick", tick, "error", err)
	return s.failed
}

// observations builds every agent's view in ascending id order.
func (s *Simulation) observations(tick uint64) ([]Observation, error) {
	prices := s.trades.Prices().Quotes()
	ids := s.agents.IDs()
	out := make([]Observation, 0, len(ids))
	for _, id := range ids {
		o, err := s.observe(tick, id, prices)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// finish runs everything after collection. Caller holds the lock.
func (s *Simulation) finish(tick uint64, decisions []decision) (Summary, error) {
	for _, d := range decisions {
		if d.rejected != nil {
			metrics.Inc(metrics.ActionsRejected)
			s.emit(Event{
				Category: CategoryAction,
				Kind:     "REJECTED",
				Agent:    d.action.AgentID,
				Reason:   simerr.Code(d.rejected),
				Message:  d.rejected.Error(),
			})
			continue
		}
		if err := s.apply(tick, d.action); err != nil {
			return Summary{}, err
		}
	}

	s.settle(tick)

	if err := s.runHooks(PhaseDecay, tick); err != nil {
		return Summary{}, err
	}
	if err := s.checkInvariants(); err != nil {
		return Summary{}, err
	}
	if err := s.runHooks(PhaseAfterTick, tick); err != nil {
		return Summary{}, err
	}

	s.tick = tick
	metrics.Inc(metrics.TicksTotal)
	s.last = s.summarize(tick)
	s.logger.Debug("tick complete", "tick", tick, "events", len(s.events), "trades", len(s.settled), "elapsed", s.last.Duration)
	return s.last, nil
}

// settle runs contract delivery, proposal expiry and vote resolution.
func (s *Simulation) settle(tick uint64) {
	var lastBreach uint64
	for _, ev := range s.contracts.Settle(tick) {
		if ev.Kind == contract.EventBreached && ev.ContractID != lastBreach {
			lastBreach = ev.ContractID
			metrics.Inc(metrics.ContractsBreached)
		}
		msg := fmt.Sprintf("contract %d %s", ev.ContractID, ev.Kind)
		if ev.Penalty > 0 {
			msg += fmt.Sprintf(", reputation -%.0f", ev.Penalty)
		}
		s.emit(Event{
			Category: CategoryContract,
			Kind:     "CONTRACT_" + strings.ToUpper(string(ev.Kind)),
			Agent:    ev.Agent,
			Success:  ev.Kind != contract.EventBreached,
			Reason:   ev.Reason,
			Message:  msg,
			Ref:      ev.ContractID,
		})
	}

	for _, p := range s.trades.Expire(tick) {
		s.emit(Event{
			Category: CategoryTrade,
			Kind:     "TRADE_EXPIRED",
			Agent:    p.Proposer,
			Reason:   string(p.Status),
			Message:  fmt.Sprintf("trade %d to agent %d expired", p.ID, p.Target),
			Ref:      p.ID,
		})
	}

	for _, r := range s.groups.Resolve(tick) {
		metrics.Inc(metrics.ProposalsResolved)
		s.emit(Event{
			Category: CategoryGovernance,
			Kind:     "PROPOSAL_" + strings.ToUpper(string(r.Status)),
			Success:  r.Status == social.ProposalPassed,
			Reason:   string(r.Status),
			Message:  fmt.Sprintf("group %d proposal %d: %.0f yes of %.0f eligible", r.GroupID, r.ProposalID, r.Yes, r.Eligible),
			Ref:      r.ProposalID,
		})
	}
}

func (s *Simulation) checkInvariants() error {
	if err := s.world.CheckInvariants(); err != nil {
		return err
	}
	if err := s.agents.CheckInvariants(); err != nil {
		return err
	}
	return s.groups.CheckInvariants()
}

// summarize builds the summary for tick from the current state.
func (s *Simulation) summarize(tick uint64) Summary {
	all := s.agents.All()
	count, avgSize := s.groups.ActiveStats()
	snap := s.metrics.Compute(metrics.Input{
		Tick:            tick,
		Agents:          all,
		ActiveGroups:    count,
		AvgGroupSize:    avgSize,
		PassRate:        s.groups.PassRate(),
		ActiveContracts: s.contracts.Active(),
		Trust:           s.contracts.Trust,
	})
	return Summary{
		RunID:    s.ID,
		Tick:     tick,
		Demo:     s.cfg.Demo,
		Events:   s.events,
		State:    WorldState{Agents: all, Locations: s.world.Locations()},
		Metrics:  snap,
		Prices:   s.trades.Prices().Quotes(),
		Trades:   s.settled,
		Mass:     s.mass,
		Duration: time.Since(s.tickStart),
	}
}

// Run steps until ticks have run (forever when ticks <= 0) or ctx is
// cancelled. Cancellation is only observed between ticks. interval, when
// positive, is the minimum wall time per tick.
func (s *Simulation) Run(ctx context.Context, ticks int, interval time.Duration) error {
	s.logger.Info("simulation started", "tick", s.Tick(), "ticks", ticks, "interval", interval)
	for n := 0; ticks <= 0 || n < ticks; n++ {
		if err := ctx.Err(); err != nil {
			s.logger.Info("simulation stopped", "tick", s.Tick())
			return err
		}
		start := time.Now()
		if _, err := s.Step(ctx); err != nil {
			return err
		}
		if wait := interval - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
	s.logger.Info("simulation finished", "tick", s.Tick())
	return nil
}

// Tick returns the last completed tick.
func (s *Simulation) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Last returns the most recent summary.
func (s *Simulation) Last() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Err returns the fatal error that terminated the run, if any.
func (s *Simulation) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failed
}

// HasAgent reports whether id is part of the run.
func (s *Simulation) HasAgent(id agents.AgentID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents.Has(id)
}

// Agents returns every agent in id order.
func (s *Simulation) Agents() []agents.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents.All()
}

// Agent returns one agent.
func (s *Simulation) Agent(id agents.AgentID) (agents.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agents.Get(id)
}

// Observe returns the view agent id would decide from at the next tick.
func (s *Simulation) Observe(id agents.AgentID) (Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observe(s.tick+1, id, s.trades.Prices().Quotes())
}

// Locations returns every location in id order.
func (s *Simulation) Locations() []world.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Locations()
}

// Groups returns every group, dissolved ones included.
func (s *Simulation) Groups() []social.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups.Groups()
}

// GovernanceProposals returns every rule proposal.
func (s *Simulation) GovernanceProposals() []social.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups.Proposals()
}

// Contracts returns every contract.
func (s *Simulation) Contracts() []contract.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contracts.Contracts()
}

// TradeProposals returns every trade proposal.
func (s *Simulation) TradeProposals() []trade.Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades.Proposals()
}

// Ledger returns trades with sequence numbers above since.
func (s *Simulation) Ledger(since uint64) []trade.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades.Ledger(since)
}

// Prices returns the current price estimates.
func (s *Simulation) Prices() []trade.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades.Prices().Quotes()
}

// EmergingCurrency reports the item most often used as a medium of
// exchange, once one has emerged.
func (s *Simulation) EmergingCurrency() (string, float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trades.Prices().EmergingCurrency()
}

// Inbox returns an agent's messages from sinceTick on.
func (s *Simulation) Inbox(id agents.AgentID, sinceTick uint64) []comm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bus.Inbox(id, sinceTick)
}

// Validate checks an action against the run without applying it: the
// agent must exist and the payload must pass its own checks.
func (s *Simulation) Validate(a action.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !s.HasAgent(a.AgentID) {
		return simerr.NotFound("agent %d", a.AgentID)
	}
	return nil
}
