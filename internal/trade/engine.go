package trade

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

// Inventory is the slice of the agent store the trade engine needs.
type Inventory interface {
	Holds(id agents.AgentID, items map[string]float64) error
	Exchange(a, b agents.AgentID, aGives, bGives map[string]float64) error
	AdjustReputation(id agents.AgentID, delta float64) (float64, error)
}

// Config tunes the engine.
type Config struct {
	ExpiryTicks     uint64  // pending proposals expire this many ticks after creation
	MaxPending      int     // per proposer
	ReputationGain  float64 // granted to both parties on success
	StreakTolerance int     // failures forgiven before each further one costs reputation
	FailurePenalty  float64
}

// DefaultConfig returns the standard trade tuning.
func DefaultConfig() Config {
	return Config{
		ExpiryTicks:     10,
		MaxPending:      10,
		ReputationGain:  1,
		StreakTolerance: 3,
		FailurePenalty:  1,
	}
}

// Engine owns proposals, the ledger and price inference.
type Engine struct {
	cfg    Config
	cat    *catalog.Catalog
	inv    Inventory
	logger *slog.Logger

	proposals map[uint64]*Proposal
	nextID    uint64
	ledger    []LedgerEntry
	streaks   map[agents.AgentID]int
	prices    *Prices

	listeners []func(LedgerEntry)
}

// NewEngine creates an engine with an empty ledger.
func NewEngine(cfg Config, cat *catalog.Catalog, inv Inventory, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		cat:       cat,
		inv:       inv,
		logger:    logger,
		proposals: make(map[uint64]*Proposal),
		nextID:    1,
		streaks:   make(map[agents.AgentID]int),
		prices:    NewPrices(cat.BaseItem),
	}
}

// OnSettle registers fn to be called for every new ledger entry.
func (e *Engine) OnSettle(fn func(LedgerEntry)) {
	e.listeners = append(e.listeners, fn)
}

// Prices returns the price inference state.
func (e *Engine) Prices() *Prices { return e.prices }

// Propose records a trade intent. Nothing moves until acceptance. A counter
// rejects the proposal it answers once the new one is recorded.
func (e *Engine) Propose(tick uint64, proposer agents.AgentID, p *action.TradeProposal) (Proposal, error) {
	if proposer == p.Target {
		return Proposal{}, simerr.Validation("cannot trade with self")
	}
	if err := e.cat.HasItems(p.Offered); err != nil {
		return Proposal{}, err
	}
	if err := e.cat.HasItems(p.Requested); err != nil {
		return Proposal{}, err
	}
	for _, o := range p.Obligations {
		if err := e.cat.HasItems(o.Items); err != nil {
			return Proposal{}, err
		}
	}
	if n := len(e.PendingBy(proposer)); n >= e.cfg.MaxPending {
		return Proposal{}, simerr.Validation("agent %d already has %d pending proposals", proposer, n)
	}
	if err := e.inv.Holds(proposer, p.Offered); err != nil {
		return Proposal{}, err
	}
	var countered *Proposal
	if p.CounterOf != 0 {
		orig, err := e.pendingFor(tick, proposer, p.CounterOf)
		if err != nil {
			return Proposal{}, err
		}
		if p.Target != orig.Proposer {
			return Proposal{}, simerr.Validation("counter to proposal %d must go to agent %d", orig.ID, orig.Proposer)
		}
		countered = orig
	}

	prop := &Proposal{
		ID:          e.nextID,
		Proposer:    proposer,
		Target:      p.Target,
		Offered:     copyItems(p.Offered),
		Requested:   copyItems(p.Requested),
		CreatedTick: tick,
		Obligations: copyTerms(p.Obligations),
		Status:      StatusPending,
		CounterOf:   p.CounterOf,
	}
	e.nextID++
	e.proposals[prop.ID] = prop
	if countered != nil {
		e.fail(tick, countered, StatusRejected, fmt.Sprintf("countered by %d", prop.ID))
	}
	return prop.clone(), nil
}

// Accept executes a pending proposal addressed to accepter. If either side
// no longer holds its items the proposal is rejected as stale and no
// inventory changes.
func (e *Engine) Accept(tick uint64, accepter agents.AgentID, id uint64) (Proposal, LedgerEntry, error) {
	p, err := e.pendingFor(tick, accepter, id)
	if err != nil {
		return Proposal{}, LedgerEntry{}, err
	}

	if err := e.inv.Exchange(p.Proposer, p.Target, p.Offered, p.Requested); err != nil {
		reason := simerr.Code(err)
		if errors.Is(err, simerr.ErrInsufficientInventory) {
			err = simerr.StaleInventory("proposal %d: %v", id, err)
			reason = simerr.Code(err)
		}
		e.fail(tick, p, StatusRejected, reason)
		return p.clone(), LedgerEntry{}, err
	}

	p.Status = StatusAccepted
	p.ResolvedTick = tick
	e.streaks[p.Proposer] = 0
	proposerRep, err := e.inv.AdjustReputation(p.Proposer, e.cfg.ReputationGain)
	if err != nil {
		return p.clone(), LedgerEntry{}, err
	}
	targetRep, err := e.inv.AdjustReputation(p.Target, e.cfg.ReputationGain)
	if err != nil {
		return p.clone(), LedgerEntry{}, err
	}

	entry := LedgerEntry{
		Seq:        uint64(len(e.ledger)) + 1,
		Tick:       tick,
		ProposalID: p.ID,
		Proposer:   p.Proposer,
		Target:     p.Target,
		Gave:       copyItems(p.Offered),
		Received:   copyItems(p.Requested),

		ProposerReputation: proposerRep,
		TargetReputation:   targetRep,
	}
	e.ledger = append(e.ledger, entry)
	e.prices.Observe(entry)
	for _, fn := range e.listeners {
		fn(entry)
	}
	return p.clone(), entry, nil
}

// Decline rejects a proposal on behalf of its target. A proposer declining
// its own proposal cancels it instead.
func (e *Engine) Decline(tick uint64, agent agents.AgentID, id uint64) (Proposal, error) {
	p, ok := e.proposals[id]
	if ok && p.Proposer == agent {
		return e.Cancel(tick, agent, id)
	}
	p, err := e.pendingFor(tick, agent, id)
	if err != nil {
		return Proposal{}, err
	}
	e.fail(tick, p, StatusRejected, "declined")
	return p.clone(), nil
}

// Cancel withdraws a pending proposal. Only the proposer may cancel.
func (e *Engine) Cancel(tick uint64, agent agents.AgentID, id uint64) (Proposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return Proposal{}, simerr.NotFound("proposal %d", id)
	}
	if p.Proposer != agent {
		return Proposal{}, simerr.PermissionDenied("agent %d did not make proposal %d", agent, id)
	}
	if p.Status.Terminal() {
		return Proposal{}, simerr.Validation("proposal %d is %s", id, p.Status)
	}
	p.Status = StatusCancelled
	p.ResolvedTick = tick
	p.Reason = "cancelled"
	return p.clone(), nil
}

// Expire marks proposals older than the expiry window, in id order.
func (e *Engine) Expire(tick uint64) []Proposal {
	var out []Proposal
	for _, id := range e.sortedIDs() {
		p := e.proposals[id]
		if p.Status == StatusPending && e.expired(p, tick) {
			e.fail(tick, p, StatusExpired, "expired")
			out = append(out, p.clone())
		}
	}
	return out
}

func (e *Engine) expired(p *Proposal, tick uint64) bool {
	return tick > p.CreatedTick+e.cfg.ExpiryTicks
}

func (e *Engine) pendingFor(tick uint64, agent agents.AgentID, id uint64) (*Proposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, simerr.NotFound("proposal %d", id)
	}
	if p.Target != agent {
		return nil, simerr.PermissionDenied("proposal %d is not addressed to agent %d", id, agent)
	}
	if p.Status.Terminal() {
		return nil, simerr.Validation("proposal %d is %s", id, p.Status)
	}
	if e.expired(p, tick) {
		e.fail(tick, p, StatusExpired, "expired")
		return nil, simerr.Validation("proposal %d expired", id)
	}
	return p, nil
}

// fail resolves p unsuccessfully and charges the proposer's failure streak.
func (e *Engine) fail(tick uint64, p *Proposal, status Status, reason string) {
	p.Status = status
	p.ResolvedTick = tick
	p.Reason = reason
	e.streaks[p.Proposer]++
	if e.streaks[p.Proposer] > e.cfg.StreakTolerance {
		if _, err := e.inv.AdjustReputation(p.Proposer, -e.cfg.FailurePenalty); err != nil {
			e.logger.Warn("reputation penalty", "agent", p.Proposer, "error", err)
		}
	}
}

// Proposal returns a copy of a proposal by id.
func (e *Engine) Proposal(id uint64) (Proposal, error) {
	p, ok := e.proposals[id]
	if !ok {
		return Proposal{}, simerr.NotFound("proposal %d", id)
	}
	return p.clone(), nil
}

// Proposals returns every proposal in id order.
func (e *Engine) Proposals() []Proposal {
	ids := e.sortedIDs()
	out := make([]Proposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.proposals[id].clone())
	}
	return out
}

// PendingFor returns pending proposals addressed to agent.
func (e *Engine) PendingFor(agent agents.AgentID) []Proposal {
	return e.filter(func(p *Proposal) bool { return p.Status == StatusPending && p.Target == agent })
}

// PendingBy returns pending proposals made by agent.
func (e *Engine) PendingBy(agent agents.AgentID) []Proposal {
	return e.filter(func(p *Proposal) bool { return p.Status == StatusPending && p.Proposer == agent })
}

// Streak returns agent's current run of failed proposals.
func (e *Engine) Streak(agent agents.AgentID) int { return e.streaks[agent] }

// Ledger returns entries with Seq > since.
func (e *Engine) Ledger(since uint64) []LedgerEntry {
	if since >= uint64(len(e.ledger)) {
		return nil
	}
	out := make([]LedgerEntry, len(e.ledger)-int(since))
	copy(out, e.ledger[since:])
	return out
}

// LedgerLen returns the number of completed trades.
func (e *Engine) LedgerLen() int { return len(e.ledger) }

func (e *Engine) filter(keep func(*Proposal) bool) []Proposal {
	var out []Proposal
	for _, id := range e.sortedIDs() {
		if p := e.proposals[id]; keep(p) {
			out = append(out, p.clone())
		}
	}
	return out
}

func (e *Engine) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(e.proposals))
	for id := range e.proposals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State is the serialisable form of the engine.
type State struct {
	NextID    uint64                 `json:"next_id"`
	Proposals []Proposal             `json:"proposals"`
	Ledger    []LedgerEntry          `json:"ledger"`
	Streaks   map[agents.AgentID]int `json:"streaks"`
}

// State captures the engine for a snapshot.
func (e *Engine) State() State {
	streaks := make(map[agents.AgentID]int, len(e.streaks))
	for k, v := range e.streaks {
		if v != 0 {
			streaks[k] = v
		}
	}
	return State{
		NextID:    e.nextID,
		Proposals: e.Proposals(),
		Ledger:    e.Ledger(0),
		Streaks:   streaks,
	}
}

// Restore replaces the engine state. Prices are rebuilt by replaying the
// ledger, which yields the same estimates as the original run.
func (e *Engine) Restore(s State) {
	e.nextID = s.NextID
	e.proposals = make(map[uint64]*Proposal, len(s.Proposals))
	for i := range s.Proposals {
		p := s.Proposals[i].clone()
		e.proposals[p.ID] = &p
	}
	e.ledger = append([]LedgerEntry(nil), s.Ledger...)
	e.streaks = make(map[agents.AgentID]int, len(s.Streaks))
	for k, v := range s.Streaks {
		e.streaks[k] = v
	}
	e.prices = NewPrices(e.cat.BaseItem)
	for _, entry := range e.ledger {
		e.prices.Observe(entry)
	}
}
