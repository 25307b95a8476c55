// Package contract tracks deferred obligations created by accepted trades
// and settles them once per tick.
package contract

import (
	"log/slog"
	"sort"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/simerr"
	"github.com/talgya/agora/internal/trade"
)

// DefaultPenalty is the reputation lost by each breaching party.
const DefaultPenalty = 10.0

// Status of a contract. Fulfilled and Breached are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusFulfilled Status = "fulfilled"
	StatusBreached  Status = "breached"
)

// Obligation is one promised delivery.
type Obligation struct {
	Obligor     agents.AgentID     `json:"obligor"`
	Beneficiary agents.AgentID     `json:"beneficiary"`
	Items       map[string]float64 `json:"items"`
	DueTick     uint64             `json:"due_tick"`
	Delivered   bool               `json:"delivered"`
}

// Contract binds the parties of a trade to future deliveries.
type Contract struct {
	ID          uint64            `json:"id"`
	ProposalID  uint64            `json:"proposal_id"`
	Parties     [2]agents.AgentID `json:"parties"`
	Obligations []Obligation      `json:"obligations"`
	CreatedTick uint64            `json:"created_tick"`
	ClosedTick  uint64            `json:"closed_tick,omitempty"`
	Status      Status            `json:"status"`
	Penalty     float64           `json:"penalty"`
	// Breachers is set once when the contract breaches; the penalty is
	// applied to exactly these agents, exactly once.
	Breachers []agents.AgentID `json:"breachers,omitempty"`
}

func (c *Contract) clone() Contract {
	cp := *c
	cp.Obligations = make([]Obligation, len(c.Obligations))
	for i, o := range c.Obligations {
		items := make(map[string]float64, len(o.Items))
		for k, v := range o.Items {
			items[k] = v
		}
		o.Items = items
		cp.Obligations[i] = o
	}
	cp.Breachers = append([]agents.AgentID(nil), c.Breachers...)
	return cp
}

// Involves reports whether id is a party.
func (c *Contract) Involves(id agents.AgentID) bool {
	return c.Parties[0] == id || c.Parties[1] == id
}

// Transferer moves goods between agents and adjusts reputation.
type Transferer interface {
	Exchange(a, b agents.AgentID, aGives, bGives map[string]float64) error
	AdjustReputation(id agents.AgentID, delta float64) (float64, error)
}

// EventKind labels a settlement outcome.
type EventKind string

const (
	EventDelivered EventKind = "delivered"
	EventFulfilled EventKind = "fulfilled"
	EventBreached  EventKind = "breached"
)

// Event reports one settlement outcome.
type Event struct {
	Kind       EventKind          `json:"kind"`
	ContractID uint64             `json:"contract_id"`
	Agent      agents.AgentID     `json:"agent"`
	Items      map[string]float64 `json:"items,omitempty"`
	Penalty    float64            `json:"penalty,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Manager owns every contract of a run.
type Manager struct {
	penalty   float64
	xfer      Transferer
	logger    *slog.Logger
	contracts map[uint64]*Contract
	nextID    uint64
}

// NewManager creates an empty manager. penalty <= 0 selects DefaultPenalty.
func NewManager(penalty float64, xfer Transferer, logger *slog.Logger) *Manager {
	if penalty <= 0 {
		penalty = DefaultPenalty
	}
	return &Manager{
		penalty:   penalty,
		xfer:      xfer,
		logger:    logger,
		contracts: make(map[uint64]*Contract),
		nextID:    1,
	}
}

// Create opens a contract from an accepted proposal carrying obligations.
func (m *Manager) Create(tick uint64, p trade.Proposal) (Contract, error) {
	if p.Status != trade.StatusAccepted {
		return Contract{}, simerr.Validation("proposal %d is %s, not accepted", p.ID, p.Status)
	}
	if len(p.Obligations) == 0 {
		return Contract{}, simerr.Validation("proposal %d has no obligations", p.ID)
	}
	c := &Contract{
		ID:          m.nextID,
		ProposalID:  p.ID,
		Parties:     [2]agents.AgentID{p.Proposer, p.Target},
		CreatedTick: tick,
		Status:      StatusActive,
		Penalty:     m.penalty,
	}
	for _, term := range p.Obligations {
		c.Obligations = append(c.Obligations, obligationFrom(p, term, tick))
	}
	m.nextID++
	m.contracts[c.ID] = c
	return c.clone(), nil
}

func obligationFrom(p trade.Proposal, term action.ObligationTerm, tick uint64) Obligation {
	o := Obligation{
		Obligor:     p.Proposer,
		Beneficiary: p.Target,
		Items:       make(map[string]float64, len(term.Items)),
		DueTick:     tick + term.DueIn,
	}
	if term.Obligor == action.PartyTarget {
		o.Obligor, o.Beneficiary = p.Target, p.Proposer
	}
	for k, v := range term.Items {
		o.Items[k] = v
	}
	return o
}

// Settle processes every active contract in id order. Obligations due at
// or before tick are delivered if the obligor can cover them; any that
// cannot be delivered breach the contract.
func (m *Manager) Settle(tick uint64) []Event {
	var events []Event
	for _, id := range m.ids() {
		c := m.contracts[id]
		if c.Status != StatusActive {
			continue
		}
		events = append(events, m.settle(tick, c)...)
	}
	return events
}

func (m *Manager) settle(tick uint64, c *Contract) []Event {
	var events []Event
	var breachers []agents.AgentID
	for i := range c.Obligations {
		o := &c.Obligations[i]
		if o.Delivered || o.DueTick > tick {
			continue
		}
		if err := m.xfer.Exchange(o.Obligor, o.Beneficiary, o.Items, nil); err != nil {
			breachers = appendUnique(breachers, o.Obligor)
			events = append(events, Event{
				Kind: EventBreached, ContractID: c.ID, Agent: o.Obligor,
				Items: o.Items, Reason: simerr.Code(err),
			})
			continue
		}
		o.Delivered = true
		events = append(events, Event{Kind: EventDelivered, ContractID: c.ID, Agent: o.Obligor, Items: o.Items})
	}

	if len(breachers) > 0 {
		c.Status = StatusBreached
		c.ClosedTick = tick
		c.Breachers = breachers
		for _, id := range breachers {
			applied, err := m.xfer.AdjustReputation(id, -c.Penalty)
			if err != nil {
				m.logger.Warn("breach penalty", "contract", c.ID, "agent", id, "error", err)
				continue
			}
			m.logger.Debug("contract breached", "contract", c.ID, "agent", id, "penalty", -applied)
		}
		for i := range events {
			if events[i].Kind == EventBreached {
				events[i].Penalty = c.Penalty
			}
		}
		return events
	}

	for _, o := range c.Obligations {
		if !o.Delivered {
			return events
		}
	}
	c.Status = StatusFulfilled
	c.ClosedTick = tick
	return append(events, Event{Kind: EventFulfilled, ContractID: c.ID})
}

func appendUnique(list []agents.AgentID, id agents.AgentID) []agents.AgentID {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

// Contract returns a copy of one contract.
func (m *Manager) Contract(id uint64) (Contract, error) {
	c, ok := m.contracts[id]
	if !ok {
		return Contract{}, simerr.NotFound("contract %d", id)
	}
	return c.clone(), nil
}

// Contracts returns every contract in id order.
func (m *Manager) Contracts() []Contract {
	out := make([]Contract, 0, len(m.contracts))
	for _, id := range m.ids() {
		out = append(out, m.contracts[id].clone())
	}
	return out
}

// ForAgent returns the contracts agent is party to.
func (m *Manager) ForAgent(agent agents.AgentID) []Contract {
	var out []Contract
	for _, id := range m.ids() {
		if c := m.contracts[id]; c.Involves(agent) {
			out = append(out, c.clone())
		}
	}
	return out
}

// Active counts contracts still open.
func (m *Manager) Active() int {
	n := 0
	for _, c := range m.contracts {
		if c.Status == StatusActive {
			n++
		}
	}
	return n
}

// Counts tallies contracts by status.
func (m *Manager) Counts() map[Status]int {
	out := map[Status]int{StatusActive: 0, StatusFulfilled: 0, StatusBreached: 0}
	for _, c := range m.contracts {
		out[c.Status]++
	}
	return out
}

// Trust is fulfilled / (fulfilled + breached) over the agent's closed
// contracts, or 1 when it has none. A breach counts against the breaching
// party only.
func (m *Manager) Trust(agent agents.AgentID) float64 {
	var fulfilled, breached int
	for _, c := range m.contracts {
		if !c.Involves(agent) {
			continue
		}
		switch c.Status {
		case StatusFulfilled:
			fulfilled++
		case StatusBreached:
			for _, b := range c.Breachers {
				if b == agent {
					breached++
				}
			}
		}
	}
	if fulfilled+breached == 0 {
		return 1
	}
	return float64(fulfilled) / float64(fulfilled+breached)
}

func (m *Manager) ids() []uint64 {
	ids := make([]uint64, 0, len(m.contracts))
	for id := range m.contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State is the serialisable form of the manager.
type State struct {
	NextID    uint64     `json:"next_id"`
	Contracts []Contract `json:"contracts"`
}

// State captures the manager for a snapshot.
func (m *Manager) State() State {
	return State{NextID: m.nextID, Contracts: m.Contracts()}
}

// Restore replaces all contracts.
func (m *Manager) Restore(s State) {
	m.nextID = s.NextID
	m.contracts = make(map[uint64]*Contract, len(s.Contracts))
	for i := range s.Contracts {
		c := s.Contracts[i].clone()
		m.contracts[c.ID] = &c
	}
}
