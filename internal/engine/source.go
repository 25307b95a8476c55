package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/comm"
	"github.com/talgya/agora/internal/social"
	"github.com/talgya/agora/internal/trade"
	"github.com/talgya/agora/internal/world"
)

// Source decides one agent's action for a tick. It is called concurrently
// for different agents and must honour ctx: when ctx is done the agent
// idles regardless of what Decide eventually returns.
type Source interface {
	Decide(ctx context.Context, obs Observation) (action.Action, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, obs Observation) (action.Action, error)

// Decide calls f.
func (f SourceFunc) Decide(ctx context.Context, obs Observation) (action.Action, error) {
	return f(ctx, obs)
}

// IdleSource makes every agent idle.
var IdleSource = SourceFunc(func(_ context.Context, obs Observation) (action.Action, error) {
	return action.Idle(obs.Self.ID, "no decision source"), nil
})

// Route is a reachable neighbour of the observer's location.
type Route struct {
	To   string  `json:"to"`
	Cost float64 `json:"cost"`
}

// Peer is another agent at the observer's location.
type Peer struct {
	ID         agents.AgentID `json:"id"`
	Name       string         `json:"name"`
	Archetype  string         `json:"archetype"`
	Reputation float64        `json:"reputation"`
}

// Observation is everything one agent may see before deciding. It is a
// copy; sources may keep it.
type Observation struct {
	RunID     string            `json:"run_id"`
	Tick      uint64            `json:"tick"`
	Self      agents.Agent      `json:"self"`
	Location  world.Location    `json:"location"`
	Routes    []Route           `json:"routes"`
	Peers     []Peer            `json:"peers"`
	Incoming  []trade.Proposal  `json:"incoming_proposals"`
	Outgoing  []trade.Proposal  `json:"outgoing_proposals"`
	Groups    []social.Group    `json:"groups"`
	OpenVotes []social.Proposal `json:"open_votes"`
	Inbox     []comm.Message    `json:"inbox"`
	Prices    []trade.Quote     `json:"prices"`

	// NearbyGroups are active groups with a full member at the
	// observer's location that the observer does not belong to.
	NearbyGroups []social.Group `json:"nearby_groups"`
}

// inboxWindow is how many ticks of messages an observation carries.
const inboxWindow = 10

// observe builds an agent's observation. Caller holds the lock.
func (s *Simulation) observe(tick uint64, id agents.AgentID, prices []trade.Quote) (Observation, error) {
	self, err := s.agents.Get(id)
	if err != nil {
		return Observation{}, err
	}
	loc, err := s.world.Location(self.LocationID)
	if err != nil {
		return Observation{}, err
	}
	obs := Observation{
		RunID:     s.ID,
		Tick:      tick,
		Self:      self,
		Location:  loc,
		Incoming:  s.trades.PendingFor(id),
		Outgoing:  s.trades.PendingBy(id),
		Groups:    s.groups.GroupsOf(id),
		OpenVotes: s.groups.OpenProposals(id),
		Prices:    prices,
	}
	for _, e := range s.world.Neighbors(self.LocationID) {
		cost, err := s.world.TravelCost(self.LocationID, e.To)
		if err != nil {
			return Observation{}, err
		}
		obs.Routes = append(obs.Routes, Route{To: e.To, Cost: cost})
	}
	seen := make(map[uint64]bool)
	for _, g := range obs.Groups {
		seen[g.ID] = true
	}
	for _, other := range s.agents.AtLocation(self.LocationID) {
		if other == id {
			continue
		}
		a, err := s.agents.Get(other)
		if err != nil {
			return Observation{}, err
		}
		obs.Peers = append(obs.Peers, Peer{ID: a.ID, Name: a.Name, Archetype: a.Archetype, Reputation: a.Needs.Reputation})
		for _, g := range s.groups.GroupsOf(other) {
			if !seen[g.ID] {
				seen[g.ID] = true
				obs.NearbyGroups = append(obs.NearbyGroups, g)
			}
		}
	}
	sort.Slice(obs.NearbyGroups, func(i, j int) bool { return obs.NearbyGroups[i].ID < obs.NearbyGroups[j].ID })
	var since uint64
	if tick > inboxWindow {
		since = tick - inboxWindow
	}
	obs.Inbox = s.bus.Inbox(id, since)
	return obs, nil
}

// QueueSource serves actions submitted from outside the process, for
// example over HTTP. Each agent may queue one action at a time; it is
// consumed by the next collection. Agents with nothing queued wait until
// their decision deadline and then idle.
type QueueSource struct {
	mu      sync.Mutex
	pending map[agents.AgentID]action.Action
	changed chan struct{}
}

// NewQueueSource creates an empty queue.
func NewQueueSource() *QueueSource {
	return &QueueSource{
		pending: make(map[agents.AgentID]action.Action),
		changed: make(chan struct{}),
	}
}

// Submit queues a validated action for its agent.
func (q *QueueSource) Submit(a action.Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, dup := q.pending[a.AgentID]; dup {
		return errAlreadyQueued(a.AgentID)
	}
	q.pending[a.AgentID] = a
	close(q.changed)
	q.changed = make(chan struct{})
	return nil
}

// Pending returns how many actions are queued.
func (q *QueueSource) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Decide returns the agent's queued action, waiting for one until ctx
// is done.
func (q *QueueSource) Decide(ctx context.Context, obs Observation) (action.Action, error) {
	for {
		q.mu.Lock()
		if a, ok := q.pending[obs.Self.ID]; ok {
			delete(q.pending, obs.Self.ID)
			q.mu.Unlock()
			return a, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return action.Action{}, ctx.Err()
		case <-changed:
		}
	}
}
