package contract

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
	"github.com/talgya/agora/internal/trade"
)

func newStore(t *testing.T) *agents.Store {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	s := agents.NewStore(cat, agents.DefaultNeedDecay(), func(string) bool { return true })
	require.NoError(t, s.Add(agents.Agent{ID: 1, LocationID: "market", Needs: agents.DefaultNeeds()}))
	require.NoError(t, s.Add(agents.Agent{ID: 2, LocationID: "market", Needs: agents.DefaultNeeds()}))
	return s
}

func accepted(terms ...action.ObligationTerm) trade.Proposal {
	return trade.Proposal{ID: 7, Proposer: 1, Target: 2, Status: trade.StatusAccepted, Obligations: terms}
}

func newManager(s *agents.Store) *Manager {
	return NewManager(0, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateRequiresAcceptedProposalWithTerms(t *testing.T) {
	m := newManager(newStore(t))
	_, err := m.Create(1, trade.Proposal{ID: 1, Status: trade.StatusPending})
	assert.ErrorIs(t, err, simerr.ErrValidation)
	_, err = m.Create(1, trade.Proposal{ID: 1, Status: trade.StatusAccepted})
	assert.ErrorIs(t, err, simerr.ErrValidation)

	c, err := m.Create(3, accepted(action.ObligationTerm{Obligor: action.PartyTarget, Items: map[string]float64{"wood": 2}, DueIn: 5}))
	require.NoError(t, err)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, DefaultPenalty, c.Penalty)
	require.Len(t, c.Obligations, 1)
	assert.Equal(t, agents.AgentID(2), c.Obligations[0].Obligor)
	assert.Equal(t, agents.AgentID(1), c.Obligations[0].Beneficiary)
	assert.Equal(t, uint64(8), c.Obligations[0].DueTick)
}

func TestSettleDeliversOnDueTick(t *testing.T) {
	s := newStore(t)
	m := newManager(s)
	require.NoError(t, s.AddItems(2, map[string]float64{"wood": 5}))
	c, err := m.Create(1, accepted(action.ObligationTerm{Obligor: action.PartyTarget, Items: map[string]float64{"wood": 2}, DueIn: 2}))
	require.NoError(t, err)

	assert.Empty(t, m.Settle(2), "not due yet")
	assert.Equal(t, 5.0, s.Quantity(2, "wood"))

	events := m.Settle(3)
	require.Len(t, events, 2)
	assert.Equal(t, EventDelivered, events[0].Kind)
	assert.Equal(t, EventFulfilled, events[1].Kind)
	assert.Equal(t, 2.0, s.Quantity(1, "wood"))
	assert.Equal(t, 3.0, s.Quantity(2, "wood"))

	got, _ := m.Contract(c.ID)
	assert.Equal(t, StatusFulfilled, got.Status)
	assert.Equal(t, 1.0, m.Trust(2))
	assert.Zero(t, m.Active())
}

func TestBreachPenaltyAppliedOnce(t *testing.T) {
	s := newStore(t)
	m := newManager(s)
	c, err := m.Create(1, accepted(
		action.ObligationTerm{Obligor: action.PartyProposer, Items: map[string]float64{"grain": 3}, DueIn: 1},
		action.ObligationTerm{Obligor: action.PartyProposer, Items: map[string]float64{"stone": 1}, DueIn: 1},
	))
	require.NoError(t, err)

	events := m.Settle(2)
	require.Len(t, events, 2, "one event per unmet obligation")
	for _, e := range events {
		assert.Equal(t, EventBreached, e.Kind)
		assert.Equal(t, DefaultPenalty, e.Penalty)
	}
	assert.Equal(t, 40.0, s.Reputation(1), "two unmet terms, one penalty")
	assert.Equal(t, 50.0, s.Reputation(2))

	for tick := uint64(3); tick < 10; tick++ {
		assert.Empty(t, m.Settle(tick))
	}
	assert.Equal(t, 40.0, s.Reputation(1))

	got, _ := m.Contract(c.ID)
	assert.Equal(t, StatusBreached, got.Status)
	assert.Equal(t, []agents.AgentID{1}, got.Breachers)
	assert.Equal(t, 0.0, m.Trust(1))
	assert.Equal(t, 1.0, m.Trust(2), "the wronged party keeps full trust")
}

func TestPartialDeliveryStillBreaches(t *testing.T) {
	s := newStore(t)
	m := newManager(s)
	require.NoError(t, s.AddItems(1, map[string]float64{"grain": 3}))
	_, err := m.Create(1, accepted(
		action.ObligationTerm{Obligor: action.PartyProposer, Items: map[string]float64{"grain": 3}, DueIn: 0},
		action.ObligationTerm{Obligor: action.PartyTarget, Items: map[string]float64{"wood": 1}, DueIn: 0},
	))
	require.NoError(t, err)

	events := m.Settle(1)
	require.Len(t, events, 2)
	assert.Equal(t, EventDelivered, events[0].Kind)
	assert.Equal(t, EventBreached, events[1].Kind)
	assert.Equal(t, agents.AgentID(2), events[1].Agent)
	assert.Equal(t, 3.0, s.Quantity(2, "grain"), "delivered goods stay delivered")
	assert.Equal(t, 40.0, s.Reputation(2))
	assert.Equal(t, map[Status]int{StatusActive: 0, StatusFulfilled: 0, StatusBreached: 1}, m.Counts())
}

func TestRestoreRoundTrip(t *testing.T) {
	s := newStore(t)
	m := newManager(s)
	_, err := m.Create(1, accepted(action.ObligationTerm{Obligor: action.PartyProposer, Items: map[string]float64{"grain": 1}, DueIn: 4}))
	require.NoError(t, err)

	other := newManager(s)
	other.Restore(m.State())
	assert.Equal(t, m.Contracts(), other.Contracts())
	assert.Len(t, other.ForAgent(2), 1)

	c, err := other.Create(2, accepted(action.ObligationTerm{Obligor: action.PartyProposer, Items: map[string]float64{"grain": 1}, DueIn: 4}))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), c.ID, "id sequence survives restore")
}
