package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	places := map[string]bool{"central_plains": true, "village": true}
	s := NewStore(cat, DefaultNeedDecay(), func(id string) bool { return places[id] })
	require.NoError(t, s.Add(Agent{ID: 2, Name: "Basil", LocationID: "village", Needs: DefaultNeeds()}))
	require.NoError(t, s.Add(Agent{ID: 1, Name: "Ada", LocationID: "central_plains", Needs: DefaultNeeds()}))
	return s
}

func TestAddKeepsIDOrderAndDefaults(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, []AgentID{1, 2}, s.IDs())

	a, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, a.Capacity)
	assert.NotNil(t, a.Inventory)

	err = s.Add(Agent{ID: 3, LocationID: "nowhere"})
	assert.ErrorIs(t, err, simerr.ErrNotFound)
	err = s.Add(Agent{ID: 1, LocationID: "village"})
	assert.ErrorIs(t, err, simerr.ErrValidation)
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddItems(1, map[string]float64{"grain": 5}))
	a, _ := s.Get(1)
	a.Inventory["grain"] = 99
	assert.Equal(t, 5.0, s.Quantity(1, "grain"))
}

func TestAddAndRemoveItems(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddItems(1, map[string]float64{"grain": 60, "wood": 40}))
	assert.Zero(t, s.FreeCapacity(1))

	err := s.AddItems(1, map[string]float64{"stone": 1})
	assert.ErrorIs(t, err, simerr.ErrInsufficientCapacity)

	err = s.RemoveItems(1, map[string]float64{"grain": 61})
	assert.ErrorIs(t, err, simerr.ErrInsufficientInventory)
	assert.Equal(t, 60.0, s.Quantity(1, "grain"), "failed removal changes nothing")

	require.NoError(t, s.RemoveItems(1, map[string]float64{"grain": 60}))
	a, _ := s.Get(1)
	_, present := a.Inventory["grain"]
	assert.False(t, present, "emptied entries are dropped")

	assert.ErrorIs(t, s.AddItems(1, map[string]float64{"unobtainium": 1}), simerr.ErrNotFound)
	assert.ErrorIs(t, s.AddItems(9, map[string]float64{"grain": 1}), simerr.ErrNotFound)
}

func TestExchangeIsAtomic(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddItems(1, map[string]float64{"grain": 3}))
	require.NoError(t, s.AddItems(2, map[string]float64{"stone": 1}))

	err := s.Exchange(1, 2, map[string]float64{"grain": 3}, map[string]float64{"stone": 2})
	assert.ErrorIs(t, err, simerr.ErrInsufficientInventory)
	assert.Equal(t, 3.0, s.Quantity(1, "grain"))
	assert.Equal(t, 1.0, s.Quantity(2, "stone"))

	require.NoError(t, s.Exchange(1, 2, map[string]float64{"grain": 3}, map[string]float64{"stone": 1}))
	assert.Equal(t, 0.0, s.Quantity(1, "grain"))
	assert.Equal(t, 1.0, s.Quantity(1, "stone"))
	assert.Equal(t, 3.0, s.Quantity(2, "grain"))
	assert.Equal(t, 0.0, s.Quantity(2, "stone"))
}

func TestExchangeRespectsCapacity(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddItems(1, map[string]float64{"wood": 100}))
	require.NoError(t, s.AddItems(2, map[string]float64{"stone": 10}))

	err := s.Exchange(1, 2, map[string]float64{"wood": 1}, map[string]float64{"stone": 5})
	assert.ErrorIs(t, err, simerr.ErrInsufficientCapacity)
	assert.Equal(t, 100.0, s.Quantity(1, "wood"))
}

func TestReputationIsClamped(t *testing.T) {
	s := newTestStore(t)
	applied, err := s.AdjustReputation(1, 80)
	require.NoError(t, err)
	assert.Equal(t, 50.0, applied)
	assert.Equal(t, 100.0, s.Reputation(1))

	applied, err = s.AdjustReputation(1, -150)
	require.NoError(t, err)
	assert.Equal(t, -100.0, applied)
	assert.Equal(t, 0.0, s.Reputation(1))
}

func TestNeedDecayFloorsAtZero(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 250; i++ {
		require.NoError(t, s.ApplyNeedDecay(1))
	}
	a, _ := s.Get(1)
	assert.Equal(t, 0.0, a.Needs.Food)
	assert.Equal(t, 0.0, a.Needs.Shelter)
	assert.Equal(t, 50.0, a.Needs.Reputation)
}

func TestInventoryDecay(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddItems(1, map[string]float64{"grain": 10, "stone": 10}))

	lost, err := s.ApplyInventoryDecay(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, lost["grain"], 1e-9)
	assert.InDelta(t, 9.9, s.Quantity(1, "grain"), 1e-9)
	assert.Equal(t, 10.0, s.Quantity(1, "stone"), "stone does not decay")
}

func TestConsumeRestoresFood(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 60; i++ {
		require.NoError(t, s.ApplyNeedDecay(1))
	}
	require.NoError(t, s.AddItems(1, map[string]float64{"bread": 1, "stone": 1}))

	restored, err := s.Consume(1, "bread", 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, restored)

	_, err = s.Consume(1, "stone", 1)
	assert.ErrorIs(t, err, simerr.ErrValidation)
	_, err = s.Consume(1, "bread", 1)
	assert.ErrorIs(t, err, simerr.ErrInsufficientInventory)
}

func TestGrantXPLevelsUp(t *testing.T) {
	s := newTestStore(t)
	up, err := s.GrantXP(1, "cooking", 90)
	require.NoError(t, err)
	assert.False(t, up)
	up, err = s.GrantXP(1, "cooking", 15)
	require.NoError(t, err)
	assert.True(t, up)
	assert.Equal(t, 1, s.SkillLevels(1)["cooking"])
}

func TestMoveToRecordsCost(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MoveTo(1, "village", 1.5))
	loc, _ := s.LocationOf(1)
	assert.Equal(t, "village", loc)
	assert.Equal(t, []AgentID{1, 2}, s.AtLocation("village"))
	assert.ErrorIs(t, s.MoveTo(1, "moon", 1), simerr.ErrNotFound)
}

func TestSpawnerIsDeterministic(t *testing.T) {
	locs := []string{"central_plains", "village"}
	a := NewSpawner(7).SpawnPopulation(10, locs)
	b := NewSpawner(7).SpawnPopulation(10, locs)
	assert.Equal(t, a, b)
	assert.Equal(t, ArchFarmer, a[0].Archetype)
	assert.Equal(t, ArchOpportunist, a[7].Archetype)
	assert.Equal(t, AgentID(10), a[9].ID)
}

func TestCheckInvariants(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CheckInvariants())

	s.agents[1].Inventory["grain"] = -1
	assert.ErrorIs(t, s.CheckInvariants(), simerr.ErrInvariant)
}
