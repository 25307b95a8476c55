package trade

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
)

type fixture struct {
	store  *agents.Store
	engine *Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	store := agents.NewStore(cat, agents.DefaultNeedDecay(), func(string) bool { return true })
	for id := agents.AgentID(1); id <= 3; id++ {
		require.NoError(t, store.Add(agents.Agent{ID: id, LocationID: "market", Needs: agents.DefaultNeeds()}))
	}
	require.NoError(t, store.AddItems(1, map[string]float64{"grain": 10}))
	require.NoError(t, store.AddItems(2, map[string]float64{"wood": 10}))
	require.NoError(t, store.AddItems(3, map[string]float64{"wood": 10}))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{store: store, engine: NewEngine(DefaultConfig(), cat, store, logger)}
}

func offer(target agents.AgentID, give, want map[string]float64) *action.TradeProposal {
	return &action.TradeProposal{Target: target, Offered: give, Requested: want}
}

func TestProposeAcceptExchanges(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 4}, map[string]float64{"wood": 2}))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 10.0, f.store.Quantity(1, "grain"), "proposing moves nothing")

	p, entry, err := f.engine.Accept(2, 2, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, p.Status)
	assert.Equal(t, uint64(1), entry.Seq)
	assert.Equal(t, 6.0, f.store.Quantity(1, "grain"))
	assert.Equal(t, 2.0, f.store.Quantity(1, "wood"))
	assert.Equal(t, 4.0, f.store.Quantity(2, "grain"))
	assert.Equal(t, 8.0, f.store.Quantity(2, "wood"))
	assert.Equal(t, 51.0, f.store.Reputation(1))
	assert.Equal(t, 51.0, f.store.Reputation(2))
	assert.Equal(t, 1.0, entry.ProposerReputation)
	assert.Equal(t, 1.0, entry.TargetReputation)
	assert.Equal(t, 1, f.engine.LedgerLen())

	_, _, err = f.engine.Accept(3, 2, p.ID)
	assert.ErrorIs(t, err, simerr.ErrValidation, "accepted proposals are terminal")

	// The entry records the clamped delta, not the configured gain.
	_, err = f.store.AdjustReputation(3, 49.5)
	require.NoError(t, err)
	p, err = f.engine.Propose(4, 1, offer(3, map[string]float64{"grain": 1}, map[string]float64{"wood": 1}))
	require.NoError(t, err)
	_, entry, err = f.engine.Accept(4, 3, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, entry.ProposerReputation)
	assert.Equal(t, 0.5, entry.TargetReputation)
	assert.Equal(t, 100.0, f.store.Reputation(3))
}

func TestProposeChecks(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Propose(1, 1, offer(1, map[string]float64{"grain": 1}, nil))
	assert.ErrorIs(t, err, simerr.ErrValidation)

	_, err = f.engine.Propose(1, 1, offer(2, map[string]float64{"unobtainium": 1}, nil))
	assert.ErrorIs(t, err, simerr.ErrNotFound)

	_, err = f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 50}, nil))
	assert.ErrorIs(t, err, simerr.ErrInsufficientInventory)

	for i := 0; i < DefaultConfig().MaxPending; i++ {
		_, err = f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 1}, nil))
		require.NoError(t, err)
	}
	_, err = f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 1}, nil))
	assert.ErrorIs(t, err, simerr.ErrValidation, "pending cap reached")
}

func TestCounterOfferReplacesOriginal(t *testing.T) {
	f := newFixture(t)
	orig, err := f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 4}, map[string]float64{"wood": 4}))
	require.NoError(t, err)

	bad := offer(3, map[string]float64{"wood": 2}, map[string]float64{"grain": 4})
	bad.CounterOf = orig.ID
	_, err = f.engine.Propose(2, 2, bad)
	assert.ErrorIs(t, err, simerr.ErrValidation, "a counter goes back to the original proposer")

	_, err = f.engine.Propose(2, 3, &action.TradeProposal{Target: 1, Offered: map[string]float64{"wood": 1}, CounterOf: orig.ID})
	assert.ErrorIs(t, err, simerr.ErrPermissionDenied, "only the target may counter")

	counter := offer(1, map[string]float64{"wood": 2}, map[string]float64{"grain": 4})
	counter.CounterOf = orig.ID
	c, err := f.engine.Propose(2, 2, counter)
	require.NoError(t, err)
	assert.Equal(t, orig.ID, c.CounterOf)
	assert.Equal(t, StatusPending, c.Status)

	orig, err = f.engine.Proposal(orig.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, orig.Status)
	assert.Contains(t, orig.Reason, "countered")

	_, _, err = f.engine.Accept(3, 1, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.0, f.store.Quantity(1, "grain"))
	assert.Equal(t, 2.0, f.store.Quantity(1, "wood"))
}

func TestStaleAcceptanceLeavesInventories(t *testing.T) {
	f := newFixture(t)
	// Agent 1 promises the same grain to two targets.
	p2, err := f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 8}, map[string]float64{"wood": 1}))
	require.NoError(t, err)
	p3, err := f.engine.Propose(1, 1, offer(3, map[string]float64{"grain": 8}, map[string]float64{"wood": 1}))
	require.NoError(t, err)

	// Acceptances resolve in agent-id order: 2 before 3.
	_, _, err = f.engine.Accept(2, 2, p2.ID)
	require.NoError(t, err)

	got, _, err := f.engine.Accept(2, 3, p3.ID)
	assert.ErrorIs(t, err, simerr.ErrStaleInventory)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "stale_inventory", got.Reason)
	assert.Equal(t, 10.0, f.store.Quantity(3, "wood"))
	assert.Zero(t, f.store.Quantity(3, "grain"))
	assert.Equal(t, 2.0, f.store.Quantity(1, "grain"))
}

func TestOnlyTargetAccepts(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 1}, nil))
	require.NoError(t, err)
	_, _, err = f.engine.Accept(1, 3, p.ID)
	assert.ErrorIs(t, err, simerr.ErrPermissionDenied)
	_, _, err = f.engine.Accept(1, 2, 999)
	assert.ErrorIs(t, err, simerr.ErrNotFound)
}

func TestDeclineAndCancel(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.Propose(1, 1, offer(2, map[string]float64{"grain": 1}, nil))
	require.NoError(t, err)
	got, err := f.engine.Decline(2, 2, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, 1, f.engine.Streak(1))

	p, err = f.engine.Propose(3, 1, offer(2, map[string]float64{"grain": 1}, nil))
	require.NoError(t, err)
	_, err = f.engine.Cancel(3, 2, p.ID)
	assert.ErrorIs(t, err, simerr.ErrPermissionDenied)
	got, err = f.engine.Decline(3, 1, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 1, f.engine.Streak(1), "cancelling is not a failure")
}

func TestExpiryAndFailureStreak(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		_, err := f.engine.Propose(0, 1, offer(2, map[string]float64{"grain": 1}, nil))
		require.NoError(t, err)
	}
	assert.Empty(t, f.engine.Expire(10), "not yet past the window")

	expired := f.engine.Expire(11)
	require.Len(t, expired, 5)
	for _, p := range expired {
		assert.Equal(t, StatusExpired, p.Status)
	}
	assert.Equal(t, 5, f.engine.Streak(1))
	// Failures four and five each cost one point.
	assert.Equal(t, 48.0, f.store.Reputation(1))

	p, err := f.engine.Propose(12, 1, offer(2, map[string]float64{"grain": 1}, nil))
	require.NoError(t, err)
	_, _, err = f.engine.Accept(12, 2, p.ID)
	require.NoError(t, err)
	assert.Zero(t, f.engine.Streak(1), "success resets the streak")
}

func TestAcceptAfterWindowExpires(t *testing.T) {
	f := newFixture(t)
	p, err := f.engine.Propose(0, 1, offer(2, map[string]float64{"grain": 1}, nil))
	require.NoError(t, err)
	_, _, err = f.engine.Accept(11, 2, p.ID)
	assert.ErrorIs(t, err, simerr.ErrValidation)
	got, _ := f.engine.Proposal(p.ID)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestListenersAndRestore(t *testing.T) {
	f := newFixture(t)
	var seen []uint64
	f.engine.OnSettle(func(e LedgerEntry) { seen = append(seen, e.Seq) })

	for tick := uint64(1); tick <= 3; tick++ {
		p, err := f.engine.Propose(tick, 1, offer(2, map[string]float64{"grain": 1}, map[string]float64{"wood": 2}))
		require.NoError(t, err)
		_, _, err = f.engine.Accept(tick, 2, p.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	assert.Len(t, f.engine.Ledger(1), 2)

	before, ok := f.engine.Prices().Price("wood")
	require.True(t, ok)

	other := newFixture(t)
	other.engine.Restore(f.engine.State())
	after, ok := other.engine.Prices().Price("wood")
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, f.engine.Proposals(), other.engine.Proposals())
}
