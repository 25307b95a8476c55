package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/contract"
	"github.com/talgya/agora/internal/simerr"
	"github.com/talgya/agora/internal/social"
	"github.com/talgya/agora/internal/trade"
)

const testCatalog = `
base_item: grain
resources:
  - {id: grain, name: Grain, base_value: 1, stack_size: 100, food_value: 20, regen_rate: 5}
  - {id: wood,  name: Wood,  base_value: 2, stack_size: 80,  regen_rate: 3}
  - {id: plank, name: Plank, base_value: 5}
recipes:
  - {id: saw, inputs: {wood: 2}, outputs: {plank: 1}, skill: carpentry, xp: 10}
locations:
  - id: field
    name: Field
    type: plains
    access_cost: 1
    resources:
      grain: {initial: 50, cap: 100}
      wood:  {initial: 40, cap: 80}
  - id: hill
    name: Hill
    type: hill
    access_cost: 1
    shelter_quality: 1
edges:
  - {from: field, to: hill, distance: 2, difficulty: 1}
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// script maps tick -> agent -> action. Unscripted agents idle.
type script map[uint64]map[agents.AgentID]action.Payload

func (sc script) source() Source {
	return SourceFunc(func(_ context.Context, obs Observation) (action.Action, error) {
		if p, ok := sc[obs.Tick][obs.Self.ID]; ok {
			return action.Action{AgentID: obs.Self.ID, Payload: p}, nil
		}
		return action.Idle(obs.Self.ID, "scripted idle"), nil
	})
}

func testConfig(n int) Config {
	cfg := DefaultConfig()
	cfg.Agents = n
	cfg.Seed = 7
	cfg.DecisionTimeout = 500 * time.Millisecond
	cfg.NeedDecay = agents.NeedDecay{}
	return cfg
}

// newTestSim creates a run with every agent at the field holding inv.
func newTestSim(t *testing.T, cfg Config, src Source, inv map[agents.AgentID]map[string]float64) *Simulation {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	return newSimAt(t, cat, "field", cfg, src, inv)
}

// newSimAt creates a run on cat with every agent at loc holding inv.
func newSimAt(t *testing.T, cat *catalog.Catalog, loc string, cfg Config, src Source, inv map[agents.AgentID]map[string]float64) *Simulation {
	t.Helper()
	s, err := New(cfg, cat, src, quietLogger())
	require.NoError(t, err)

	list := s.agents.All()
	for i := range list {
		list[i].LocationID = loc
		list[i].Needs.Food = 90
		list[i].Inventory = map[string]float64{}
		for item, q := range inv[list[i].ID] {
			list[i].Inventory[item] = q
		}
	}
	require.NoError(t, s.agents.Restore(list))
	return s
}

func step(t *testing.T, s *Simulation) Summary {
	t.Helper()
	sum, err := s.Step(context.Background())
	require.NoError(t, err)
	return sum
}

func findEvent(sum Summary, agent agents.AgentID, kind string) (Event, bool) {
	for _, e := range sum.Events {
		if e.Agent == agent && e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

func totalQuantity(s *Simulation) float64 {
	var total float64
	for _, r := range s.cat.Resources {
		total += s.world.TotalStock(r.ID) + s.agents.TotalHeld(r.ID) + s.groups.TreasuryTotal(r.ID)
	}
	return total
}

func TestNewSpawnsPopulation(t *testing.T) {
	s := newTestSim(t, testConfig(5), nil, nil)
	assert.Len(t, s.Agents(), 5)
	assert.Equal(t, uint64(0), s.Tick())
	assert.Equal(t, uint64(0), s.Last().Tick)
	assert.NotEmpty(t, s.ID)
}

func TestHarvestScenario(t *testing.T) {
	sc := script{1: {1: &action.Harvest{Resource: "grain", Amount: 20}}}
	s := newTestSim(t, testConfig(1), sc.source(), nil)

	sum := step(t, s)

	ev, ok := findEvent(sum, 1, string(action.KindHarvest))
	require.True(t, ok)
	assert.True(t, ev.Success, ev.Message)

	// 50 + 5 regen, then 10 harvested under the per-action cap.
	loc, err := s.world.Location("field")
	require.NoError(t, err)
	assert.InDelta(t, 45, loc.Stocks["grain"].Quantity, 1e-9)
	a, err := s.Agent(1)
	require.NoError(t, err)
	assert.InDelta(t, 10, a.Inventory["grain"], 1e-9)
	assert.InDelta(t, 10, sum.Mass.Harvested, 1e-9)
	assert.InDelta(t, 8, sum.Mass.Regenerated, 1e-9)
	assert.Equal(t, 1, a.ActionCounts[string(action.KindHarvest)])
}

func TestHarvestContentionFirstInOrderWins(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
resources:
  - {id: grain, base_value: 1}
  - {id: wood, base_value: 2, regen_rate: 3}
locations:
  - {id: grove, name: Grove, access_cost: 1, resources: {wood: {initial: 9, cap: 80}}}
`))
	require.NoError(t, err)
	sc := script{1: {
		2: &action.Harvest{Resource: "wood", Amount: 10},
		1: &action.Harvest{Resource: "wood", Amount: 10},
	}}
	s := newSimAt(t, cat, "grove", testConfig(2), sc.source(), nil)

	sum := step(t, s)

	// 9 + 3 regen leaves 12 for two requests of 10.
	first, err := s.Agent(1)
	require.NoError(t, err)
	second, err := s.Agent(2)
	require.NoError(t, err)
	assert.InDelta(t, 10, first.Inventory["wood"], 1e-9)
	assert.InDelta(t, 2, second.Inventory["wood"], 1e-9)

	loc, err := s.world.Location("grove")
	require.NoError(t, err)
	assert.InDelta(t, 0, loc.Stocks["wood"].Quantity, 1e-9)
	for _, id := range []agents.AgentID{1, 2} {
		ev, ok := findEvent(sum, id, string(action.KindHarvest))
		require.True(t, ok)
		assert.True(t, ev.Success, ev.Message)
	}
}

func TestCraftRequiresSkillAndTool(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	sc := script{
		1: {1: &action.Craft{Recipe: "saw_planks"}},
		2: {1: &action.Craft{Recipe: "make_pickaxe"}},
		3: {1: &action.Craft{Recipe: "make_axe"}},
		4: {
			1: &action.Craft{Recipe: "saw_planks"},
			2: &action.Craft{Recipe: "saw_planks"},
		},
	}
	s := newSimAt(t, cat, "central_plains", testConfig(2), sc.source(), map[agents.AgentID]map[string]float64{
		1: {"wood": 10, "stone": 2, "ore": 2},
		2: {"wood": 2, "axe": 1},
	})
	// Agent 1 starts untrained; agent 2 is an experienced carpenter.
	list := s.agents.All()
	for i := range list {
		list[i].Skills = map[string]*agents.Skill{}
	}
	list[1].Skills = map[string]*agents.Skill{"carpentry": {Level: 7, XP: 700}}
	require.NoError(t, s.agents.Restore(list))

	sum := step(t, s)
	ev, ok := findEvent(sum, 1, string(action.KindCraft))
	require.True(t, ok)
	assert.False(t, ev.Success)
	assert.Equal(t, "validation", ev.Reason)
	assert.Contains(t, ev.Message, "axe")
	a, err := s.Agent(1)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"wood": 10, "stone": 2, "ore": 2}, a.Inventory, "a failed craft consumes nothing")

	sum = step(t, s)
	ev, ok = findEvent(sum, 1, string(action.KindCraft))
	require.True(t, ok)
	assert.False(t, ev.Success)
	assert.Equal(t, "validation", ev.Reason)
	assert.Contains(t, ev.Message, "smithing level 1")

	sum = step(t, s)
	ev, ok = findEvent(sum, 1, string(action.KindCraft))
	require.True(t, ok)
	assert.True(t, ev.Success, ev.Message)

	sum = step(t, s)
	ev, ok = findEvent(sum, 1, string(action.KindCraft))
	require.True(t, ok)
	assert.True(t, ev.Success, ev.Message)
	a, err = s.Agent(1)
	require.NoError(t, err)
	assert.InDelta(t, 1, a.Inventory["plank"], 1e-9)
	assert.InDelta(t, 1, a.Inventory["axe"], 1e-9, "tools are not consumed")
	assert.InDelta(t, 7, a.Inventory["wood"], 1e-9)

	// Carpentry 7 at a 0.15 bonus gives efficiency 2.05, so two planks.
	ev, ok = findEvent(sum, 2, string(action.KindCraft))
	require.True(t, ok)
	assert.True(t, ev.Success, ev.Message)
	b, err := s.Agent(2)
	require.NoError(t, err)
	assert.InDelta(t, 2, b.Inventory["plank"], 1e-9)
	assert.InDelta(t, 0, b.Inventory["wood"], 1e-9)
}

func TestHarvestUnknownResourceFails(t *testing.T) {
	sc := script{1: {1: &action.Harvest{Resource: "gold", Amount: 1}}}
	s := newTestSim(t, testConfig(1), sc.source(), nil)

	sum := step(t, s)
	ev, ok := findEvent(sum, 1, string(action.KindHarvest))
	require.True(t, ok)
	assert.False(t, ev.Success)
	assert.Equal(t, "not_found", ev.Reason)
	assert.Len(t, sum.Failed(), 1)
}

func TestMoveChargesTravelCost(t *testing.T) {
	sc := script{1: {1: &action.Move{Destination: "hill"}}}
	s := newTestSim(t, testConfig(1), sc.source(), nil)

	step(t, s)
	a, err := s.Agent(1)
	require.NoError(t, err)
	assert.Equal(t, "hill", a.LocationID)
	assert.InDelta(t, 2, a.TravelCost, 1e-9)
}

func TestStaleTradeRejectedWithoutTransfer(t *testing.T) {
	sc := script{
		1: {1: &action.TradeProposal{Target: 2, Offered: map[string]float64{"wood": 4}, Requested: map[string]float64{"grain": 4}}},
		// Agent 1 acts first and spends the offered wood.
		2: {1: &action.Craft{Recipe: "saw", Batches: 2}, 2: &action.AcceptTrade{ProposalID: 1}},
	}
	s := newTestSim(t, testConfig(2), sc.source(), map[agents.AgentID]map[string]float64{
		1: {"wood": 4},
		2: {"grain": 10},
	})

	step(t, s)
	sum := step(t, s)

	ev, ok := findEvent(sum, 2, string(action.KindAcceptTrade))
	require.True(t, ok)
	assert.False(t, ev.Success)
	assert.Equal(t, "stale_inventory", ev.Reason)

	b, err := s.Agent(2)
	require.NoError(t, err)
	assert.InDelta(t, 10, b.Inventory["grain"], 1e-9)
	props := s.TradeProposals()
	require.Len(t, props, 1)
	assert.Equal(t, trade.StatusRejected, props[0].Status)
	assert.Empty(t, s.Ledger(0))
}

func TestTradeSettlesAndFeedsPrices(t *testing.T) {
	sc := script{
		1: {1: &action.TradeProposal{Target: 2, Offered: map[string]float64{"wood": 2}, Requested: map[string]float64{"grain": 4}}},
		2: {2: &action.AcceptTrade{ProposalID: 1}},
	}
	s := newTestSim(t, testConfig(2), sc.source(), map[agents.AgentID]map[string]float64{
		1: {"wood": 2},
		2: {"grain": 4},
	})

	step(t, s)
	sum := step(t, s)

	require.Len(t, sum.Trades, 1)
	assert.Equal(t, agents.AgentID(1), sum.Trades[0].Proposer)
	a, _ := s.Agent(1)
	b, _ := s.Agent(2)
	assert.InDelta(t, 4, a.Inventory["grain"], 1e-9)
	assert.InDelta(t, 2, b.Inventory["wood"], 1e-9)
	assert.NotEmpty(t, sum.Prices)
	assert.Equal(t, 1, sum.Metrics.Network.Edges)
}

func TestConservationAcrossTicks(t *testing.T) {
	cfg := testConfig(3)
	cfg.NeedDecay = agents.DefaultNeedDecay()
	cfg.EatThreshold = 95
	sc := script{
		1: {
			1: &action.Harvest{Resource: "grain", Amount: 8},
			2: &action.Harvest{Resource: "wood", Amount: 6},
			3: &action.Group{Op: action.OpForm, GroupType: "cooperative", Name: "Mill"},
		},
		2: {
			2: &action.Craft{Recipe: "saw"},
			3: &action.Group{Op: action.OpContribute, GroupID: 1, Items: map[string]float64{"grain": 2}},
		},
		3: {
			1: &action.TradeProposal{Target: 2, Offered: map[string]float64{"grain": 2}, Requested: map[string]float64{"plank": 1}},
		},
		4: {
			2: &action.AcceptTrade{ProposalID: 1},
			3: &action.Group{Op: action.OpDissolve, GroupID: 1},
		},
	}
	s := newTestSim(t, cfg, sc.source(), map[agents.AgentID]map[string]float64{
		3: {"grain": 5},
	})

	before := totalQuantity(s)
	for tick := 1; tick <= 6; tick++ {
		sum := step(t, s)
		after := totalQuantity(s)
		assert.InDelta(t, sum.Mass.Net(), after-before, 1e-6, "tick %d", tick)
		before = after
	}
	groups := s.Groups()
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Dissolved)
}

func governanceScript(threshold string, voters ...agents.AgentID) script {
	sc := script{
		1: {1: &action.Group{Op: action.OpForm, GroupType: "council", Name: "Elders"}},
		2: {
			2: &action.Group{Op: action.OpJoin, GroupID: 1},
			3: &action.Group{Op: action.OpJoin, GroupID: 1},
		},
		3: {1: &action.Group{Op: action.OpApprove, GroupID: 1, Member: 2}},
		4: {1: &action.Group{Op: action.OpApprove, GroupID: 1, Member: 3}},
		5: {1: &action.Group{Op: action.OpProposeRule, GroupID: 1, Rule: &action.RuleSpec{Kind: "RESOURCE_LIMIT", Resource: "grain", Amount: 3}, Threshold: threshold}},
		6: {},
	}
	for _, v := range voters {
		sc[6][v] = &action.Group{Op: action.OpVote, GroupID: 1, ProposalID: 1, Vote: "yes"}
	}
	return sc
}

func TestSuperMajorityPassesWithTwoOfThree(t *testing.T) {
	s := newTestSim(t, testConfig(3), governanceScript("super_majority", 1, 2).source(), nil)

	var last Summary
	for i := 0; i < 6; i++ {
		last = step(t, s)
	}
	ev, ok := findEvent(last, 0, "PROPOSAL_PASSED")
	require.True(t, ok, "events: %+v", last.Events)
	assert.True(t, ev.Success)

	props := s.GovernanceProposals()
	require.Len(t, props, 1)
	assert.Equal(t, social.ProposalPassed, props[0].Status)

	// The enacted limit now caps harvests by members.
	s.source = script{7: {2: &action.Harvest{Resource: "grain", Amount: 10}}}.source()
	step(t, s)
	b, _ := s.Agent(2)
	assert.InDelta(t, 3, b.Inventory["grain"], 1e-9)
}

func TestUnanimousFailsWithoutEveryVote(t *testing.T) {
	cfg := testConfig(3)
	cfg.Social.VotingWindow = 2
	s := newTestSim(t, cfg, governanceScript("unanimous", 1, 2).source(), nil)

	for i := 0; i < 7; i++ {
		step(t, s)
	}
	props := s.GovernanceProposals()
	require.Len(t, props, 1)
	assert.Equal(t, social.ProposalFailed, props[0].Status)
}

func TestLeaderVetoIsDistinctStatus(t *testing.T) {
	sc := governanceScript("majority")
	sc[5] = map[agents.AgentID]action.Payload{
		2: &action.Group{Op: action.OpProposeRule, GroupID: 1, Rule: &action.RuleSpec{Kind: "CUSTOM", Text: "no fishing on sundays"}},
	}
	sc[6] = map[agents.AgentID]action.Payload{
		1: &action.Group{Op: action.OpVeto, GroupID: 1, ProposalID: 1},
		2: &action.Group{Op: action.OpVote, GroupID: 1, ProposalID: 1, Vote: "yes"},
	}
	s := newTestSim(t, testConfig(3), sc.source(), nil)

	var last Summary
	for i := 0; i < 6; i++ {
		last = step(t, s)
	}
	props := s.GovernanceProposals()
	require.Len(t, props, 1)
	assert.Equal(t, social.ProposalVetoed, props[0].Status)

	// The vote arrives after the veto and is refused.
	ev, ok := findEvent(last, 2, string(action.KindGroup))
	require.True(t, ok)
	assert.False(t, ev.Success)
}

func TestBreachPenaltyAppliedOnce(t *testing.T) {
	sc := script{
		1: {1: &action.TradeProposal{
			Target:  2,
			Offered: map[string]float64{"wood": 1},
			Obligations: []action.ObligationTerm{
				{Obligor: action.PartyProposer, Items: map[string]float64{"grain": 5}, DueIn: 1},
				{Obligor: action.PartyProposer, Items: map[string]float64{"wood": 5}, DueIn: 1},
			},
		}},
		2: {2: &action.AcceptTrade{ProposalID: 1}},
	}
	s := newTestSim(t, testConfig(2), sc.source(), map[agents.AgentID]map[string]float64{
		1: {"wood": 1},
	})

	step(t, s)
	step(t, s)
	a, _ := s.Agent(1)
	repAfterTrade := a.Needs.Reputation

	sum := step(t, s)
	breaches := 0
	for _, e := range sum.Events {
		if e.Kind == "CONTRACT_BREACHED" {
			breaches++
			assert.Equal(t, agents.AgentID(1), e.Agent)
		}
	}
	assert.Equal(t, 2, breaches, "one event per undeliverable term")

	a, _ = s.Agent(1)
	assert.InDelta(t, repAfterTrade-contract.DefaultPenalty, a.Needs.Reputation, 1e-9)

	step(t, s)
	a, _ = s.Agent(1)
	assert.InDelta(t, repAfterTrade-contract.DefaultPenalty, a.Needs.Reputation, 1e-9)
	cs := s.Contracts()
	require.Len(t, cs, 1)
	assert.Equal(t, contract.StatusBreached, cs[0].Status)
}

func TestSlowSourceIdlesOnTimeout(t *testing.T) {
	cfg := testConfig(2)
	cfg.DecisionTimeout = 30 * time.Millisecond
	src := SourceFunc(func(ctx context.Context, obs Observation) (action.Action, error) {
		if obs.Self.ID == 2 {
			<-ctx.Done()
			return action.Action{}, ctx.Err()
		}
		return action.Action{AgentID: 1, Payload: &action.Move{Destination: "hill"}}, nil
	})
	s := newTestSim(t, cfg, src, nil)

	sum := step(t, s)
	ev, ok := findEvent(sum, 2, string(action.KindIdle))
	require.True(t, ok)
	assert.Equal(t, "timeout", ev.Message)
	ev, ok = findEvent(sum, 1, string(action.KindMove))
	require.True(t, ok)
	assert.True(t, ev.Success)
}

func TestPanickingSourceIdles(t *testing.T) {
	src := SourceFunc(func(context.Context, Observation) (action.Action, error) {
		panic("boom")
	})
	s := newTestSim(t, testConfig(1), src, nil)

	sum := step(t, s)
	ev, ok := findEvent(sum, 1, string(action.KindIdle))
	require.True(t, ok)
	assert.Equal(t, "decision error", ev.Message)
}

func TestOutOfTurnActionRejected(t *testing.T) {
	src := SourceFunc(func(_ context.Context, obs Observation) (action.Action, error) {
		return action.Action{AgentID: 99, Payload: &action.Move{Destination: "hill"}}, nil
	})
	s := newTestSim(t, testConfig(1), src, nil)

	sum := step(t, s)
	ev, ok := findEvent(sum, 1, "REJECTED")
	require.True(t, ok)
	assert.Equal(t, "validation", ev.Reason)
	a, _ := s.Agent(1)
	assert.Equal(t, "field", a.LocationID)
}

func TestQueueSource(t *testing.T) {
	q := NewQueueSource()
	cfg := testConfig(2)
	cfg.DecisionTimeout = 50 * time.Millisecond
	s := newTestSim(t, cfg, q, nil)

	require.NoError(t, q.Submit(action.Action{AgentID: 1, Payload: &action.Move{Destination: "hill"}}))
	err := q.Submit(action.Action{AgentID: 1, Payload: &action.Move{Destination: "hill"}})
	assert.True(t, errors.Is(err, simerr.ErrValidation))
	assert.Error(t, q.Submit(action.Action{AgentID: 2, Payload: &action.Harvest{}}))
	assert.Equal(t, 1, q.Pending())

	sum := step(t, s)
	a, _ := s.Agent(1)
	assert.Equal(t, "hill", a.LocationID)
	ev, ok := findEvent(sum, 2, string(action.KindIdle))
	require.True(t, ok)
	assert.Equal(t, "timeout", ev.Message)
	assert.Equal(t, 0, q.Pending())
}

func TestQueueSourceWakesWaitingDecision(t *testing.T) {
	q := NewQueueSource()
	cfg := testConfig(1)
	cfg.DecisionTimeout = 2 * time.Second
	s := newTestSim(t, cfg, q, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var (
		sum     Summary
		stepErr error
	)
	go func() {
		defer wg.Done()
		sum, stepErr = s.Step(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Submit(action.Action{AgentID: 1, Payload: &action.Move{Destination: "hill"}}))
	wg.Wait()
	require.NoError(t, stepErr)

	ev, ok := findEvent(sum, 1, string(action.KindMove))
	require.True(t, ok)
	assert.True(t, ev.Success)
}

func determinismScript() script {
	sc := script{}
	for tick := uint64(1); tick <= 10; tick++ {
		sc[tick] = map[agents.AgentID]action.Payload{
			1: &action.Harvest{Resource: "grain", Amount: float64(tick)},
			2: &action.Harvest{Resource: "wood", Amount: 3},
		}
	}
	sc[4][3] = &action.TradeProposal{Target: 1, Offered: map[string]float64{"grain": 1}, Requested: map[string]float64{"grain": 2}}
	sc[5][1] = &action.AcceptTrade{ProposalID: 1}
	sc[6][2] = &action.Craft{Recipe: "saw"}
	sc[7][3] = &action.Message{Channel: action.ChannelGlobal, Content: "hello"}
	return sc
}

func TestSameSeedSameDigest(t *testing.T) {
	run := func() string {
		cfg := testConfig(3)
		cfg.NeedDecay = agents.DefaultNeedDecay()
		s := newTestSim(t, cfg, determinismScript().source(), map[agents.AgentID]map[string]float64{3: {"grain": 3}})
		require.NoError(t, s.Run(context.Background(), 10, 0))
		d, err := s.Digest()
		require.NoError(t, err)
		return d
	}
	assert.Equal(t, run(), run())
}

func TestRestoreThenReplayMatches(t *testing.T) {
	cfg := testConfig(3)
	cfg.NeedDecay = agents.DefaultNeedDecay()
	inv := map[agents.AgentID]map[string]float64{3: {"grain": 3}}
	sc := determinismScript()

	full := newTestSim(t, cfg, sc.source(), inv)
	require.NoError(t, full.Run(context.Background(), 5, 0))
	snap := full.Snapshot()
	require.NoError(t, full.Run(context.Background(), 5, 0))
	want, err := full.Digest()
	require.NoError(t, err)

	restored, err := FromState(context.Background(), cfg, full.Catalog(), sc.source(), quietLogger(), snap)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), restored.Tick())
	require.NoError(t, restored.Run(context.Background(), 5, 0))
	got, err := restored.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreRejectsOtherSeed(t *testing.T) {
	s := newTestSim(t, testConfig(1), nil, nil)
	st := s.Snapshot()
	st.Seed++
	err := s.Restore(st)
	assert.True(t, errors.Is(err, simerr.ErrValidation))
}

func TestRunStopsBetweenTicks(t *testing.T) {
	s := newTestSim(t, testConfig(1), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.OnSummary(func(sum Summary) {
		if sum.Tick == 3 {
			cancel()
		}
	})

	err := s.Run(ctx, 0, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(3), s.Tick())
}

func TestInvariantTerminatesRun(t *testing.T) {
	s := newTestSim(t, testConfig(1), nil, nil)
	s.AddHook(Hook{Name: "broken", Phase: PhaseAfterTick, Run: func(_ *Simulation, tick uint64) error {
		if tick == 2 {
			return simerr.Invariant("ledger mismatch")
		}
		return nil
	}})

	step(t, s)
	_, err := s.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, simerr.ErrInvariant)
	assert.Equal(t, uint64(1), s.Tick())

	_, again := s.Step(context.Background())
	assert.Equal(t, err, again)
}

func TestRecoverableHookErrorIsLogged(t *testing.T) {
	s := newTestSim(t, testConfig(1), nil, nil)
	s.AddHook(Hook{Name: "flaky", Phase: PhaseDecay, Run: func(*Simulation, uint64) error {
		return simerr.NotFound("nothing to do")
	}})
	step(t, s)
	assert.Equal(t, uint64(1), s.Tick())
}

func TestAutoEatFromInventory(t *testing.T) {
	s := newTestSim(t, testConfig(1), nil, map[agents.AgentID]map[string]float64{1: {"grain": 3}})
	list := s.agents.All()
	list[0].Needs.Food = 40
	require.NoError(t, s.agents.Restore(list))

	sum := step(t, s)
	ev, ok := findEvent(sum, 1, "EAT")
	require.True(t, ok)
	assert.True(t, ev.Success)
	a, _ := s.Agent(1)
	// 60 points missing at 20 food per grain.
	assert.InDelta(t, 100, a.Needs.Food, 1e-9)
	assert.InDelta(t, 0, a.Inventory["grain"], 1e-9)
	assert.InDelta(t, 3, sum.Mass.Eaten, 1e-9)
}

func TestObserveShowsPeersAndRoutes(t *testing.T) {
	s := newTestSim(t, testConfig(2), nil, nil)
	obs, err := s.Observe(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), obs.Tick)
	require.Len(t, obs.Peers, 1)
	assert.Equal(t, agents.AgentID(2), obs.Peers[0].ID)
	require.Len(t, obs.Routes, 1)
	assert.Equal(t, "hill", obs.Routes[0].To)
	assert.InDelta(t, 2, obs.Routes[0].Cost, 1e-9)
}
