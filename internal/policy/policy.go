// Package policy is a scripted decision source for demo runs: a
// needs-first rule machine biased by each agent's archetype.
//
// Every tick an agent evaluates its state and picks one action. Pressing
// needs come first, then pending business (trades and votes), then the
// archetype's habits. Random choices draw from the agent's stream for the
// tick, so a run replays exactly from its seed.
package policy

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/engine"
	"github.com/talgya/agora/internal/entropy"
	"github.com/talgya/agora/internal/social"
)

// Tuning for the rule machine.
const (
	harvestBatch   = 5.0
	surplusAt      = 10.0 // quantity above which an item is offered in trades
	offerBatch     = 2.0
	minFreeToWork  = 1.0
	shelterSeekAt  = 0.5 // location shelter quality below which agents move on
	taxProposal    = 0.1
	yesVoteChance  = 0.7
	messageChannel = action.ChannelLocation
)

// Policy implements engine.Source.
type Policy struct {
	cat     *catalog.Catalog
	streams *entropy.Streams
}

// New creates a policy drawing from streams.
func New(cat *catalog.Catalog, streams *entropy.Streams) *Policy {
	return &Policy{cat: cat, streams: streams}
}

// Decide picks obs.Self's action for obs.Tick.
func (p *Policy) Decide(ctx context.Context, obs engine.Observation) (action.Action, error) {
	if err := ctx.Err(); err != nil {
		return action.Action{}, err
	}
	d := &decider{
		cat:  p.cat,
		obs:  obs,
		self: obs.Self,
		tmpl: agents.Template(obs.Self.Archetype),
		rng:  p.streams.Agent(uint64(obs.Self.ID), obs.Tick),
	}
	payload, why := d.decide()
	if payload == nil {
		return action.Idle(obs.Self.ID, why), nil
	}
	return action.Action{AgentID: obs.Self.ID, Reasoning: why, Payload: payload}, nil
}

// decider holds one agent's evaluation for one tick.
type decider struct {
	cat  *catalog.Catalog
	obs  engine.Observation
	self agents.Agent
	tmpl agents.BehaviorTemplate
	rng  *rand.Rand
}

func (d *decider) decide() (action.Payload, string) {
	if a, why := d.survival(); a != nil {
		return a, why
	}
	if a, why := d.business(); a != nil {
		return a, why
	}
	if a, why := d.shelter(); a != nil {
		return a, why
	}
	if d.rng.Float64() < d.tmpl.CraftBias {
		if a, why := d.craft(); a != nil {
			return a, why
		}
	}
	if d.rng.Float64() < d.tmpl.TradeBias {
		if a, why := d.trade(); a != nil {
			return a, why
		}
	}
	if d.rng.Float64() < d.tmpl.SocialBias {
		if a, why := d.social(); a != nil {
			return a, why
		}
	}
	return d.work()
}

// survival: hungry with nothing to eat means gather food or go find it.
func (d *decider) survival() (action.Payload, string) {
	if d.self.Needs.Food >= d.tmpl.HungerThreshold || d.holdsFood() {
		return nil, ""
	}
	if d.self.Free() < minFreeToWork {
		return nil, ""
	}
	if item := d.bestStock(d.edible); item != "" {
		return &action.Harvest{Resource: item, Amount: harvestBatch}, "hungry, gathering food"
	}
	if to := d.routeTo(func(spec catalog.LocationSpec) bool {
		for item := range spec.Resources {
			if d.edible(item) {
				return true
			}
		}
		return false
	}); to != "" {
		return &action.Move{Destination: to}, "hungry, looking for food"
	}
	return nil, ""
}

// business answers trades and votes addressed to the agent.
func (d *decider) business() (action.Payload, string) {
	for _, prop := range d.obs.Incoming {
		if d.covers(prop.Requested) && d.fits(prop.Offered, prop.Requested) {
			return &action.AcceptTrade{ProposalID: prop.ID}, fmt.Sprintf("accepting trade %d from agent %d", prop.ID, prop.Proposer)
		}
		return &action.AcceptTrade{ProposalID: prop.ID, Decline: true}, fmt.Sprintf("cannot cover trade %d", prop.ID)
	}
	for _, vote := range d.obs.OpenVotes {
		if _, cast := vote.Votes[d.self.ID]; cast {
			continue
		}
		choice := social.VoteNo
		if vote.Author == d.self.ID || d.rng.Float64() < yesVoteChance {
			choice = social.VoteYes
		}
		return &action.Group{Op: action.OpVote, GroupID: vote.GroupID, ProposalID: vote.ID, Vote: choice}, "voting " + choice
	}
	return nil, ""
}

// shelter moves an exposed agent somewhere with a roof. The hunger
// threshold doubles as the shelter threshold.
func (d *decider) shelter() (action.Payload, string) {
	if d.self.Needs.Shelter >= d.tmpl.HungerThreshold || d.obs.Location.ShelterQuality >= shelterSeekAt {
		return nil, ""
	}
	if to := d.routeTo(func(spec catalog.LocationSpec) bool {
		return spec.ShelterQuality >= shelterSeekAt
	}); to != "" {
		return &action.Move{Destination: to}, "seeking shelter"
	}
	return nil, ""
}

// craft runs the first recipe, in catalog order, the agent can afford.
func (d *decider) craft() (action.Payload, string) {
	levels := d.self.SkillLevels()
	for _, r := range d.cat.Recipes {
		if !d.canCraft(r, levels) {
			continue
		}
		return &action.Craft{Recipe: r.ID}, "crafting " + r.ID
	}
	return nil, ""
}

func (d *decider) canCraft(r catalog.Recipe, levels map[string]int) bool {
	for skill, need := range r.SkillRequirements {
		if levels[skill] < need {
			return false
		}
	}
	for _, tool := range r.ToolRequirements {
		if d.self.Inventory[tool] < 1 {
			return false
		}
	}
	return d.covers(r.Inputs)
}

// trade offers part of a surplus to a random co-located peer for one of
// the agent's focus resources it lacks.
func (d *decider) trade() (action.Payload, string) {
	if len(d.obs.Peers) == 0 || len(d.obs.Outgoing) > 0 {
		return nil, ""
	}
	surplus := ""
	for _, item := range catalog.SortedKeys(d.self.Inventory) {
		if d.self.Inventory[item] > surplusAt && (surplus == "" || d.self.Inventory[item] > d.self.Inventory[surplus]) {
			surplus = item
		}
	}
	if surplus == "" {
		return nil, ""
	}
	want := ""
	for _, item := range d.tmpl.Focus {
		if _, ok := d.cat.Resource(item); ok && item != surplus && d.self.Inventory[item] < 1 {
			want = item
			break
		}
	}
	if want == "" {
		return nil, ""
	}
	peer := d.obs.Peers[d.rng.Intn(len(d.obs.Peers))]
	return &action.TradeProposal{
		Target:    peer.ID,
		Offered:   map[string]float64{surplus: offerBatch},
		Requested: map[string]float64{want: 1},
	}, fmt.Sprintf("offering %s to %s for %s", surplus, peer.Name, want)
}

// social: leaders found and govern groups, others join groups they meet
// or talk to whoever is around.
func (d *decider) social() (action.Payload, string) {
	var led *social.Group
	for i := range d.obs.Groups {
		if d.obs.Groups[i].Members[d.self.ID] == social.RoleLeader {
			led = &d.obs.Groups[i]
			break
		}
	}

	switch {
	case led != nil:
		if apps := sortedApplicants(led); len(apps) > 0 {
			return &action.Group{Op: action.OpApprove, GroupID: led.ID, Member: apps[0]}, "admitting an applicant"
		}
		if len(led.Rules) == 0 && len(d.tmpl.Focus) > 0 && led.Size() > 1 && !d.voting(led.ID) {
			return &action.Group{
				Op:      action.OpProposeRule,
				GroupID: led.ID,
				Rule:    &action.RuleSpec{Kind: string(social.RuleTax), Resource: d.tmpl.Focus[0], Amount: taxProposal},
			}, "proposing a shared levy"
		}
	case len(d.obs.Groups) == 0 && d.self.Archetype == agents.ArchLeader:
		return &action.Group{Op: action.OpForm, GroupType: string(social.TypeCouncil), Name: d.self.Name + "'s Council"}, "founding a council"
	case len(d.obs.Groups) == 0:
		for _, g := range d.obs.NearbyGroups {
			if _, applied := g.Members[d.self.ID]; !applied {
				return &action.Group{Op: action.OpJoin, GroupID: g.ID}, "joining " + g.Name
			}
		}
	}

	if len(d.obs.Peers) == 0 {
		return nil, ""
	}
	return &action.Message{Channel: messageChannel, Content: fmt.Sprintf("%s looking for partners at %s", d.self.Name, d.obs.Location.Name)}, "looking for partners"
}

// work gathers the archetype's focus resources, roams, or idles.
func (d *decider) work() (action.Payload, string) {
	if d.self.Free() >= minFreeToWork {
		for _, item := range d.tmpl.Focus {
			if s, ok := d.obs.Location.Stocks[item]; ok && s.Quantity >= 1 {
				return &action.Harvest{Resource: item, Amount: harvestBatch}, "gathering " + item
			}
		}
	}
	if d.tmpl.Roams && len(d.obs.Routes) > 0 {
		r := d.obs.Routes[d.rng.Intn(len(d.obs.Routes))]
		return &action.Move{Destination: r.To}, "wandering"
	}
	if d.self.Free() >= minFreeToWork {
		if item := d.bestStock(func(string) bool { return true }); item != "" {
			return &action.Harvest{Resource: item, Amount: harvestBatch}, "gathering " + item
		}
	}
	if to := d.routeTo(func(spec catalog.LocationSpec) bool {
		for _, item := range d.tmpl.Focus {
			if _, ok := spec.Resources[item]; ok {
				return true
			}
		}
		return false
	}); to != "" {
		return &action.Move{Destination: to}, "heading to work"
	}
	return nil, "nothing to do"
}

// voting reports whether gid already has an open proposal.
func (d *decider) voting(gid uint64) bool {
	for _, p := range d.obs.OpenVotes {
		if p.GroupID == gid {
			return true
		}
	}
	return false
}

func (d *decider) edible(item string) bool {
	k, ok := d.cat.Resource(item)
	return ok && k.Edible()
}

func (d *decider) holdsFood() bool {
	for item, q := range d.self.Inventory {
		if q > 0 && d.edible(item) {
			return true
		}
	}
	return false
}

// bestStock returns the matching stock with the most quantity here.
func (d *decider) bestStock(match func(string) bool) string {
	best, most := "", 0.0
	for _, item := range catalog.SortedKeys(d.obs.Location.Stocks) {
		if q := d.obs.Location.Stocks[item].Quantity; match(item) && q >= 1 && q > most {
			best, most = item, q
		}
	}
	return best
}

// routeTo returns the cheapest neighbour whose catalog entry matches.
func (d *decider) routeTo(match func(catalog.LocationSpec) bool) string {
	best, cost := "", 0.0
	for _, r := range d.obs.Routes {
		spec, ok := d.cat.Location(r.To)
		if !ok || !match(spec) {
			continue
		}
		if best == "" || r.Cost < cost {
			best, cost = r.To, r.Cost
		}
	}
	return best
}

func (d *decider) covers(items map[string]float64) bool {
	for item, q := range items {
		if d.self.Inventory[item] < q {
			return false
		}
	}
	return true
}

// fits reports whether receiving in after giving out stays in capacity.
func (d *decider) fits(in, out map[string]float64) bool {
	var delta float64
	for _, item := range catalog.SortedKeys(in) {
		delta += in[item]
	}
	for _, item := range catalog.SortedKeys(out) {
		delta -= out[item]
	}
	return delta <= d.self.Free()
}

func sortedApplicants(g *social.Group) []agents.AgentID {
	var out []agents.AgentID
	for id, role := range g.Members {
		if role == social.RoleApplicant {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
