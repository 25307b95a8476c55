package social

import (
	"math"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/simerr"
)

// TradeAllowed checks the trade restrictions of every group either party
// belongs to. The first violated rule, in group id order, is reported.
func (r *Registry) TradeAllowed(proposer, target agents.AgentID, items ...map[string]float64) error {
	for _, party := range []agents.AgentID{proposer, target} {
		other := target
		if party == target {
			other = proposer
		}
		for _, gid := range r.groupIDs() {
			g := r.groups[gid]
			role, ok := g.Members[party]
			if g.Dissolved || !ok || !role.Full() {
				continue
			}
			for _, rule := range g.Rules {
				if rule.Kind != RuleTradeRestriction {
					continue
				}
				if rule.Resource == "" {
					if peer, in := g.Members[other]; !in || !peer.Full() {
						return simerr.PermissionDenied("group %d restricts agent %d to trading with members", gid, party)
					}
					continue
				}
				for _, bundle := range items {
					if bundle[rule.Resource] > 0 {
						return simerr.PermissionDenied("group %d forbids trading %s", gid, rule.Resource)
					}
				}
			}
		}
	}
	return nil
}

// HarvestLimit returns the tightest RESOURCE_LIMIT applying to agent for
// item, if any.
func (r *Registry) HarvestLimit(agent agents.AgentID, item string) (float64, bool) {
	limit, found := math.Inf(1), false
	for _, g := range r.memberGroups(agent) {
		for _, rule := range g.Rules {
			if rule.Kind == RuleResourceLimit && (rule.Resource == "" || rule.Resource == item) {
				limit = math.Min(limit, rule.Amount)
				found = true
			}
		}
	}
	return limit, found
}

// Levy takes each TAX rule's share of a fresh harvest from agent into the
// taxing group's treasury. It returns what each group received.
func (r *Registry) Levy(agent agents.AgentID, item string, harvested float64) (map[uint64]float64, error) {
	var out map[uint64]float64
	for _, g := range r.memberGroups(agent) {
		var rate float64
		for _, rule := range g.Rules {
			if rule.Kind == RuleTax && (rule.Resource == "" || rule.Resource == item) {
				rate = math.Max(rate, rule.Amount)
			}
		}
		if rate == 0 {
			continue
		}
		// Each group taxes what earlier groups left of this harvest.
		due := harvested * rate
		if due <= 0 {
			continue
		}
		if err := r.store.RemoveItems(agent, map[string]float64{item: due}); err != nil {
			return out, err
		}
		r.deposit(g.ID, item, due)
		harvested -= due
		if out == nil {
			out = make(map[uint64]float64)
		}
		out[g.ID] = due
	}
	return out, nil
}

func (r *Registry) memberGroups(agent agents.AgentID) []*Group {
	var out []*Group
	for _, gid := range r.groupIDs() {
		g := r.groups[gid]
		if role, ok := g.Members[agent]; ok && !g.Dissolved && role.Full() {
			out = append(out, g)
		}
	}
	return out
}

// ActiveRules lists rules in force across all active groups, by group id.
func (r *Registry) ActiveRules() map[uint64][]Rule {
	out := make(map[uint64][]Rule)
	for _, gid := range r.groupIDs() {
		g := r.groups[gid]
		if g.Dissolved || len(g.Rules) == 0 {
			continue
		}
		out[gid] = append([]Rule(nil), g.Rules...)
	}
	return out
}
