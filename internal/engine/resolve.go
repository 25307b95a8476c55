package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/comm"
	"github.com/talgya/agora/internal/metrics"
	"github.com/talgya/agora/internal/simerr"
	"github.com/talgya/agora/internal/social"
)

const harvestSkill = "harvesting"

// outcome is what a successfully applied action reports.
type outcome struct {
	msg     string
	ref     uint64
	subject string // resource harvested or recipe crafted
}

// apply executes one action against the current state and records its
// event. A recoverable failure becomes a failed event; anything else is
// returned and terminates the run.
func (s *Simulation) apply(tick uint64, a action.Action) error {
	out, err := s.resolve(tick, a)
	ev := Event{
		Category:  CategoryAction,
		Kind:      string(a.Kind()),
		Agent:     a.AgentID,
		Success:   err == nil,
		Reasoning: a.Reasoning,
		Message:   out.msg,
		Ref:       out.ref,
	}
	metrics.Inc(metrics.ActionsTotal)
	if err != nil {
		if !simerr.Recoverable(err) {
			return fmt.Errorf("agent %d %s: %w", a.AgentID, a.Kind(), err)
		}
		metrics.Inc(metrics.ActionsRejected)
		ev.Reason = simerr.Code(err)
		ev.Message = err.Error()
		s.logger.Debug("action rejected", "tick", tick, "agent", a.AgentID, "kind", a.Kind(), "reason", ev.Reason)
	} else {
		s.agents.RecordAction(a.AgentID, string(a.Kind()), out.subject)
	}
	s.emit(ev)
	return nil
}

// resolve dispatches on the payload type. Every kind is handled here.
func (s *Simulation) resolve(tick uint64, a action.Action) (outcome, error) {
	if !s.agents.Has(a.AgentID) {
		return outcome{}, simerr.NotFound("agent %d", a.AgentID)
	}
	switch p := a.Payload.(type) {
	case *action.Move:
		return s.move(a.AgentID, p)
	case *action.Harvest:
		return s.harvest(a.AgentID, p)
	case *action.Craft:
		return s.craft(a.AgentID, p)
	case *action.TradeProposal:
		return s.propose(tick, a.AgentID, p)
	case *action.AcceptTrade:
		return s.answer(tick, a.AgentID, p)
	case *action.Message:
		return s.message(tick, a.AgentID, p)
	case *action.Group:
		return s.group(tick, a.AgentID, p)
	case *action.IdleAction:
		return outcome{msg: p.Reason}, nil
	case nil:
		return outcome{}, nil
	default:
		return outcome{}, simerr.Validation("unsupported payload %T", p)
	}
}

func (s *Simulation) move(id agents.AgentID, p *action.Move) (outcome, error) {
	from, err := s.agents.LocationOf(id)
	if err != nil {
		return outcome{}, err
	}
	cost, err := s.world.TravelCost(from, p.Destination)
	if err != nil {
		return outcome{}, err
	}
	if err := s.agents.MoveTo(id, p.Destination, cost); err != nil {
		return outcome{}, err
	}
	return outcome{msg: fmt.Sprintf("moved %s -> %s (cost %.2f)", from, p.Destination, cost)}, nil
}

func (s *Simulation) harvest(id agents.AgentID, p *action.Harvest) (outcome, error) {
	loc, err := s.agents.LocationOf(id)
	if err != nil {
		return outcome{}, err
	}
	if _, ok := s.cat.Resource(p.Resource); !ok {
		return outcome{}, simerr.NotFound("resource %q", p.Resource)
	}
	free := s.agents.FreeCapacity(id)
	if free <= 0 {
		return outcome{}, simerr.InsufficientCapacity("agent %d has no free capacity", id)
	}

	requested := math.Min(p.Amount, s.cfg.HarvestCap)
	if limit, ok := s.groups.HarvestLimit(id, p.Resource); ok {
		requested = math.Min(requested, limit)
	}
	granted, err := s.world.Harvest(loc, p.Resource, requested, free)
	if err != nil {
		return outcome{}, err
	}
	if err := s.agents.AddItems(id, map[string]float64{p.Resource: granted}); err != nil {
		// Stock is already depleted; the capacity check above makes this
		// unreachable unless the store is broken.
		return outcome{}, simerr.Invariant("harvested %.4f %s lost: %v", granted, p.Resource, err)
	}
	s.mass.Harvested += granted

	paid, err := s.groups.Levy(id, p.Resource, granted)
	if err != nil {
		return outcome{}, simerr.Invariant("levy on fresh harvest: %v", err)
	}
	if _, err := s.agents.GrantXP(id, harvestSkill, s.cfg.HarvestXP); err != nil {
		return outcome{}, err
	}

	msg := fmt.Sprintf("harvested %.2f %s at %s", granted, p.Resource, loc)
	if tax := sumLevy(paid); tax > 0 {
		msg += fmt.Sprintf(" (%.2f to group treasuries)", tax)
	}
	return outcome{msg: msg, subject: p.Resource}, nil
}

func sumLevy(paid map[uint64]float64) float64 {
	gids := make([]uint64, 0, len(paid))
	for gid := range paid {
		gids = append(gids, gid)
	}
	sort.Slice(gids, func(i, j int) bool { return gids[i] < gids[j] })
	var total float64
	for _, gid := range gids {
		total += paid[gid]
	}
	return total
}

func (s *Simulation) craft(id agents.AgentID, p *action.Craft) (outcome, error) {
	recipe, ok := s.cat.Recipe(p.Recipe)
	if !ok {
		return outcome{}, simerr.NotFound("recipe %q", p.Recipe)
	}
	levels := s.agents.SkillLevels(id)
	for _, skill := range catalog.SortedKeys(recipe.SkillRequirements) {
		if need := recipe.SkillRequirements[skill]; levels[skill] < need {
			return outcome{}, simerr.Validation("%s needs %s level %d, have %d", recipe.ID, skill, need, levels[skill])
		}
	}
	for _, tool := range recipe.ToolRequirements {
		if err := s.agents.Holds(id, map[string]float64{tool: 1}); err != nil {
			return outcome{}, simerr.Validation("%s needs a %s", recipe.ID, tool)
		}
	}

	n := float64(p.Count())
	inputs := make(map[string]float64, len(recipe.Inputs))
	var in float64
	for _, item := range catalog.SortedKeys(recipe.Inputs) {
		inputs[item] = recipe.Inputs[item] * n
		in += inputs[item]
	}
	outputs := make(map[string]float64, len(recipe.Outputs))
	var produced float64
	for _, item := range catalog.SortedKeys(recipe.Outputs) {
		outputs[item] = recipe.Produced(recipe.Outputs[item]*n, levels)
		produced += outputs[item]
	}

	if err := s.agents.Holds(id, inputs); err != nil {
		return outcome{}, err
	}
	if s.agents.FreeCapacity(id)+in < produced {
		return outcome{}, simerr.InsufficientCapacity("%s output of %.0f does not fit", recipe.ID, produced)
	}
	if err := s.agents.RemoveItems(id, inputs); err != nil {
		return outcome{}, err
	}
	if err := s.agents.AddItems(id, outputs); err != nil {
		return outcome{}, simerr.Invariant("craft outputs after removing inputs: %v", err)
	}
	s.mass.CraftInputs += in
	s.mass.CraftOutputs += produced

	levelled, err := s.agents.GrantXP(id, recipe.Skill, recipe.XP*p.Count())
	if err != nil {
		return outcome{}, err
	}
	msg := fmt.Sprintf("crafted %s x%d", recipe.ID, p.Count())
	if levelled {
		msg += fmt.Sprintf(", %s improved", recipe.Skill)
	}
	return outcome{msg: msg, subject: recipe.ID}, nil
}

func (s *Simulation) propose(tick uint64, id agents.AgentID, p *action.TradeProposal) (outcome, error) {
	if !s.agents.Has(p.Target) {
		return outcome{}, simerr.NotFound("agent %d", p.Target)
	}
	here, _ := s.agents.LocationOf(id)
	there, _ := s.agents.LocationOf(p.Target)
	if here != there {
		return outcome{}, simerr.Validation("agent %d is at %s, not %s", p.Target, there, here)
	}
	bundles := []map[string]float64{p.Offered, p.Requested}
	for _, o := range p.Obligations {
		bundles = append(bundles, o.Items)
	}
	if err := s.groups.TradeAllowed(id, p.Target, bundles...); err != nil {
		return outcome{}, err
	}
	prop, err := s.trades.Propose(tick, id, p)
	if err != nil {
		return outcome{}, err
	}
	if prop.CounterOf != 0 {
		return outcome{msg: fmt.Sprintf("countered trade %d with %d", prop.CounterOf, prop.ID), ref: prop.ID}, nil
	}
	return outcome{msg: fmt.Sprintf("proposed trade %d to agent %d", prop.ID, p.Target), ref: prop.ID}, nil
}

func (s *Simulation) answer(tick uint64, id agents.AgentID, p *action.AcceptTrade) (outcome, error) {
	if p.Decline {
		prop, err := s.trades.Decline(tick, id, p.ProposalID)
		if err != nil {
			return outcome{}, err
		}
		return outcome{msg: fmt.Sprintf("trade %d %s", prop.ID, prop.Status), ref: prop.ID}, nil
	}

	prop, entry, err := s.trades.Accept(tick, id, p.ProposalID)
	if err != nil {
		return outcome{ref: p.ProposalID}, err
	}
	metrics.Inc(metrics.TradesTotal)
	out := outcome{msg: fmt.Sprintf("accepted trade %d from agent %d (ledger %d)", prop.ID, prop.Proposer, entry.Seq), ref: prop.ID}
	if len(prop.Obligations) > 0 {
		c, err := s.contracts.Create(tick, prop)
		if err != nil {
			return outcome{}, simerr.Invariant("contract for accepted trade %d: %v", prop.ID, err)
		}
		out.msg += fmt.Sprintf(", contract %d opened", c.ID)
	}
	return out, nil
}

func (s *Simulation) message(tick uint64, id agents.AgentID, p *action.Message) (outcome, error) {
	loc, err := s.agents.LocationOf(id)
	if err != nil {
		return outcome{}, err
	}
	m := comm.Message{Tick: tick, From: id, Channel: p.Channel, Content: p.Content}
	var recipients []agents.AgentID
	switch p.Channel {
	case action.ChannelDirect:
		if !s.agents.Has(p.Recipient) {
			return outcome{}, simerr.NotFound("agent %d", p.Recipient)
		}
		m.To = p.Recipient
		recipients = []agents.AgentID{p.Recipient}
	case action.ChannelLocation:
		m.Location = loc
		recipients = s.agents.AtLocation(loc)
	case action.ChannelGlobal:
		recipients = s.agents.IDs()
	default:
		return outcome{}, simerr.Validation("unknown channel %q", p.Channel)
	}
	sent, err := s.bus.Deliver(m, recipients)
	if err != nil {
		return outcome{}, err
	}
	return outcome{msg: fmt.Sprintf("%s message to %d recipients", p.Channel, len(recipients)), ref: sent.ID}, nil
}

func (s *Simulation) group(tick uint64, id agents.AgentID, p *action.Group) (outcome, error) {
	ref := outcome{ref: p.GroupID}
	switch p.Op {
	case action.OpForm:
		g, err := s.groups.Form(tick, id, social.GroupType(p.GroupType), p.Name)
		if err != nil {
			return outcome{}, err
		}
		return outcome{msg: fmt.Sprintf("formed %s %q", g.Type, g.Name), ref: g.ID}, nil
	case action.OpJoin:
		role, err := s.groups.Join(id, p.GroupID)
		if err != nil {
			return ref, err
		}
		ref.msg = fmt.Sprintf("joined group %d as %s", p.GroupID, role)
		return ref, nil
	case action.OpApprove:
		ref.msg = fmt.Sprintf("approved agent %d", p.Member)
		return ref, s.groups.Approve(id, p.GroupID, p.Member)
	case action.OpPromote:
		ref.msg = fmt.Sprintf("promoted agent %d", p.Member)
		return ref, s.groups.Promote(id, p.GroupID, p.Member)
	case action.OpKick:
		ref.msg = fmt.Sprintf("kicked agent %d", p.Member)
		return ref, s.groups.Kick(id, p.GroupID, p.Member)
	case action.OpLeave:
		d, err := s.groups.Leave(tick, id, p.GroupID)
		if err != nil {
			return ref, err
		}
		ref.msg = "left the group"
		if d != nil {
			s.recordDissolution(*d)
			ref.msg += "; group dissolved"
		}
		return ref, nil
	case action.OpDissolve:
		d, err := s.groups.Dissolve(tick, id, p.GroupID)
		if err != nil {
			return ref, err
		}
		s.recordDissolution(d)
		ref.msg = "dissolved the group"
		return ref, nil
	case action.OpContribute:
		ref.msg = "contributed to the treasury"
		return ref, s.groups.Contribute(id, p.GroupID, p.Items)
	case action.OpWithdraw:
		ref.msg = "withdrew from the treasury"
		return ref, s.groups.Withdraw(id, p.GroupID, p.Items)
	case action.OpProposeRule:
		prop, err := s.groups.ProposeRule(tick, id, p.GroupID, *p.Rule, p.Threshold)
		if err != nil {
			return ref, err
		}
		return outcome{msg: fmt.Sprintf("proposed %s rule, vote closes at tick %d", prop.Rule.Kind, prop.Deadline), ref: prop.ID}, nil
	case action.OpVote, action.OpVeto:
		prop, err := s.groups.Proposal(p.ProposalID)
		if err != nil {
			return outcome{}, err
		}
		if prop.GroupID != p.GroupID {
			return outcome{}, simerr.Validation("proposal %d belongs to group %d", prop.ID, prop.GroupID)
		}
		if p.Op == action.OpVeto {
			return outcome{msg: "vetoed", ref: prop.ID}, s.groups.Veto(tick, id, prop.ID)
		}
		return outcome{msg: "voted " + p.Vote, ref: prop.ID}, s.groups.Vote(id, prop.ID, p.Vote)
	default:
		return outcome{}, simerr.Validation("unknown group op %q", p.Op)
	}
}

func (s *Simulation) recordDissolution(d social.Dissolution) {
	for _, item := range catalog.SortedKeys(d.Forfeited) {
		s.mass.Forfeited += d.Forfeited[item]
	}
}
