package social

import (
	"sort"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/simerr"
)

// Threshold is the share of eligible weight a proposal needs.
type Threshold string

const (
	ThresholdMajority      Threshold = "majority"       // more than half
	ThresholdSuperMajority Threshold = "super_majority" // at least 66%
	ThresholdUnanimous     Threshold = "unanimous"
)

// superMajorityPct is compared as yes*100 >= pct*eligible so the boundary
// is exact for whole-number weights.
const superMajorityPct = 66

func parseThreshold(s string) (Threshold, bool) {
	switch t := Threshold(s); t {
	case ThresholdMajority, ThresholdSuperMajority, ThresholdUnanimous:
		return t, true
	}
	return "", false
}

// Reached reports whether yes out of eligible satisfies t.
func (t Threshold) Reached(yes, eligible float64) bool {
	if eligible <= 0 {
		return false
	}
	switch t {
	case ThresholdSuperMajority:
		return yes*100 >= superMajorityPct*eligible
	case ThresholdUnanimous:
		return yes >= eligible
	default:
		return yes*2 > eligible
	}
}

// ProposalStatus of a governance proposal. Only Open has outgoing
// transitions.
type ProposalStatus string

const (
	ProposalOpen    ProposalStatus = "open"
	ProposalPassed  ProposalStatus = "passed"
	ProposalFailed  ProposalStatus = "failed"
	ProposalExpired ProposalStatus = "expired"
	ProposalVetoed  ProposalStatus = "vetoed"
)

// Vote choices.
const (
	VoteYes     = "yes"
	VoteNo      = "no"
	VoteAbstain = "abstain"
)

// RuleKind names what an enacted rule does.
type RuleKind string

const (
	RuleTax              RuleKind = "TAX"
	RuleResourceLimit    RuleKind = "RESOURCE_LIMIT"
	RuleTradeRestriction RuleKind = "TRADE_RESTRICTION"
	RuleMembership       RuleKind = "MEMBERSHIP"
	RuleGovernance       RuleKind = "GOVERNANCE"
	RuleCustom           RuleKind = "CUSTOM"
)

// Rule is a passed proposal in force.
//
//	TAX                Amount is the share (0..1] of members' harvest of
//	                   Resource (any resource when empty) paid to the treasury.
//	RESOURCE_LIMIT     Amount caps a member's single harvest of Resource.
//	TRADE_RESTRICTION  Members may not trade Resource; with no Resource they
//	                   may only trade with fellow members.
//	MEMBERSHIP         Open admits joiners without approval.
//	GOVERNANCE         Threshold becomes the group's default.
//	CUSTOM             Text only.
type Rule struct {
	ProposalID  uint64    `json:"proposal_id"`
	Kind        RuleKind  `json:"kind"`
	Text        string    `json:"text,omitempty"`
	Resource    string    `json:"resource,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
	Open        bool      `json:"open,omitempty"`
	Threshold   Threshold `json:"threshold,omitempty"`
	EnactedTick uint64    `json:"enacted_tick"`
}

// Proposal is a pending or resolved rule change. Threshold and the
// electorate's weights are fixed when it is created.
type Proposal struct {
	ID           uint64                     `json:"id"`
	GroupID      uint64                     `json:"group_id"`
	Author       agents.AgentID             `json:"author"`
	Rule         Rule                       `json:"rule"`
	Threshold    Threshold                  `json:"threshold"`
	Weights      map[agents.AgentID]float64 `json:"weights"`
	Votes        map[agents.AgentID]string  `json:"votes"`
	CreatedTick  uint64                     `json:"created_tick"`
	Deadline     uint64                     `json:"deadline"`
	Status       ProposalStatus             `json:"status"`
	ResolvedTick uint64                     `json:"resolved_tick,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
}

func (p *Proposal) clone() Proposal {
	cp := *p
	cp.Weights = make(map[agents.AgentID]float64, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	cp.Votes = make(map[agents.AgentID]string, len(p.Votes))
	for k, v := range p.Votes {
		cp.Votes[k] = v
	}
	return cp
}

// Tally sums the weight of current members' votes. Only agents that were
// full members at creation and still are count toward eligible.
func (p *Proposal) Tally(g *Group) (yes, no, eligible float64, cast int) {
	for id, w := range p.Weights {
		role, ok := g.Members[id]
		if !ok || !role.Full() {
			continue
		}
		eligible += w
		switch p.Votes[id] {
		case VoteYes:
			yes += w
			cast++
		case VoteNo:
			no += w
			cast++
		case VoteAbstain:
			cast++
		}
	}
	return yes, no, eligible, cast
}

// Resolution reports a proposal leaving the open state.
type Resolution struct {
	ProposalID uint64         `json:"proposal_id"`
	GroupID    uint64         `json:"group_id"`
	Status     ProposalStatus `json:"status"`
	Yes        float64        `json:"yes"`
	Eligible   float64        `json:"eligible"`
}

// ProposeRule opens a vote on spec. An empty threshold uses the group's
// default.
func (r *Registry) ProposeRule(tick uint64, author agents.AgentID, gid uint64, spec action.RuleSpec, threshold string) (Proposal, error) {
	g, err := r.active(gid)
	if err != nil {
		return Proposal{}, err
	}
	if err := r.requireRole(g, author, RoleLeader, RoleOfficer, RoleMember); err != nil {
		return Proposal{}, err
	}
	rule, err := ruleFrom(spec)
	if err != nil {
		return Proposal{}, err
	}
	th := g.DefaultThreshold
	if threshold != "" {
		var ok bool
		if th, ok = parseThreshold(threshold); !ok {
			return Proposal{}, simerr.Validation("unknown threshold %q", threshold)
		}
	}

	p := &Proposal{
		ID:          r.nextPID,
		GroupID:     gid,
		Author:      author,
		Rule:        rule,
		Threshold:   th,
		Weights:     make(map[agents.AgentID]float64),
		Votes:       make(map[agents.AgentID]string),
		CreatedTick: tick,
		Deadline:    tick + r.cfg.VotingWindow,
		Status:      ProposalOpen,
	}
	for _, id := range g.FullMembers() {
		p.Weights[id] = 1
	}
	p.Rule.ProposalID = p.ID
	r.nextPID++
	r.props[p.ID] = p
	return p.clone(), nil
}

func ruleFrom(spec action.RuleSpec) (Rule, error) {
	rule := Rule{
		Kind:     RuleKind(spec.Kind),
		Text:     spec.Text,
		Resource: spec.Resource,
		Amount:   spec.Amount,
		Open:     spec.Open,
	}
	switch rule.Kind {
	case RuleTax:
		if rule.Amount <= 0 || rule.Amount > 1 {
			return Rule{}, simerr.Validation("tax share must be in (0,1]")
		}
	case RuleResourceLimit:
		if rule.Amount <= 0 {
			return Rule{}, simerr.Validation("resource limit must be positive")
		}
	case RuleTradeRestriction, RuleMembership, RuleCustom:
	case RuleGovernance:
		th, ok := parseThreshold(spec.Threshold)
		if !ok {
			return Rule{}, simerr.Validation("governance rule needs a threshold")
		}
		rule.Threshold = th
	default:
		return Rule{}, simerr.Validation("unknown rule kind %q", spec.Kind)
	}
	return rule, nil
}

// Vote records a full member's vote on an open proposal. Each member
// votes once.
func (r *Registry) Vote(voter agents.AgentID, pid uint64, choice string) error {
	p, g, err := r.openProposal(pid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, voter, RoleLeader, RoleOfficer, RoleMember); err != nil {
		return err
	}
	if _, ok := p.Weights[voter]; !ok {
		return simerr.PermissionDenied("agent %d joined group %d after proposal %d opened", voter, g.ID, pid)
	}
	switch choice {
	case VoteYes, VoteNo, VoteAbstain:
	default:
		return simerr.Validation("unknown vote %q", choice)
	}
	if _, voted := p.Votes[voter]; voted {
		return simerr.Validation("agent %d already voted on proposal %d", voter, pid)
	}
	p.Votes[voter] = choice
	return nil
}

// Veto lets the group leader stop an open proposal before it can pass.
func (r *Registry) Veto(tick uint64, actor agents.AgentID, pid uint64) error {
	p, g, err := r.openProposal(pid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, actor, RoleLeader); err != nil {
		return err
	}
	p.Status = ProposalVetoed
	p.ResolvedTick = tick
	p.Reason = "vetoed by leader"
	return nil
}

func (r *Registry) openProposal(pid uint64) (*Proposal, *Group, error) {
	p, ok := r.props[pid]
	if !ok {
		return nil, nil, simerr.NotFound("proposal %d", pid)
	}
	if p.Status != ProposalOpen {
		return nil, nil, simerr.Validation("proposal %d is %s", pid, p.Status)
	}
	g, err := r.active(p.GroupID)
	if err != nil {
		return nil, nil, err
	}
	return p, g, nil
}

// Resolve settles open proposals in id order. A proposal passes as soon
// as its threshold is reached; at the deadline it fails, or expires when
// no eligible member voted.
func (r *Registry) Resolve(tick uint64) []Resolution {
	var out []Resolution
	for _, pid := range r.proposalIDs() {
		p := r.props[pid]
		if p.Status != ProposalOpen {
			continue
		}
		g := r.groups[p.GroupID]
		yes, _, eligible, cast := p.Tally(g)
		switch {
		case p.Threshold.Reached(yes, eligible):
			p.Status = ProposalPassed
			r.enact(tick, g, p)
		case tick >= p.Deadline && cast == 0:
			p.Status = ProposalExpired
		case tick >= p.Deadline:
			p.Status = ProposalFailed
		default:
			continue
		}
		p.ResolvedTick = tick
		out = append(out, Resolution{ProposalID: pid, GroupID: g.ID, Status: p.Status, Yes: yes, Eligible: eligible})
	}
	return out
}

// enact puts a passed rule into force. It replaces any earlier rule of
// the same kind and resource.
func (r *Registry) enact(tick uint64, g *Group, p *Proposal) {
	rule := p.Rule
	rule.EnactedTick = tick
	kept := g.Rules[:0]
	for _, existing := range g.Rules {
		if existing.Kind == rule.Kind && existing.Resource == rule.Resource && rule.Kind != RuleCustom {
			continue
		}
		kept = append(kept, existing)
	}
	g.Rules = append(kept, rule)

	switch rule.Kind {
	case RuleMembership:
		g.OpenMembership = rule.Open
	case RuleGovernance:
		g.DefaultThreshold = rule.Threshold
	}
	r.logger.Debug("rule enacted", "group", g.ID, "proposal", p.ID, "kind", rule.Kind)
}

// Proposal returns a copy of one proposal.
func (r *Registry) Proposal(pid uint64) (Proposal, error) {
	p, ok := r.props[pid]
	if !ok {
		return Proposal{}, simerr.NotFound("proposal %d", pid)
	}
	return p.clone(), nil
}

// Proposals returns every proposal in id order.
func (r *Registry) Proposals() []Proposal {
	ids := r.proposalIDs()
	out := make([]Proposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.props[id].clone())
	}
	return out
}

// OpenProposals returns open proposals of the groups agent belongs to.
func (r *Registry) OpenProposals(agent agents.AgentID) []Proposal {
	var out []Proposal
	for _, id := range r.proposalIDs() {
		p := r.props[id]
		if p.Status != ProposalOpen {
			continue
		}
		if role, ok := r.groups[p.GroupID].Members[agent]; ok && role.Full() {
			out = append(out, p.clone())
		}
	}
	return out
}

// PassRate is passed / resolved over all proposals, 0 with none resolved.
func (r *Registry) PassRate() float64 {
	var passed, resolved int
	for _, p := range r.props {
		if p.Status == ProposalOpen {
			continue
		}
		resolved++
		if p.Status == ProposalPassed {
			passed++
		}
	}
	if resolved == 0 {
		return 0
	}
	return float64(passed) / float64(resolved)
}

func (r *Registry) proposalIDs() []uint64 {
	ids := make([]uint64, 0, len(r.props))
	for id := range r.props {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State is the serialisable form of the registry.
type State struct {
	NextGroupID    uint64     `json:"next_group_id"`
	NextProposalID uint64     `json:"next_proposal_id"`
	Groups         []Group    `json:"groups"`
	Proposals      []Proposal `json:"proposals"`
}

// State captures groups and proposals for a snapshot.
func (r *Registry) State() State {
	return State{
		NextGroupID:    r.nextID,
		NextProposalID: r.nextPID,
		Groups:         r.Groups(),
		Proposals:      r.Proposals(),
	}
}

// Restore replaces all groups and proposals.
func (r *Registry) Restore(s State) {
	r.nextID = s.NextGroupID
	r.nextPID = s.NextProposalID
	r.groups = make(map[uint64]*Group, len(s.Groups))
	for i := range s.Groups {
		g := s.Groups[i].clone()
		r.groups[g.ID] = &g
	}
	r.props = make(map[uint64]*Proposal, len(s.Proposals))
	for i := range s.Proposals {
		p := s.Proposals[i].clone()
		r.props[p.ID] = &p
	}
}
