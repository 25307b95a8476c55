// Groups: guilds, firms, councils, cooperatives and alliances that agents
// form, fund and govern through proposals.
package social

import (
	"log/slog"
	"math"
	"sort"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

// GroupType categorises a group. It carries no mechanics of its own.
type GroupType string

const (
	TypeGuild       GroupType = "guild"
	TypeFirm        GroupType = "firm"
	TypeCouncil     GroupType = "council"
	TypeCooperative GroupType = "cooperative"
	TypeAlliance    GroupType = "alliance"
)

func validType(t GroupType) bool {
	switch t {
	case TypeGuild, TypeFirm, TypeCouncil, TypeCooperative, TypeAlliance:
		return true
	}
	return false
}

// Role is a member's standing within a group.
type Role string

const (
	RoleLeader    Role = "leader"
	RoleOfficer   Role = "officer"
	RoleMember    Role = "member"
	RoleApplicant Role = "applicant"
)

// Full reports whether the role carries a vote and treasury rights.
func (r Role) Full() bool { return r != RoleApplicant }

// Group is one organisation. Exactly one member holds RoleLeader while
// the group is active.
type Group struct {
	ID               uint64                  `json:"id"`
	Type             GroupType               `json:"type"`
	Name             string                  `json:"name"`
	Members          map[agents.AgentID]Role `json:"members"`
	Treasury         map[string]float64      `json:"treasury"`
	Rules            []Rule                  `json:"rules"`
	DefaultThreshold Threshold               `json:"default_threshold"`
	OpenMembership   bool                    `json:"open_membership"`
	FoundedTick      uint64                  `json:"founded_tick"`
	Dissolved        bool                    `json:"dissolved"`
	DissolvedTick    uint64                  `json:"dissolved_tick,omitempty"`
}

// Leader returns the current leader.
func (g *Group) Leader() (agents.AgentID, bool) {
	for id, r := range g.Members {
		if r == RoleLeader {
			return id, true
		}
	}
	return 0, false
}

// Size counts full members.
func (g *Group) Size() int {
	n := 0
	for _, r := range g.Members {
		if r.Full() {
			n++
		}
	}
	return n
}

// FullMembers returns ids of non-applicant members, ascending.
func (g *Group) FullMembers() []agents.AgentID {
	var out []agents.AgentID
	for id, r := range g.Members {
		if r.Full() {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func (g *Group) withRole(role Role) []agents.AgentID {
	var out []agents.AgentID
	for id, r := range g.Members {
		if r == role {
			out = append(out, id)
		}
	}
	sortIDs(out)
	return out
}

func (g *Group) clone() Group {
	cp := *g
	cp.Members = make(map[agents.AgentID]Role, len(g.Members))
	for k, v := range g.Members {
		cp.Members[k] = v
	}
	cp.Treasury = make(map[string]float64, len(g.Treasury))
	for k, v := range g.Treasury {
		cp.Treasury[k] = v
	}
	cp.Rules = append([]Rule(nil), g.Rules...)
	return cp
}

// Holdings is the part of the agent store groups move goods through.
type Holdings interface {
	AddItems(id agents.AgentID, items map[string]float64) error
	RemoveItems(id agents.AgentID, items map[string]float64) error
	FreeCapacity(id agents.AgentID) float64
}

// Dissolution reports where a dissolved group's treasury went.
type Dissolution struct {
	GroupID     uint64                                `json:"group_id"`
	Distributed map[agents.AgentID]map[string]float64 `json:"distributed,omitempty"`
	Forfeited   map[string]float64                    `json:"forfeited,omitempty"`
}

// Registry owns every group and governance proposal of a run.
type Registry struct {
	cfg     Config
	store   Holdings
	logger  *slog.Logger
	groups  map[uint64]*Group
	nextID  uint64
	props   map[uint64]*Proposal
	nextPID uint64
}

// Config tunes governance.
type Config struct {
	VotingWindow     uint64    // ticks a proposal stays open
	DefaultThreshold Threshold // for new groups
}

// DefaultConfig returns the standard governance tuning.
func DefaultConfig() Config {
	return Config{VotingWindow: 50, DefaultThreshold: ThresholdMajority}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, store Holdings, logger *slog.Logger) *Registry {
	if cfg.VotingWindow == 0 {
		cfg.VotingWindow = DefaultConfig().VotingWindow
	}
	if cfg.DefaultThreshold == "" {
		cfg.DefaultThreshold = ThresholdMajority
	}
	return &Registry{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		groups:  make(map[uint64]*Group),
		nextID:  1,
		props:   make(map[uint64]*Proposal),
		nextPID: 1,
	}
}

func (r *Registry) active(id uint64) (*Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, simerr.NotFound("group %d", id)
	}
	if g.Dissolved {
		return nil, simerr.Validation("group %d is dissolved", id)
	}
	return g, nil
}

func (r *Registry) requireRole(g *Group, agent agents.AgentID, allowed ...Role) error {
	role, ok := g.Members[agent]
	if !ok {
		return simerr.PermissionDenied("agent %d is not in group %d", agent, g.ID)
	}
	for _, a := range allowed {
		if role == a {
			return nil
		}
	}
	return simerr.PermissionDenied("agent %d is %s in group %d", agent, role, g.ID)
}

// Form creates a group led by founder.
func (r *Registry) Form(tick uint64, founder agents.AgentID, typ GroupType, name string) (Group, error) {
	if !validType(typ) {
		return Group{}, simerr.Validation("unknown group type %q", typ)
	}
	g := &Group{
		ID:               r.nextID,
		Type:             typ,
		Name:             name,
		Members:          map[agents.AgentID]Role{founder: RoleLeader},
		Treasury:         make(map[string]float64),
		DefaultThreshold: r.cfg.DefaultThreshold,
		FoundedTick:      tick,
	}
	r.nextID++
	r.groups[g.ID] = g
	return g.clone(), nil
}

// Join applies for membership; an open group admits directly.
func (r *Registry) Join(agent agents.AgentID, gid uint64) (Role, error) {
	g, err := r.active(gid)
	if err != nil {
		return "", err
	}
	if role, ok := g.Members[agent]; ok {
		return role, simerr.Validation("agent %d is already %s of group %d", agent, role, gid)
	}
	role := RoleApplicant
	if g.OpenMembership {
		role = RoleMember
	}
	g.Members[agent] = role
	return role, nil
}

// Approve admits an applicant. Leaders and officers may approve.
func (r *Registry) Approve(actor agents.AgentID, gid uint64, applicant agents.AgentID) error {
	g, err := r.active(gid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, actor, RoleLeader, RoleOfficer); err != nil {
		return err
	}
	if g.Members[applicant] != RoleApplicant {
		return simerr.Validation("agent %d has not applied to group %d", applicant, gid)
	}
	g.Members[applicant] = RoleMember
	return nil
}

// Promote makes a member an officer. Leader only.
func (r *Registry) Promote(actor agents.AgentID, gid uint64, member agents.AgentID) error {
	g, err := r.active(gid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, actor, RoleLeader); err != nil {
		return err
	}
	if g.Members[member] != RoleMember {
		return simerr.Validation("agent %d is not a plain member of group %d", member, gid)
	}
	g.Members[member] = RoleOfficer
	return nil
}

// Kick removes a member. Leader only; the leader cannot kick itself.
func (r *Registry) Kick(actor agents.AgentID, gid uint64, member agents.AgentID) error {
	g, err := r.active(gid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, actor, RoleLeader); err != nil {
		return err
	}
	if actor == member {
		return simerr.Validation("leader cannot kick itself; use LEAVE or DISSOLVE")
	}
	if _, ok := g.Members[member]; !ok {
		return simerr.NotFound("agent %d in group %d", member, gid)
	}
	delete(g.Members, member)
	return nil
}

// Leave removes agent. A departing leader is succeeded by the lowest-id
// officer, else the lowest-id member; with nobody left the group
// dissolves and the departing agent receives the treasury.
func (r *Registry) Leave(tick uint64, agent agents.AgentID, gid uint64) (*Dissolution, error) {
	g, err := r.active(gid)
	if err != nil {
		return nil, err
	}
	role, ok := g.Members[agent]
	if !ok {
		return nil, simerr.NotFound("agent %d in group %d", agent, gid)
	}
	if role != RoleLeader {
		delete(g.Members, agent)
		return nil, nil
	}

	successor, found := lowest(g.withRole(RoleOfficer))
	if !found {
		successor, found = lowest(g.withRole(RoleMember))
	}
	if !found {
		d := r.dissolve(tick, g, []agents.AgentID{agent})
		return &d, nil
	}
	delete(g.Members, agent)
	g.Members[successor] = RoleLeader
	r.logger.Debug("leader succession", "group", gid, "from", agent, "to", successor)
	return nil, nil
}

// Dissolve ends the group. Leader only.
func (r *Registry) Dissolve(tick uint64, actor agents.AgentID, gid uint64) (Dissolution, error) {
	g, err := r.active(gid)
	if err != nil {
		return Dissolution{}, err
	}
	if err := r.requireRole(g, actor, RoleLeader); err != nil {
		return Dissolution{}, err
	}
	return r.dissolve(tick, g, g.FullMembers()), nil
}

// dissolve splits the treasury equally among holders in id order, each
// share clipped to the holder's free capacity. What nobody can carry is
// forfeited.
func (r *Registry) dissolve(tick uint64, g *Group, holders []agents.AgentID) Dissolution {
	d := Dissolution{GroupID: g.ID}
	for _, item := range catalog.SortedKeys(g.Treasury) {
		qty := g.Treasury[item]
		if len(holders) == 0 {
			addTo(&d.Forfeited, item, qty)
			continue
		}
		share := qty / float64(len(holders))
		left := qty
		for _, id := range holders {
			give := math.Min(share, r.store.FreeCapacity(id))
			if give <= 0 {
				continue
			}
			if err := r.store.AddItems(id, map[string]float64{item: give}); err != nil {
				r.logger.Warn("treasury distribution", "group", g.ID, "agent", id, "error", err)
				continue
			}
			left -= give
			if d.Distributed == nil {
				d.Distributed = make(map[agents.AgentID]map[string]float64)
			}
			if d.Distributed[id] == nil {
				d.Distributed[id] = make(map[string]float64)
			}
			d.Distributed[id][item] += give
		}
		if left > 1e-9 {
			addTo(&d.Forfeited, item, left)
		}
	}
	g.Treasury = make(map[string]float64)
	g.Members = make(map[agents.AgentID]Role)
	g.Dissolved = true
	g.DissolvedTick = tick
	for _, p := range r.props {
		if p.GroupID == g.ID && p.Status == ProposalOpen {
			p.Status = ProposalFailed
			p.ResolvedTick = tick
			p.Reason = "group dissolved"
		}
	}
	return d
}

func addTo(m *map[string]float64, item string, qty float64) {
	if *m == nil {
		*m = make(map[string]float64)
	}
	(*m)[item] += qty
}

// Contribute moves items from a full member into the treasury.
func (r *Registry) Contribute(agent agents.AgentID, gid uint64, items map[string]float64) error {
	g, err := r.active(gid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, agent, RoleLeader, RoleOfficer, RoleMember); err != nil {
		return err
	}
	if err := r.store.RemoveItems(agent, items); err != nil {
		return err
	}
	for item, q := range items {
		g.Treasury[item] += q
	}
	return nil
}

// Withdraw moves treasury items to a leader or officer.
func (r *Registry) Withdraw(agent agents.AgentID, gid uint64, items map[string]float64) error {
	g, err := r.active(gid)
	if err != nil {
		return err
	}
	if err := r.requireRole(g, agent, RoleLeader, RoleOfficer); err != nil {
		return err
	}
	for _, item := range catalog.SortedKeys(items) {
		if g.Treasury[item]+1e-9 < items[item] {
			return simerr.InsufficientInventory("group %d treasury has %.2f %s", gid, g.Treasury[item], item)
		}
	}
	if err := r.store.AddItems(agent, items); err != nil {
		return err
	}
	for item, q := range items {
		g.Treasury[item] -= q
		if g.Treasury[item] < 1e-9 {
			delete(g.Treasury, item)
		}
	}
	return nil
}

// deposit adds levied goods to a treasury.
func (r *Registry) deposit(gid uint64, item string, qty float64) {
	if g, ok := r.groups[gid]; ok && !g.Dissolved {
		g.Treasury[item] += qty
	}
}

// Group returns a copy of one group.
func (r *Registry) Group(id uint64) (Group, error) {
	g, ok := r.groups[id]
	if !ok {
		return Group{}, simerr.NotFound("group %d", id)
	}
	return g.clone(), nil
}

// Groups returns every group, dissolved ones included, in id order.
func (r *Registry) Groups() []Group {
	out := make([]Group, 0, len(r.groups))
	for _, id := range r.groupIDs() {
		out = append(out, r.groups[id].clone())
	}
	return out
}

// GroupsOf returns the active groups agent belongs to as a full member.
func (r *Registry) GroupsOf(agent agents.AgentID) []Group {
	var out []Group
	for _, id := range r.groupIDs() {
		g := r.groups[id]
		if role, ok := g.Members[agent]; ok && !g.Dissolved && role.Full() {
			out = append(out, g.clone())
		}
	}
	return out
}

// ActiveStats returns the number of active groups and their mean size.
func (r *Registry) ActiveStats() (count int, avgSize float64) {
	total := 0
	for _, g := range r.groups {
		if g.Dissolved {
			continue
		}
		count++
		total += g.Size()
	}
	if count == 0 {
		return 0, 0
	}
	return count, float64(total) / float64(count)
}

// TreasuryTotal sums item across all active treasuries.
func (r *Registry) TreasuryTotal(item string) float64 {
	var t float64
	for _, id := range r.groupIDs() {
		t += r.groups[id].Treasury[item]
	}
	return t
}

// CheckInvariants verifies one leader per active group and non-negative
// treasuries.
func (r *Registry) CheckInvariants() error {
	for _, id := range r.groupIDs() {
		g := r.groups[id]
		if g.Dissolved {
			continue
		}
		if n := len(g.withRole(RoleLeader)); n != 1 {
			return simerr.Invariant("group %d has %d leaders", id, n)
		}
		for item, q := range g.Treasury {
			if q < 0 {
				return simerr.Invariant("group %d treasury holds %.4f %s", id, q, item)
			}
		}
	}
	return nil
}

func (r *Registry) groupIDs() []uint64 {
	ids := make([]uint64, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func lowest(ids []agents.AgentID) (agents.AgentID, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

func sortIDs(ids []agents.AgentID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
