package agents

import (
	"sort"

	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

const (
	epsilon = 1e-9
	// Quantities that decay below dust are discarded as spoiled.
	dust = 1e-4
)

// Store owns every agent of a run. Its methods are the only legal way to
// change agent state; readers receive copies.
type Store struct {
	cat        *catalog.Catalog
	decay      NeedDecay
	validPlace func(string) bool

	agents map[AgentID]*Agent
	order  []AgentID
}

// NewStore creates an empty store. validPlace reports whether a location
// id exists in the world.
func NewStore(cat *catalog.Catalog, decay NeedDecay, validPlace func(string) bool) *Store {
	return &Store{
		cat:        cat,
		decay:      decay,
		validPlace: validPlace,
		agents:     make(map[AgentID]*Agent),
	}
}

// Add registers a new agent, filling defaults for zero-valued fields.
func (s *Store) Add(a Agent) error {
	if _, dup := s.agents[a.ID]; dup {
		return simerr.Validation("agent %d already exists", a.ID)
	}
	if !s.validPlace(a.LocationID) {
		return simerr.NotFound("location %q for agent %d", a.LocationID, a.ID)
	}
	if a.Capacity == 0 {
		a.Capacity = DefaultCapacity
	}
	if a.Inventory == nil {
		a.Inventory = make(map[string]float64)
	}
	if a.Skills == nil {
		a.Skills = make(map[string]*Skill)
	}
	if a.ActionCounts == nil {
		a.ActionCounts = make(map[string]int)
	}
	if a.ResourceFocus == nil {
		a.ResourceFocus = make(map[string]int)
	}
	cp := a.Clone()
	s.agents[a.ID] = &cp
	s.order = append(s.order, a.ID)
	sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	return nil
}

func (s *Store) get(id AgentID) (*Agent, error) {
	a, ok := s.agents[id]
	if !ok {
		return nil, simerr.NotFound("agent %d", id)
	}
	return a, nil
}

// Len returns the number of agents.
func (s *Store) Len() int { return len(s.order) }

// IDs returns agent ids in ascending order.
func (s *Store) IDs() []AgentID {
	out := make([]AgentID, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether an agent exists.
func (s *Store) Has(id AgentID) bool {
	_, ok := s.agents[id]
	return ok
}

// Get returns a copy of one agent.
func (s *Store) Get(id AgentID) (Agent, error) {
	a, err := s.get(id)
	if err != nil {
		return Agent{}, err
	}
	return a.Clone(), nil
}

// All returns copies of every agent in id order.
func (s *Store) All() []Agent {
	out := make([]Agent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.agents[id].Clone())
	}
	return out
}

// LocationOf returns where an agent stands.
func (s *Store) LocationOf(id AgentID) (string, error) {
	a, err := s.get(id)
	if err != nil {
		return "", err
	}
	return a.LocationID, nil
}

// AtLocation lists agents at a location in id order.
func (s *Store) AtLocation(loc string) []AgentID {
	var out []AgentID
	for _, id := range s.order {
		if s.agents[id].LocationID == loc {
			out = append(out, id)
		}
	}
	return out
}

// Quantity returns how much of an item an agent holds.
func (s *Store) Quantity(id AgentID, item string) float64 {
	a, ok := s.agents[id]
	if !ok {
		return 0
	}
	return a.Inventory[item]
}

// FreeCapacity returns the room left in an agent's inventory.
func (s *Store) FreeCapacity(id AgentID) float64 {
	a, ok := s.agents[id]
	if !ok {
		return 0
	}
	return a.Free()
}

// Reputation returns an agent's reputation need.
func (s *Store) Reputation(id AgentID) float64 {
	a, ok := s.agents[id]
	if !ok {
		return 0
	}
	return a.Needs.Reputation
}

// SkillLevels returns an agent's skill levels.
func (s *Store) SkillLevels(id AgentID) map[string]int {
	a, ok := s.agents[id]
	if !ok {
		return nil
	}
	return a.SkillLevels()
}

// Holds checks that an agent carries at least every listed quantity.
func (s *Store) Holds(id AgentID, items map[string]float64) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	return holds(a, items)
}

func holds(a *Agent, items map[string]float64) error {
	for _, item := range catalog.SortedKeys(items) {
		if a.Inventory[item]+epsilon < items[item] {
			return simerr.InsufficientInventory("agent %d has %.2f %s, needs %.2f", a.ID, a.Inventory[item], item, items[item])
		}
	}
	return nil
}

func total(items map[string]float64) float64 {
	var t float64
	for _, item := range catalog.SortedKeys(items) {
		t += items[item]
	}
	return t
}

// AddItems grants items, failing if capacity would be exceeded.
func (s *Store) AddItems(id AgentID, items map[string]float64) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	if err := s.checkItems(items); err != nil {
		return err
	}
	if a.Load()+total(items) > a.Capacity+epsilon {
		return simerr.InsufficientCapacity("agent %d carries %.2f of %.0f, cannot add %.2f", id, a.Load(), a.Capacity, total(items))
	}
	for item, q := range items {
		a.Inventory[item] += q
	}
	return nil
}

// RemoveItems takes items away, failing if any would go negative.
func (s *Store) RemoveItems(id AgentID, items map[string]float64) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	if err := s.checkItems(items); err != nil {
		return err
	}
	if err := holds(a, items); err != nil {
		return err
	}
	for item, q := range items {
		take(a, item, q)
	}
	return nil
}

func take(a *Agent, item string, q float64) {
	left := a.Inventory[item] - q
	if left < epsilon {
		delete(a.Inventory, item)
		return
	}
	a.Inventory[item] = left
}

func (s *Store) checkItems(items map[string]float64) error {
	for item, q := range items {
		if _, ok := s.cat.Resource(item); !ok {
			return simerr.NotFound("resource %q", item)
		}
		if q <= 0 {
			return simerr.Validation("%s quantity must be positive", item)
		}
	}
	return nil
}

// Exchange moves aGives from a to b and bGives from b to a. Either both
// transfers apply or neither does.
func (s *Store) Exchange(aID, bID AgentID, aGives, bGives map[string]float64) error {
	if aID == bID {
		return simerr.Validation("agent %d cannot exchange with itself", aID)
	}
	a, err := s.get(aID)
	if err != nil {
		return err
	}
	b, err := s.get(bID)
	if err != nil {
		return err
	}
	if err := s.checkItems(aGives); err != nil {
		return err
	}
	if err := s.checkItems(bGives); err != nil {
		return err
	}
	if err := holds(a, aGives); err != nil {
		return err
	}
	if err := holds(b, bGives); err != nil {
		return err
	}
	if a.Load()-total(aGives)+total(bGives) > a.Capacity+epsilon {
		return simerr.InsufficientCapacity("agent %d cannot carry the exchange", aID)
	}
	if b.Load()-total(bGives)+total(aGives) > b.Capacity+epsilon {
		return simerr.InsufficientCapacity("agent %d cannot carry the exchange", bID)
	}

	for item, q := range aGives {
		take(a, item, q)
		b.Inventory[item] += q
	}
	for item, q := range bGives {
		take(b, item, q)
		a.Inventory[item] += q
	}
	return nil
}

// AdjustReputation adds delta, clamped to [0,100]. Returns the change
// actually applied.
func (s *Store) AdjustReputation(id AgentID, delta float64) (float64, error) {
	a, err := s.get(id)
	if err != nil {
		return 0, err
	}
	before := a.Needs.Reputation
	a.Needs.Reputation = clampNeed(before + delta)
	return a.Needs.Reputation - before, nil
}

// ApplyNeedDecay subtracts each need's per-tick decay, floored at 0.
func (s *Store) ApplyNeedDecay(id AgentID) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	a.Needs.Food = clampNeed(a.Needs.Food - s.decay.Food)
	a.Needs.Shelter = clampNeed(a.Needs.Shelter - s.decay.Shelter)
	return nil
}

// RestoreShelter raises the shelter need, capped at 100.
func (s *Store) RestoreShelter(id AgentID, amount float64) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	a.Needs.Shelter = clampNeed(a.Needs.Shelter + amount)
	return nil
}

// ApplyInventoryDecay multiplies each perishable quantity by 1-decayRate.
// Returns the quantity lost per item.
func (s *Store) ApplyInventoryDecay(id AgentID) (map[string]float64, error) {
	a, err := s.get(id)
	if err != nil {
		return nil, err
	}
	lost := make(map[string]float64)
	for _, item := range catalog.SortedKeys(a.Inventory) {
		kind, _ := s.cat.Resource(item)
		if kind.DecayRate == 0 {
			continue
		}
		q := a.Inventory[item]
		next := q * (1 - kind.DecayRate)
		if next < dust {
			next = 0
		}
		lost[item] = q - next
		if next == 0 {
			delete(a.Inventory, item)
		} else {
			a.Inventory[item] = next
		}
	}
	return lost, nil
}

// Consume eats qty units of an edible item and restores the food need.
// Returns the food restored.
func (s *Store) Consume(id AgentID, item string, qty float64) (float64, error) {
	a, err := s.get(id)
	if err != nil {
		return 0, err
	}
	kind, ok := s.cat.Resource(item)
	if !ok {
		return 0, simerr.NotFound("resource %q", item)
	}
	if !kind.Edible() {
		return 0, simerr.Validation("%s is not edible", item)
	}
	if err := holds(a, map[string]float64{item: qty}); err != nil {
		return 0, err
	}
	take(a, item, qty)
	before := a.Needs.Food
	a.Needs.Food = clampNeed(before + kind.FoodValue*qty)
	return a.Needs.Food - before, nil
}

// MoveTo relocates an agent and records the travel cost.
func (s *Store) MoveTo(id AgentID, loc string, cost float64) error {
	a, err := s.get(id)
	if err != nil {
		return err
	}
	if !s.validPlace(loc) {
		return simerr.NotFound("location %q", loc)
	}
	a.LocationID = loc
	a.TravelCost += cost
	return nil
}

// GrantXP adds experience to a skill and reports whether it levelled up.
func (s *Store) GrantXP(id AgentID, skill string, xp int) (bool, error) {
	a, err := s.get(id)
	if err != nil {
		return false, err
	}
	if skill == "" || xp <= 0 {
		return false, nil
	}
	sk, ok := a.Skills[skill]
	if !ok {
		sk = &Skill{}
		a.Skills[skill] = sk
	}
	sk.XP += xp
	levelled := false
	for sk.XP >= (sk.Level+1)*XPPerLevel {
		sk.Level++
		levelled = true
	}
	return levelled, nil
}

// RecordAction counts an action kind for specialization analytics.
// subject, when set, is the resource harvested or recipe crafted.
func (s *Store) RecordAction(id AgentID, kind, subject string) {
	if a, ok := s.agents[id]; ok {
		a.ActionCounts[kind]++
		if subject != "" {
			a.ResourceFocus[subject]++
		}
	}
}

// CheckInvariants verifies need ranges, non-negative quantities,
// capacity and location references. Any failure is fatal.
func (s *Store) CheckInvariants() error {
	for _, id := range s.order {
		a := s.agents[id]
		for name, v := range map[string]float64{"food": a.Needs.Food, "shelter": a.Needs.Shelter, "reputation": a.Needs.Reputation} {
			if v < 0 || v > 100 {
				return simerr.Invariant("agent %d %s need is %.2f", id, name, v)
			}
		}
		for item, q := range a.Inventory {
			if q < 0 {
				return simerr.Invariant("agent %d holds %.4f %s", id, q, item)
			}
		}
		if a.Load() > a.Capacity+1e-6 {
			return simerr.Invariant("agent %d carries %.4f over capacity %.0f", id, a.Load(), a.Capacity)
		}
		if !s.validPlace(a.LocationID) {
			return simerr.Invariant("agent %d at unknown location %q", id, a.LocationID)
		}
	}
	return nil
}

// TotalHeld sums one item over every agent.
func (s *Store) TotalHeld(item string) float64 {
	var t float64
	for _, id := range s.order {
		t += s.agents[id].Inventory[item]
	}
	return t
}

// Restore replaces the whole population from a snapshot.
func (s *Store) Restore(list []Agent) error {
	s.agents = make(map[AgentID]*Agent, len(list))
	s.order = s.order[:0]
	for _, a := range list {
		if err := s.Add(a); err != nil {
			return err
		}
	}
	return s.CheckInvariants()
}
