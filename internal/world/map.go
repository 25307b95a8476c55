// Package world owns locations, their resource stocks and the graph that
// connects them. Topology is fixed after generation; stocks change every
// tick through Regenerate and Harvest only.
package world

import (
	"fmt"
	"sort"

	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

// Stock is the quantity of one resource at a location.
type Stock struct {
	Quantity float64 `json:"quantity"`
	Cap      float64 `json:"cap"`
}

// Location is a node of the world graph.
type Location struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	AccessCost     float64           `json:"access_cost"`
	ShelterQuality float64           `json:"shelter_quality"`
	Danger         float64           `json:"danger"`
	Stocks         map[string]*Stock `json:"stocks"`
}

// Edge is an outgoing connection.
type Edge struct {
	To         string  `json:"to"`
	Distance   float64 `json:"distance"`
	Difficulty float64 `json:"difficulty"`
}

// Model is the world state of one run.
type Model struct {
	cat       *catalog.Catalog
	locations map[string]*Location
	order     []string          // sorted location ids
	edges     map[string][]Edge // from -> edges, sorted by To
}

func newModel(cat *catalog.Catalog) (*Model, error) {
	m := &Model{
		cat:       cat,
		locations: make(map[string]*Location, len(cat.Locations)),
		edges:     make(map[string][]Edge),
	}
	for _, spec := range cat.Locations {
		m.locations[spec.ID] = &Location{
			ID:             spec.ID,
			Name:           spec.Name,
			Type:           spec.Type,
			AccessCost:     spec.AccessCost,
			ShelterQuality: spec.ShelterQuality,
			Danger:         spec.Danger,
			Stocks:         make(map[string]*Stock, len(spec.Resources)),
		}
		m.order = append(m.order, spec.ID)
	}
	sort.Strings(m.order)

	for _, e := range cat.Edges {
		if e.From == e.To {
			return nil, fmt.Errorf("self-loop edge at %s", e.From)
		}
		m.addEdge(e.From, Edge{To: e.To, Distance: e.Distance, Difficulty: e.Difficulty})
		if !e.Directed {
			m.addEdge(e.To, Edge{To: e.From, Distance: e.Distance, Difficulty: e.Difficulty})
		}
	}
	for from := range m.edges {
		es := m.edges[from]
		sort.Slice(es, func(i, j int) bool { return es[i].To < es[j].To })
	}
	return m, nil
}

func (m *Model) addEdge(from string, e Edge) {
	for i, existing := range m.edges[from] {
		if existing.To == e.To {
			m.edges[from][i] = e
			return
		}
	}
	m.edges[from] = append(m.edges[from], e)
}

// Catalog returns the catalog the world was built from.
func (m *Model) Catalog() *catalog.Catalog { return m.cat }

// Has reports whether a location exists.
func (m *Model) Has(id string) bool {
	_, ok := m.locations[id]
	return ok
}

// LocationIDs returns all location ids in ascending order.
func (m *Model) LocationIDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Location returns a copy of a location.
func (m *Model) Location(id string) (Location, error) {
	loc, ok := m.locations[id]
	if !ok {
		return Location{}, simerr.NotFound("location %q", id)
	}
	return loc.clone(), nil
}

// Locations returns copies of every location in id order.
func (m *Model) Locations() []Location {
	out := make([]Location, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.locations[id].clone())
	}
	return out
}

func (l *Location) clone() Location {
	c := *l
	c.Stocks = make(map[string]*Stock, len(l.Stocks))
	for k, s := range l.Stocks {
		cp := *s
		c.Stocks[k] = &cp
	}
	return c
}

// Neighbors returns the outgoing edges of a location.
func (m *Model) Neighbors(id string) []Edge {
	es := m.edges[id]
	out := make([]Edge, len(es))
	copy(out, es)
	return out
}

// Edge returns the edge from one location to another.
func (m *Model) Edge(from, to string) (Edge, bool) {
	for _, e := range m.edges[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// TravelCost is distance * difficulty * destination access cost.
func (m *Model) TravelCost(from, to string) (float64, error) {
	dest, ok := m.locations[to]
	if !ok {
		return 0, simerr.NotFound("location %q", to)
	}
	if _, ok := m.locations[from]; !ok {
		return 0, simerr.NotFound("location %q", from)
	}
	e, ok := m.Edge(from, to)
	if !ok {
		return 0, simerr.Validation("no edge from %s to %s", from, to)
	}
	return e.Distance * e.Difficulty * dest.AccessCost, nil
}

// Regenerate refills every stock by its kind's regen rate, capped.
// Returns the total quantity added.
func (m *Model) Regenerate(tick uint64) float64 {
	var added float64
	for _, id := range m.order {
		loc := m.locations[id]
		for _, item := range catalog.SortedKeys(loc.Stocks) {
			kind, _ := m.cat.Resource(item)
			s := loc.Stocks[item]
			next := s.Quantity + kind.RegenRate
			if next > s.Cap {
				next = s.Cap
			}
			if next > s.Quantity {
				added += next - s.Quantity
				s.Quantity = next
			}
		}
	}
	return added
}

// Harvest grants min(requested, available, free) units and depletes the
// stock by the same amount.
func (m *Model) Harvest(locationID, item string, requested, free float64) (float64, error) {
	loc, ok := m.locations[locationID]
	if !ok {
		return 0, simerr.NotFound("location %q", locationID)
	}
	if requested <= 0 {
		return 0, simerr.Validation("harvest amount must be positive")
	}
	s, ok := loc.Stocks[item]
	if !ok {
		return 0, simerr.NotFound("%s has no %s", locationID, item)
	}
	granted := requested
	if s.Quantity < granted {
		granted = s.Quantity
	}
	if free < granted {
		granted = free
	}
	if granted <= 0 {
		if free <= 0 {
			return 0, simerr.InsufficientCapacity("no free inventory capacity")
		}
		return 0, simerr.Validation("%s at %s is depleted", item, locationID)
	}
	s.Quantity -= granted
	return granted, nil
}

// TotalStock sums one resource over every location.
func (m *Model) TotalStock(item string) float64 {
	var total float64
	for _, id := range m.order {
		if s, ok := m.locations[id].Stocks[item]; ok {
			total += s.Quantity
		}
	}
	return total
}

// CheckInvariants verifies every stock lies in [0, cap].
func (m *Model) CheckInvariants() error {
	for _, id := range m.order {
		for item, s := range m.locations[id].Stocks {
			if s.Quantity < 0 || s.Quantity > s.Cap+1e-9 {
				return simerr.Invariant("%s stock at %s is %.4f (cap %.2f)", item, id, s.Quantity, s.Cap)
			}
		}
	}
	return nil
}

// Restore replaces stocks from a snapshot. Unknown locations are rejected.
func (m *Model) Restore(locs []Location) error {
	for _, l := range locs {
		loc, ok := m.locations[l.ID]
		if !ok {
			return simerr.NotFound("location %q", l.ID)
		}
		loc.Stocks = make(map[string]*Stock, len(l.Stocks))
		for item, s := range l.Stocks {
			cp := *s
			loc.Stocks[item] = &cp
		}
	}
	return m.CheckInvariants()
}
