// Package catalog holds the static resource, recipe and location data a
// world is built from. Catalogs are YAML documents; a default one is
// embedded and any field can be overridden by a user file.
package catalog

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/talgya/agora/internal/simerr"
)

//go:embed default.yaml
var defaultYAML []byte

// ResourceKind describes one item type. Rates are fixed per kind.
type ResourceKind struct {
	ID        string  `yaml:"id" json:"id"`
	Name      string  `yaml:"name" json:"name"`
	BaseValue float64 `yaml:"base_value" json:"base_value"`
	StackSize float64 `yaml:"stack_size" json:"stack_size"` // location cap when a stock omits one
	DecayRate float64 `yaml:"decay_rate" json:"decay_rate"` // fraction lost per tick in inventories
	FoodValue float64 `yaml:"food_value,omitempty" json:"food_value,omitempty"`
	RegenRate float64 `yaml:"regen_rate,omitempty" json:"regen_rate,omitempty"`
	Tool      bool    `yaml:"tool,omitempty" json:"tool,omitempty"`
}

// Edible reports whether the kind restores the food need.
func (k ResourceKind) Edible() bool { return k.FoodValue > 0 }

// Recipe turns inputs into outputs, gated by skills and tools.
type Recipe struct {
	ID                string             `yaml:"id" json:"id"`
	Inputs            map[string]float64 `yaml:"inputs" json:"inputs"`
	Outputs           map[string]float64 `yaml:"outputs" json:"outputs"`
	Skill             string             `yaml:"skill" json:"skill"` // skill trained by crafting
	SkillRequirements map[string]int     `yaml:"skill_requirements,omitempty" json:"skill_requirements,omitempty"`
	ToolRequirements  []string           `yaml:"tool_requirements,omitempty" json:"tool_requirements,omitempty"`
	SkillBonuses      map[string]float64 `yaml:"skill_bonuses,omitempty" json:"skill_bonuses,omitempty"`
	XP                int                `yaml:"xp" json:"xp"`
}

// StockSpec is the initial state of one resource at a location.
// A nil Initial means the quantity is seeded from world noise. A zero Cap
// takes the resource's StackSize.
type StockSpec struct {
	Initial *float64 `yaml:"initial,omitempty" json:"initial,omitempty"`
	Cap     float64  `yaml:"cap" json:"cap"`
}

// LocationSpec describes a node of the location graph.
type LocationSpec struct {
	ID             string               `yaml:"id" json:"id"`
	Name           string               `yaml:"name" json:"name"`
	Type           string               `yaml:"type" json:"type"`
	AccessCost     float64              `yaml:"access_cost" json:"access_cost"`
	ShelterQuality float64              `yaml:"shelter_quality" json:"shelter_quality"`
	Danger         float64              `yaml:"danger" json:"danger"`
	Resources      map[string]StockSpec `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// EdgeSpec connects two locations. Edges are symmetric unless Directed.
type EdgeSpec struct {
	From       string  `yaml:"from" json:"from"`
	To         string  `yaml:"to" json:"to"`
	Distance   float64 `yaml:"distance" json:"distance"`
	Difficulty float64 `yaml:"difficulty" json:"difficulty"`
	Directed   bool    `yaml:"directed,omitempty" json:"directed,omitempty"`
}

// Catalog is the full static world definition.
type Catalog struct {
	BaseItem  string         `yaml:"base_item" json:"base_item"`
	Resources []ResourceKind `yaml:"resources" json:"resources"`
	Recipes   []Recipe       `yaml:"recipes" json:"recipes"`
	Locations []LocationSpec `yaml:"locations" json:"locations"`
	Edges     []EdgeSpec     `yaml:"edges" json:"edges"`

	resources map[string]ResourceKind
	recipes   map[string]Recipe
	locations map[string]LocationSpec
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	c, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("default catalog: %w", err)
	}
	return c, nil
}

// Load reads a catalog file. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if c.BaseItem == "" {
		c.BaseItem = "grain"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks references and ranges, then builds the lookup indexes.
func (c *Catalog) Validate() error {
	c.resources = make(map[string]ResourceKind, len(c.Resources))
	for _, r := range c.Resources {
		if r.ID == "" {
			return fmt.Errorf("resource with empty id")
		}
		if _, dup := c.resources[r.ID]; dup {
			return fmt.Errorf("duplicate resource %q", r.ID)
		}
		if r.BaseValue < 0 || r.RegenRate < 0 || r.StackSize < 0 || r.FoodValue < 0 {
			return fmt.Errorf("resource %q: values must be non-negative", r.ID)
		}
		if r.DecayRate < 0 || r.DecayRate >= 1 {
			return fmt.Errorf("resource %q: decay_rate must be in [0,1)", r.ID)
		}
		c.resources[r.ID] = r
	}
	if _, ok := c.resources[c.BaseItem]; !ok {
		return fmt.Errorf("base_item %q is not a resource", c.BaseItem)
	}

	c.recipes = make(map[string]Recipe, len(c.Recipes))
	for _, r := range c.Recipes {
		if _, dup := c.recipes[r.ID]; dup {
			return fmt.Errorf("duplicate recipe %q", r.ID)
		}
		if len(r.Outputs) == 0 {
			return fmt.Errorf("recipe %q: no outputs", r.ID)
		}
		for item, q := range r.Inputs {
			if err := c.checkItem(item, q); err != nil {
				return fmt.Errorf("recipe %q input: %w", r.ID, err)
			}
		}
		for item, q := range r.Outputs {
			if err := c.checkItem(item, q); err != nil {
				return fmt.Errorf("recipe %q output: %w", r.ID, err)
			}
		}
		for _, tool := range r.ToolRequirements {
			if _, ok := c.resources[tool]; !ok {
				return fmt.Errorf("recipe %q: unknown tool %q", r.ID, tool)
			}
		}
		for skill, bonus := range r.SkillBonuses {
			// Negative bonuses would make efficiency fall with skill.
			if bonus < 0 {
				return fmt.Errorf("recipe %q: negative bonus for %q", r.ID, skill)
			}
		}
		c.recipes[r.ID] = r
	}

	c.locations = make(map[string]LocationSpec, len(c.Locations))
	for _, l := range c.Locations {
		if l.ID == "" {
			return fmt.Errorf("location with empty id")
		}
		if _, dup := c.locations[l.ID]; dup {
			return fmt.Errorf("duplicate location %q", l.ID)
		}
		if l.AccessCost <= 0 {
			return fmt.Errorf("location %q: access_cost must be positive", l.ID)
		}
		for item, s := range l.Resources {
			kind, ok := c.resources[item]
			if !ok {
				return fmt.Errorf("location %q: unknown resource %q", l.ID, item)
			}
			if s.Cap == 0 {
				s.Cap = kind.StackSize
				l.Resources[item] = s
			}
			if s.Cap <= 0 {
				return fmt.Errorf("location %q: %s needs a positive cap or stack_size", l.ID, item)
			}
			if s.Initial != nil && (*s.Initial < 0 || *s.Initial > s.Cap) {
				return fmt.Errorf("location %q: %s initial outside [0,cap]", l.ID, item)
			}
		}
		c.locations[l.ID] = l
	}
	if len(c.locations) == 0 {
		return fmt.Errorf("catalog has no locations")
	}

	for _, e := range c.Edges {
		if e.From == e.To {
			return fmt.Errorf("edge %s->%s is a self-loop", e.From, e.To)
		}
		if _, ok := c.locations[e.From]; !ok {
			return fmt.Errorf("edge from unknown location %q", e.From)
		}
		if _, ok := c.locations[e.To]; !ok {
			return fmt.Errorf("edge to unknown location %q", e.To)
		}
		if e.Distance <= 0 || e.Difficulty <= 0 {
			return fmt.Errorf("edge %s->%s: distance and difficulty must be positive", e.From, e.To)
		}
	}
	return nil
}

func (c *Catalog) checkItem(id string, qty float64) error {
	if _, ok := c.resources[id]; !ok {
		return simerr.NotFound("unknown resource %q", id)
	}
	if qty <= 0 {
		return simerr.Validation("%s: quantity must be positive", id)
	}
	return nil
}

// Resource looks up a kind by id.
func (c *Catalog) Resource(id string) (ResourceKind, bool) {
	r, ok := c.resources[id]
	return r, ok
}

// Recipe looks up a recipe by id.
func (c *Catalog) Recipe(id string) (Recipe, bool) {
	r, ok := c.recipes[id]
	return r, ok
}

// Location looks up a location spec by id.
func (c *Catalog) Location(id string) (LocationSpec, bool) {
	l, ok := c.locations[id]
	return l, ok
}

// HasItems reports whether every key of items is a known resource.
func (c *Catalog) HasItems(items map[string]float64) error {
	for _, id := range SortedKeys(items) {
		if err := c.checkItem(id, items[id]); err != nil {
			return err
		}
	}
	return nil
}

// Value prices a bundle at base values.
func (c *Catalog) Value(items map[string]float64) float64 {
	var total float64
	for _, id := range SortedKeys(items) {
		total += items[id] * c.resources[id].BaseValue
	}
	return total
}

// Efficiency returns 1 + sum(level * bonus) over the recipe's bonus skills.
// It never decreases as a skill level rises.
func (r Recipe) Efficiency(levels map[string]int) float64 {
	eff := 1.0
	for _, skill := range SortedKeys(r.SkillBonuses) {
		eff += float64(levels[skill]) * r.SkillBonuses[skill]
	}
	return eff
}

// Produced scales a base output amount by efficiency, at least one unit.
func (r Recipe) Produced(base float64, levels map[string]int) float64 {
	return math.Max(1, math.Floor(base*r.Efficiency(levels)))
}

// SortedKeys returns map keys in ascending order for deterministic loops.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
