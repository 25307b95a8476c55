package agents

// Archetype constants: the behavioural templates agents are spawned with.
const (
	ArchFarmer      = "farmer"
	ArchTrader      = "trader"
	ArchCrafter     = "crafter"
	ArchGatherer    = "gatherer"
	ArchLeader      = "leader"
	ArchSpecialist  = "specialist"
	ArchCooperator  = "cooperator"
	ArchOpportunist = "opportunist"
)

// Archetypes lists every archetype in spawn rotation order.
var Archetypes = []string{
	ArchFarmer, ArchTrader, ArchCrafter, ArchGatherer,
	ArchLeader, ArchSpecialist, ArchCooperator, ArchOpportunist,
}

// BehaviorTemplate biases a scripted decision source. It never changes
// what the engine allows.
type BehaviorTemplate struct {
	// HungerThreshold is the food level below which eating-related work wins.
	HungerThreshold float64

	// Focus lists preferred resources, most preferred first.
	Focus []string

	// TradeBias, CraftBias and SocialBias are probabilities in [0,1].
	TradeBias  float64
	CraftBias  float64
	SocialBias float64

	// Roams makes the agent wander between locations when idle.
	Roams bool
}

var templates = map[string]BehaviorTemplate{
	ArchFarmer:      {HungerThreshold: 40, Focus: []string{"grain", "hay", "water"}, TradeBias: 0.15, CraftBias: 0.2},
	ArchTrader:      {HungerThreshold: 30, Focus: []string{"fish", "berries"}, TradeBias: 0.6, SocialBias: 0.1, Roams: true},
	ArchCrafter:     {HungerThreshold: 35, Focus: []string{"wood", "stone", "ore"}, TradeBias: 0.2, CraftBias: 0.6},
	ArchGatherer:    {HungerThreshold: 40, Focus: []string{"berries", "mushrooms", "wood"}, TradeBias: 0.1, Roams: true},
	ArchLeader:      {HungerThreshold: 30, Focus: []string{"grain"}, TradeBias: 0.2, SocialBias: 0.6},
	ArchSpecialist:  {HungerThreshold: 35, Focus: []string{"ore", "gems", "stone"}, CraftBias: 0.4},
	ArchCooperator:  {HungerThreshold: 40, Focus: []string{"grain", "fish"}, TradeBias: 0.3, SocialBias: 0.4},
	ArchOpportunist: {HungerThreshold: 25, Focus: []string{"gems", "fish", "wood"}, TradeBias: 0.4, Roams: true},
}

// Template returns the behaviour template of an archetype. Unknown
// archetypes fall back to the gatherer template.
func Template(archetype string) BehaviorTemplate {
	if t, ok := templates[archetype]; ok {
		return t
	}
	return templates[ArchGatherer]
}
