// Agent spawning: creates the initial population with names, archetypes,
// starting skills and a starting location, deterministically from a seed.
package agents

import (
	"fmt"
	"math/rand"
)

var givenNames = []string{
	"Ada", "Basil", "Cora", "Dmitri", "Elin", "Farid", "Greta", "Hugo",
	"Iris", "Jonah", "Kaya", "Lior", "Mira", "Nico", "Opal", "Pavel",
	"Quinn", "Rosa", "Silas", "Tova", "Uma", "Viktor", "Wren", "Yusuf",
}

// starting skill per archetype, level 1
var archetypeSkill = map[string]string{
	ArchFarmer:     "harvesting",
	ArchCrafter:    "smithing",
	ArchGatherer:   "harvesting",
	ArchSpecialist: "jewelcraft",
	ArchCooperator: "cooking",
}

// Spawner creates agents for a run.
type Spawner struct {
	rng    *rand.Rand
	nextID AgentID
}

// NewSpawner creates an agent spawner with the given seed.
func NewSpawner(seed int64) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnPopulation creates count agents spread over the given locations.
// Archetypes rotate so every template is represented in small runs.
func (s *Spawner) SpawnPopulation(count int, locations []string) []Agent {
	out := make([]Agent, 0, count)
	for i := 0; i < count; i++ {
		loc := locations[s.rng.Intn(len(locations))]
		out = append(out, s.spawnOne(Archetypes[i%len(Archetypes)], loc))
	}
	return out
}

func (s *Spawner) spawnOne(archetype, location string) Agent {
	id := s.nextID
	s.nextID++

	name := givenNames[int(id-1)%len(givenNames)]
	if round := int(id-1) / len(givenNames); round > 0 {
		name = fmt.Sprintf("%s %d", name, round+1)
	}

	skills := make(map[string]*Skill)
	if sk, ok := archetypeSkill[archetype]; ok {
		skills[sk] = &Skill{Level: 1, XP: XPPerLevel}
	}

	// Needs start mostly met; a little spread keeps agents out of lockstep.
	needs := DefaultNeeds()
	needs.Food = 80 + float64(s.rng.Intn(21))

	return Agent{
		ID:           id,
		Name:         name,
		Archetype:    archetype,
		LocationID:   location,
		Needs:        needs,
		Inventory:    map[string]float64{},
		Capacity:     DefaultCapacity,
		Skills:       skills,
		ActionCounts: map[string]int{},
	}
}
