package metrics

import (
	"math"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
)

// Profession is the role an agent's action history suggests.
type Profession string

const (
	ProfessionFarmer     Profession = "FARMER"
	ProfessionGatherer   Profession = "GATHERER"
	ProfessionCrafter    Profession = "CRAFTER"
	ProfessionTrader     Profession = "TRADER"
	ProfessionLeader     Profession = "LEADER"
	ProfessionGeneralist Profession = "GENERALIST"
	ProfessionIdle       Profession = "IDLE"
)

// Professions lists every classification in tie-break order.
var Professions = []Profession{
	ProfessionFarmer, ProfessionGatherer, ProfessionCrafter, ProfessionTrader,
	ProfessionLeader, ProfessionGeneralist, ProfessionIdle,
}

// Specialization summarises how concentrated agents' activity is.
type Specialization struct {
	Index       map[agents.AgentID]float64    `json:"index"`
	Mean        float64                       `json:"mean"`
	Professions map[agents.AgentID]Profession `json:"professions"`
	Counts      map[Profession]int            `json:"counts"`
	Diversity   float64                       `json:"diversity"` // Shannon entropy of professions, nats
}

// HHI returns the Herfindahl index of counts over the action kinds,
// normalised to [0,1]: 0 for an even spread, 1 for a single kind.
func HHI(counts map[string]int) float64 {
	k := float64(len(action.Kinds))
	var total float64
	for _, kind := range action.Kinds {
		total += float64(counts[string(kind)])
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, kind := range action.Kinds {
		p := float64(counts[string(kind)]) / total
		h += p * p
	}
	return math.Max(0, (h-1/k)/(1-1/k))
}

// Classify scores each profession from the action mix and picks the best.
// Ties resolve in the order of Professions; an agent that only moved is
// idle.
func Classify(cat *catalog.Catalog, a agents.Agent) Profession {
	var total float64
	for _, kind := range action.Kinds {
		total += float64(a.ActionCounts[string(kind)])
	}
	if total == 0 {
		return ProfessionIdle
	}
	share := func(kinds ...action.Kind) float64 {
		var n float64
		for _, k := range kinds {
			n += float64(a.ActionCounts[string(k)])
		}
		return n / total
	}
	harvest := share(action.KindHarvest)

	scores := map[Profession]float64{
		ProfessionGatherer: harvest * 1.2,
		ProfessionCrafter:  share(action.KindCraft) * 1.5,
		ProfessionTrader:   share(action.KindTradeProposal, action.KindAcceptTrade) * 2,
		ProfessionLeader:   share(action.KindGroup, action.KindMessage) * 1.5,
		ProfessionIdle:     share(action.KindIdle) * 0.5,
	}
	if foodFocused(cat, a.ResourceFocus) {
		scores[ProfessionFarmer] = harvest * 1.5
	}
	if generalist(a.ActionCounts, total) {
		scores[ProfessionGeneralist] = 0.3
	}

	best, bestScore := ProfessionIdle, 0.0
	for _, p := range Professions {
		if s, ok := scores[p]; ok && s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

// foodFocused reports whether more than half of harvested resources are
// edible.
func foodFocused(cat *catalog.Catalog, focus map[string]int) bool {
	var food, total int
	for _, id := range catalog.SortedKeys(focus) {
		kind, ok := cat.Resource(id)
		if !ok {
			continue
		}
		total += focus[id]
		if kind.Edible() {
			food += focus[id]
		}
	}
	return total > 0 && float64(food)/float64(total) > 0.5
}

// generalist: at least three kinds above 5% and none above 40%.
func generalist(counts map[string]int, total float64) bool {
	var spread int
	for _, kind := range action.Kinds {
		p := float64(counts[string(kind)]) / total
		if p > 0.4 {
			return false
		}
		if p > 0.05 {
			spread++
		}
	}
	return spread >= 3
}

func computeSpecialization(cat *catalog.Catalog, list []agents.Agent) Specialization {
	s := Specialization{
		Index:       make(map[agents.AgentID]float64, len(list)),
		Professions: make(map[agents.AgentID]Profession, len(list)),
		Counts:      make(map[Profession]int),
	}
	var sum float64
	for _, a := range list {
		idx := HHI(a.ActionCounts)
		s.Index[a.ID] = idx
		sum += idx
		p := Classify(cat, a)
		s.Professions[a.ID] = p
		s.Counts[p]++
	}
	if len(list) > 0 {
		s.Mean = sum / float64(len(list))
	}
	s.Diversity = Shannon(s.Counts)
	return s
}

// Shannon returns the entropy in nats of the profession distribution,
// summed in a fixed order.
func Shannon(counts map[Profession]int) float64 {
	var total float64
	for _, p := range Professions {
		total += float64(counts[p])
	}
	if total == 0 {
		return 0
	}
	var h float64
	for _, p := range Professions {
		if n := counts[p]; n > 0 {
			q := float64(n) / total
			h -= q * math.Log(q)
		}
	}
	return h
}
