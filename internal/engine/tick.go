// Package engine runs the tick pipeline of a simulation run:
// regen, collect, action, settle, decay, check, metrics, emit.
package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

// Phase is a point in the tick where hooks run.
type Phase int

const (
	// PhaseRegen runs before decisions are collected.
	PhaseRegen Phase = iota
	// PhaseDecay runs after actions and settlement.
	PhaseDecay
	// PhaseAfterTick runs after invariants are checked, before metrics.
	PhaseAfterTick
)

func (p Phase) String() string {
	switch p {
	case PhaseRegen:
		return "regen"
	case PhaseDecay:
		return "decay"
	case PhaseAfterTick:
		return "after_tick"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Hook is a lifecycle callback. Hooks run in registration order within
// their phase, under the tick's single writer. A hook error that is not
// recoverable terminates the run.
type Hook struct {
	Name  string
	Phase Phase
	Run   func(s *Simulation, tick uint64) error
}

// AddHook registers a hook after the built-in ones.
func (s *Simulation) AddHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Simulation) runHooks(phase Phase, tick uint64) error {
	for _, h := range s.hooks {
		if h.Phase != phase {
			continue
		}
		if err := h.Run(s, tick); err != nil {
			if !simerr.Recoverable(err) {
				return fmt.Errorf("hook %s: %w", h.Name, err)
			}
			s.logger.Warn("hook failed", "hook", h.Name, "phase", phase, "error", err)
		}
	}
	return nil
}

// defaultHooks are the stock world mechanics, in pipeline order.
func defaultHooks() []Hook {
	return []Hook{
		{Name: "regenerate", Phase: PhaseRegen, Run: regenerate},
		{Name: "need_decay", Phase: PhaseDecay, Run: needDecay},
		{Name: "eat", Phase: PhaseDecay, Run: eat},
		{Name: "shelter", Phase: PhaseDecay, Run: shelter},
		{Name: "inventory_decay", Phase: PhaseDecay, Run: inventoryDecay},
		{Name: "stability", Phase: PhaseAfterTick, Run: stability},
	}
}

func regenerate(s *Simulation, tick uint64) error {
	s.mass.Regenerated += s.world.Regenerate(tick)
	return nil
}

func needDecay(s *Simulation, _ uint64) error {
	for _, id := range s.agents.IDs() {
		if err := s.agents.ApplyNeedDecay(id); err != nil {
			return err
		}
	}
	return nil
}

// eat feeds hungry agents from their own inventory: the most nourishing
// edible item first, only as much as brings food back to full.
func eat(s *Simulation, _ uint64) error {
	for _, a := range s.agents.All() {
		if a.Needs.Food >= s.cfg.EatThreshold {
			continue
		}
		best, bestValue := "", 0.0
		for _, item := range catalog.SortedKeys(a.Inventory) {
			kind, ok := s.cat.Resource(item)
			if ok && kind.Edible() && kind.FoodValue > bestValue && a.Inventory[item] > 0 {
				best, bestValue = item, kind.FoodValue
			}
		}
		if best == "" {
			continue
		}
		qty := math.Min(a.Inventory[best], (100-a.Needs.Food)/bestValue)
		restored, err := s.agents.Consume(a.ID, best, qty)
		if err != nil {
			return err
		}
		s.mass.Eaten += qty
		s.emit(Event{
			Category: CategoryNeeds,
			Kind:     "EAT",
			Agent:    a.ID,
			Success:  true,
			Message:  fmt.Sprintf("ate %.2f %s, food +%.1f", qty, best, restored),
		})
	}
	return nil
}

func shelter(s *Simulation, _ uint64) error {
	for _, a := range s.agents.All() {
		loc, err := s.world.Location(a.LocationID)
		if err != nil {
			return err
		}
		if loc.ShelterQuality <= 0 {
			continue
		}
		if err := s.agents.RestoreShelter(a.ID, loc.ShelterQuality*s.cfg.ShelterRate); err != nil {
			return err
		}
	}
	return nil
}

func inventoryDecay(s *Simulation, _ uint64) error {
	for _, id := range s.agents.IDs() {
		lost, err := s.agents.ApplyInventoryDecay(id)
		if err != nil {
			return err
		}
		for _, item := range catalog.SortedKeys(lost) {
			s.mass.Decayed += lost[item]
		}
	}
	return nil
}

// stability warns about slow ticks and agents whose needs hit zero.
func stability(s *Simulation, tick uint64) error {
	if elapsed := time.Since(s.tickStart); s.cfg.SlowTick > 0 && elapsed > s.cfg.SlowTick {
		s.logger.Warn("slow tick", "tick", tick, "elapsed", elapsed)
	}
	critical := 0
	for _, a := range s.agents.All() {
		if a.Needs.Food <= 0 || a.Needs.Shelter <= 0 {
			critical++
		}
	}
	if critical > 0 {
		s.logger.Debug("agents with critical needs", "tick", tick, "count", critical)
	}
	return nil
}
