package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/metrics"
	"github.com/talgya/agora/internal/simerr"
)

// decision is one agent's collected action, or why it has none.
type decision struct {
	action action.Action
	// rejected is set when the source's answer failed the boundary
	// checks; the agent then does nothing this tick.
	rejected error
}

func errAlreadyQueued(id agents.AgentID) error {
	return simerr.Validation("agent %d already has a queued action", id)
}

// collect asks the source for every agent's action concurrently and
// returns them indexed like obs. Collection runs detached from ctx's
// cancellation so a run stopped mid-collection still finishes its tick;
// only the per-agent timeout cuts a decision short.
func (s *Simulation) collect(ctx context.Context, obs []Observation) []decision {
	out := make([]decision, len(obs))
	base := context.WithoutCancel(ctx)

	var g errgroup.Group
	if s.cfg.MaxConcurrent > 0 {
		g.SetLimit(s.cfg.MaxConcurrent)
	}
	for i := range obs {
		g.Go(func() error {
			out[i] = s.decide(base, obs[i])
			return nil
		})
	}
	_ = g.Wait() // workers never fail; failures become idles
	return out
}

func (s *Simulation) decide(base context.Context, obs Observation) decision {
	id := obs.Self.ID
	ctx, cancel := context.WithTimeout(base, s.cfg.DecisionTimeout)
	defer cancel()

	type result struct {
		a   action.Action
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("decision source panic: %v", r)}
			}
		}()
		a, err := s.source.Decide(ctx, obs)
		ch <- result{a, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	switch {
	case errors.Is(res.err, context.DeadlineExceeded):
		metrics.Inc(metrics.DecisionTimeouts)
		return decision{action: action.Idle(id, "timeout")}
	case res.err != nil:
		s.logger.Debug("decision failed", "agent", id, "error", res.err)
		return decision{action: action.Idle(id, "decision error")}
	}

	if res.a.Payload == nil && res.a.AgentID == 0 {
		return decision{action: action.Idle(id, "no action")}
	}
	if res.a.AgentID != id {
		return decision{action: action.Idle(id, ""), rejected: simerr.Validation("action for agent %d submitted in agent %d's turn", res.a.AgentID, id)}
	}
	if err := res.a.Validate(); err != nil {
		return decision{action: action.Idle(id, ""), rejected: err}
	}
	return decision{action: res.a}
}
