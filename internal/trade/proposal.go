// Package trade implements direct barter between co-located agents: intent
// is recorded without escrow and holdings are re-checked on acceptance.
package trade

import (
	"github.com/talgya/agora/internal/action"
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
)

// Status is the lifecycle state of a proposal. Only Pending has outgoing
// transitions.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool { return s != StatusPending }

// Proposal is a recorded trade intent.
type Proposal struct {
	ID           uint64                  `json:"id"`
	Proposer     agents.AgentID          `json:"proposer"`
	Target       agents.AgentID          `json:"target"`
	Offered      map[string]float64      `json:"offered,omitempty"`
	Requested    map[string]float64      `json:"requested,omitempty"`
	Obligations  []action.ObligationTerm `json:"obligations,omitempty"`
	CreatedTick  uint64                  `json:"created_tick"`
	ResolvedTick uint64                  `json:"resolved_tick,omitempty"`
	Status       Status                  `json:"status"`
	Reason       string                  `json:"reason,omitempty"`
	CounterOf    uint64                  `json:"counter_of,omitempty"`
}

// Involves reports whether id is a party of the proposal.
func (p *Proposal) Involves(id agents.AgentID) bool {
	return p.Proposer == id || p.Target == id
}

func (p *Proposal) clone() Proposal {
	cp := *p
	cp.Offered = copyItems(p.Offered)
	cp.Requested = copyItems(p.Requested)
	cp.Obligations = copyTerms(p.Obligations)
	return cp
}

func copyTerms(terms []action.ObligationTerm) []action.ObligationTerm {
	if terms == nil {
		return nil
	}
	out := make([]action.ObligationTerm, len(terms))
	for i, o := range terms {
		o.Items = copyItems(o.Items)
		out[i] = o
	}
	return out
}

// LedgerEntry records one completed exchange. The ledger is append-only.
type LedgerEntry struct {
	Seq        uint64             `json:"seq"`
	Tick       uint64             `json:"tick"`
	ProposalID uint64             `json:"proposal_id"`
	Proposer   agents.AgentID     `json:"proposer"`
	Target     agents.AgentID     `json:"target"`
	Gave       map[string]float64 `json:"gave"`     // proposer -> target
	Received   map[string]float64 `json:"received"` // target -> proposer

	// Reputation actually applied to each party, after clamping.
	ProposerReputation float64 `json:"proposer_rep_delta"`
	TargetReputation   float64 `json:"target_rep_delta"`
}

// Items returns every item kind exchanged, sorted.
func (e LedgerEntry) Items() []string {
	seen := make(map[string]bool)
	for k := range e.Gave {
		seen[k] = true
	}
	for k := range e.Received {
		seen[k] = true
	}
	return catalog.SortedKeys(seen)
}

func copyItems(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
