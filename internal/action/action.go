// Package action defines the Action value an agent submits each tick: a
// tagged union over eight kinds, each with its own payload struct.
package action

import (
	"encoding/json"
	"fmt"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/simerr"
)

// Kind tags an action.
type Kind string

const (
	KindMove          Kind = "MOVE"
	KindHarvest       Kind = "HARVEST"
	KindCraft         Kind = "CRAFT"
	KindTradeProposal Kind = "TRADE_PROPOSAL"
	KindAcceptTrade   Kind = "ACCEPT_TRADE"
	KindMessage       Kind = "MESSAGE"
	KindGroup         Kind = "GROUP_ACTION"
	KindIdle          Kind = "IDLE"
)

// Kinds lists every action kind.
var Kinds = []Kind{
	KindMove, KindHarvest, KindCraft, KindTradeProposal,
	KindAcceptTrade, KindMessage, KindGroup, KindIdle,
}

// Payload is implemented only by the payload structs of this package.
type Payload interface {
	Kind() Kind
	Validate() error
	sealed()
}

// Action is one agent's decision for one tick.
type Action struct {
	AgentID   agents.AgentID `json:"agent_id"`
	Reasoning string         `json:"reasoning,omitempty"`
	Payload   Payload        `json:"-"`
}

// Kind returns the payload's kind; a missing payload is IDLE.
func (a Action) Kind() Kind {
	if a.Payload == nil {
		return KindIdle
	}
	return a.Payload.Kind()
}

// Validate checks the action independently of world state.
func (a Action) Validate() error {
	if a.AgentID == 0 {
		return simerr.Validation("agent_id is required")
	}
	if a.Payload == nil {
		return nil
	}
	if p, ok := a.Payload.(*TradeProposal); ok && p.Target == a.AgentID {
		return simerr.Validation("cannot trade with self")
	}
	if err := a.Payload.Validate(); err != nil {
		return fmt.Errorf("%s: %w", a.Kind(), err)
	}
	return nil
}

// Idle builds an IDLE action.
func Idle(id agents.AgentID, reason string) Action {
	return Action{AgentID: id, Payload: &IdleAction{Reason: reason}}
}

type envelope struct {
	Type      Kind            `json:"type"`
	AgentID   agents.AgentID  `json:"agent_id"`
	Reasoning string          `json:"reasoning,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON encodes the action as {type, agent_id, reasoning, payload}.
func (a Action) MarshalJSON() ([]byte, error) {
	env := envelope{Type: a.Kind(), AgentID: a.AgentID, Reasoning: a.Reasoning}
	if a.Payload != nil {
		raw, err := json.Marshal(a.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and the payload named by type.
func (a *Action) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	p, err := newPayload(env.Type)
	if err != nil {
		return err
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, p); err != nil {
			return fmt.Errorf("%s payload: %w", env.Type, err)
		}
	}
	a.AgentID = env.AgentID
	a.Reasoning = env.Reasoning
	a.Payload = p
	return nil
}

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindMove:
		return &Move{}, nil
	case KindHarvest:
		return &Harvest{}, nil
	case KindCraft:
		return &Craft{}, nil
	case KindTradeProposal:
		return &TradeProposal{}, nil
	case KindAcceptTrade:
		return &AcceptTrade{}, nil
	case KindMessage:
		return &Message{}, nil
	case KindGroup:
		return &Group{}, nil
	case KindIdle, "":
		return &IdleAction{}, nil
	default:
		return nil, simerr.Validation("unknown action type %q", k)
	}
}
