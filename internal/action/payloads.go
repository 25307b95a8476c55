package action

import (
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/catalog"
	"github.com/talgya/agora/internal/simerr"
)

// MaxMessageLength bounds MESSAGE content.
const MaxMessageLength = 500

// Move travels along an edge.
type Move struct {
	Destination string `json:"destination"`
}

func (*Move) Kind() Kind { return KindMove }
func (*Move) sealed()    {}

func (p *Move) Validate() error {
	if p.Destination == "" {
		return simerr.Validation("destination is required")
	}
	return nil
}

// Harvest gathers a resource at the agent's location.
type Harvest struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

func (*Harvest) Kind() Kind { return KindHarvest }
func (*Harvest) sealed()    {}

func (p *Harvest) Validate() error {
	if p.Resource == "" {
		return simerr.Validation("resource is required")
	}
	if p.Amount <= 0 {
		return simerr.Validation("amount must be positive")
	}
	return nil
}

// Craft runs a recipe Batches times.
type Craft struct {
	Recipe  string `json:"recipe"`
	Batches int    `json:"batches,omitempty"`
}

func (*Craft) Kind() Kind { return KindCraft }
func (*Craft) sealed()    {}

func (p *Craft) Validate() error {
	if p.Recipe == "" {
		return simerr.Validation("recipe is required")
	}
	if p.Batches < 0 {
		return simerr.Validation("batches must not be negative")
	}
	return nil
}

// Count returns the number of batches, at least one.
func (p *Craft) Count() int {
	if p.Batches < 1 {
		return 1
	}
	return p.Batches
}

// Party names a side of a trade proposal.
type Party string

const (
	PartyProposer Party = "proposer"
	PartyTarget   Party = "target"
)

// ObligationTerm is a deferred delivery promised as part of a trade.
type ObligationTerm struct {
	Obligor Party              `json:"obligor"`
	Items   map[string]float64 `json:"items"`
	DueIn   uint64             `json:"due_in"` // ticks after acceptance
}

// TradeProposal offers items to a co-located agent in exchange for others.
// Obligations, when present, turn the accepted trade into a contract.
// CounterOf answers a pending proposal addressed to the sender with new
// terms.
type TradeProposal struct {
	Target      agents.AgentID     `json:"target"`
	Offered     map[string]float64 `json:"offered,omitempty"`
	Requested   map[string]float64 `json:"requested,omitempty"`
	Obligations []ObligationTerm   `json:"obligations,omitempty"`
	CounterOf   uint64             `json:"counter_of,omitempty"`
}

func (*TradeProposal) Kind() Kind { return KindTradeProposal }
func (*TradeProposal) sealed()    {}

func (p *TradeProposal) Validate() error {
	if p.Target == 0 {
		return simerr.Validation("target is required")
	}
	if len(p.Offered) == 0 && len(p.Requested) == 0 && len(p.Obligations) == 0 {
		return simerr.Validation("trade must include offered, requested or obligated items")
	}
	if err := positive("offered", p.Offered); err != nil {
		return err
	}
	if err := positive("requested", p.Requested); err != nil {
		return err
	}
	for _, o := range p.Obligations {
		if o.Obligor != PartyProposer && o.Obligor != PartyTarget {
			return simerr.Validation("obligor must be proposer or target")
		}
		if len(o.Items) == 0 {
			return simerr.Validation("obligation without items")
		}
		if err := positive("obligation", o.Items); err != nil {
			return err
		}
	}
	return nil
}

func positive(label string, items map[string]float64) error {
	for _, item := range catalog.SortedKeys(items) {
		if items[item] <= 0 {
			return simerr.Validation("%s quantity of %s must be positive", label, item)
		}
	}
	return nil
}

// AcceptTrade answers a pending proposal. Decline rejects it; a proposer
// declining its own proposal cancels it.
type AcceptTrade struct {
	ProposalID uint64 `json:"proposal_id"`
	Decline    bool   `json:"decline,omitempty"`
}

func (*AcceptTrade) Kind() Kind { return KindAcceptTrade }
func (*AcceptTrade) sealed()    {}

func (p *AcceptTrade) Validate() error {
	if p.ProposalID == 0 {
		return simerr.Validation("proposal_id is required")
	}
	return nil
}

// Channels a MESSAGE can be sent on.
const (
	ChannelDirect   = "direct"
	ChannelLocation = "location"
	ChannelGlobal   = "global"
)

// Message sends text to another agent, a location or everyone.
type Message struct {
	Channel   string         `json:"channel"`
	Recipient agents.AgentID `json:"recipient,omitempty"`
	Content   string         `json:"content"`
}

func (*Message) Kind() Kind { return KindMessage }
func (*Message) sealed()    {}

func (p *Message) Validate() error {
	switch p.Channel {
	case ChannelDirect:
		if p.Recipient == 0 {
			return simerr.Validation("recipient is required for direct messages")
		}
	case ChannelLocation, ChannelGlobal:
	default:
		return simerr.Validation("unknown channel %q", p.Channel)
	}
	if p.Content == "" {
		return simerr.Validation("content is required")
	}
	if len(p.Content) > MaxMessageLength {
		return simerr.Validation("content longer than %d bytes", MaxMessageLength)
	}
	return nil
}

// GroupOp names a group sub-action.
type GroupOp string

const (
	OpForm        GroupOp = "FORM"
	OpJoin        GroupOp = "JOIN"
	OpApprove     GroupOp = "APPROVE"
	OpLeave       GroupOp = "LEAVE"
	OpKick        GroupOp = "KICK"
	OpPromote     GroupOp = "PROMOTE"
	OpContribute  GroupOp = "CONTRIBUTE"
	OpWithdraw    GroupOp = "WITHDRAW"
	OpProposeRule GroupOp = "PROPOSE_RULE"
	OpVote        GroupOp = "VOTE"
	OpVeto        GroupOp = "VETO"
	OpDissolve    GroupOp = "DISSOLVE"
)

// RuleSpec is the rule carried by a PROPOSE_RULE.
type RuleSpec struct {
	Kind      string  `json:"kind"`
	Text      string  `json:"text,omitempty"`
	Resource  string  `json:"resource,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Open      bool    `json:"open,omitempty"`
	Threshold string  `json:"threshold,omitempty"`
}

// Group performs one group or governance operation.
type Group struct {
	Op         GroupOp            `json:"op"`
	GroupID    uint64             `json:"group_id,omitempty"`
	GroupType  string             `json:"group_type,omitempty"`
	Name       string             `json:"name,omitempty"`
	Member     agents.AgentID     `json:"member,omitempty"`
	Items      map[string]float64 `json:"items,omitempty"`
	ProposalID uint64             `json:"proposal_id,omitempty"`
	Vote       string             `json:"vote,omitempty"`
	Rule       *RuleSpec          `json:"rule,omitempty"`
	Threshold  string             `json:"threshold,omitempty"`
}

func (*Group) Kind() Kind { return KindGroup }
func (*Group) sealed()    {}

func (p *Group) Validate() error {
	if p.Op != OpForm && p.GroupID == 0 {
		return simerr.Validation("group_id is required for %s", p.Op)
	}
	switch p.Op {
	case OpForm:
		if p.GroupType == "" {
			return simerr.Validation("group_type is required")
		}
	case OpJoin, OpLeave, OpDissolve:
	case OpApprove, OpKick, OpPromote:
		if p.Member == 0 {
			return simerr.Validation("member is required for %s", p.Op)
		}
	case OpContribute, OpWithdraw:
		if len(p.Items) == 0 {
			return simerr.Validation("items are required for %s", p.Op)
		}
		return positive(string(p.Op), p.Items)
	case OpProposeRule:
		if p.Rule == nil || p.Rule.Kind == "" {
			return simerr.Validation("rule with kind is required")
		}
	case OpVote:
		if p.ProposalID == 0 {
			return simerr.Validation("proposal_id is required")
		}
		switch p.Vote {
		case "yes", "no", "abstain":
		default:
			return simerr.Validation("vote must be yes, no or abstain")
		}
	case OpVeto:
		if p.ProposalID == 0 {
			return simerr.Validation("proposal_id is required")
		}
	default:
		return simerr.Validation("unknown group op %q", p.Op)
	}
	return nil
}

// IdleAction does nothing.
type IdleAction struct {
	Reason string `json:"reason,omitempty"`
}

func (*IdleAction) Kind() Kind      { return KindIdle }
func (*IdleAction) sealed()         {}
func (*IdleAction) Validate() error { return nil }
