// Package comm carries agent messages. Messages are information only; they
// never move goods or change reputation.
package comm

import (
	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/simerr"
)

// DefaultInboxCap bounds each agent's inbox; the oldest messages fall out.
const DefaultInboxCap = 100

// Message is one delivered note.
type Message struct {
	ID       uint64         `json:"id"`
	Tick     uint64         `json:"tick"`
	From     agents.AgentID `json:"from"`
	Channel  string         `json:"channel"`
	To       agents.AgentID `json:"to,omitempty"`
	Location string         `json:"location,omitempty"`
	Content  string         `json:"content"`
}

// Bus stores per-agent inboxes.
type Bus struct {
	cap    int
	nextID uint64
	inbox  map[agents.AgentID][]Message
	sent   int
}

// NewBus creates a bus. inboxCap <= 0 selects DefaultInboxCap.
func NewBus(inboxCap int) *Bus {
	if inboxCap <= 0 {
		inboxCap = DefaultInboxCap
	}
	return &Bus{cap: inboxCap, nextID: 1, inbox: make(map[agents.AgentID][]Message)}
}

// Deliver stamps m with an id and appends it to every recipient's inbox
// except the sender's. It returns the stamped message.
func (b *Bus) Deliver(m Message, recipients []agents.AgentID) (Message, error) {
	if m.Content == "" {
		return Message{}, simerr.Validation("empty message")
	}
	m.ID = b.nextID
	b.nextID++
	b.sent++
	for _, id := range recipients {
		if id == m.From {
			continue
		}
		box := append(b.inbox[id], m)
		if len(box) > b.cap {
			box = append([]Message(nil), box[len(box)-b.cap:]...)
		}
		b.inbox[id] = box
	}
	return m, nil
}

// Inbox returns agent's messages from sinceTick on, oldest first.
func (b *Bus) Inbox(agent agents.AgentID, sinceTick uint64) []Message {
	var out []Message
	for _, m := range b.inbox[agent] {
		if m.Tick >= sinceTick {
			out = append(out, m)
		}
	}
	return out
}

// Sent returns the number of messages delivered so far.
func (b *Bus) Sent() int { return b.sent }

// State is the serialisable form of the bus.
type State struct {
	NextID uint64                       `json:"next_id"`
	Sent   int                          `json:"sent"`
	Inbox  map[agents.AgentID][]Message `json:"inbox"`
}

// State captures every inbox.
func (b *Bus) State() State {
	inbox := make(map[agents.AgentID][]Message, len(b.inbox))
	for id, box := range b.inbox {
		inbox[id] = append([]Message(nil), box...)
	}
	return State{NextID: b.nextID, Sent: b.sent, Inbox: inbox}
}

// Restore replaces every inbox.
func (b *Bus) Restore(s State) {
	b.nextID = s.NextID
	b.sent = s.Sent
	b.inbox = make(map[agents.AgentID][]Message, len(s.Inbox))
	for id, box := range s.Inbox {
		b.inbox[id] = append([]Message(nil), box...)
	}
}
