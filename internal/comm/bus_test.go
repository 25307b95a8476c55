package comm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/agents"
	"github.com/talgya/agora/internal/simerr"
)

func TestDeliverSkipsSender(t *testing.T) {
	b := NewBus(0)
	m, err := b.Deliver(Message{Tick: 1, From: 1, Channel: "global", Content: "hi"}, []agents.AgentID{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
	assert.Empty(t, b.Inbox(1, 0))
	assert.Len(t, b.Inbox(2, 0), 1)
	assert.Len(t, b.Inbox(3, 0), 1)
	assert.Equal(t, 1, b.Sent())

	_, err = b.Deliver(Message{From: 1}, []agents.AgentID{2})
	assert.ErrorIs(t, err, simerr.ErrValidation)
}

func TestInboxIsCapped(t *testing.T) {
	b := NewBus(3)
	for i := 0; i < 5; i++ {
		_, err := b.Deliver(Message{Tick: uint64(i), From: 1, Content: fmt.Sprint(i)}, []agents.AgentID{2})
		require.NoError(t, err)
	}
	box := b.Inbox(2, 0)
	require.Len(t, box, 3)
	assert.Equal(t, "2", box[0].Content)
	assert.Equal(t, "4", box[2].Content)
	assert.Len(t, b.Inbox(2, 4), 1)
}

func TestBusRestore(t *testing.T) {
	b := NewBus(0)
	_, err := b.Deliver(Message{Tick: 1, From: 1, Content: "x"}, []agents.AgentID{2})
	require.NoError(t, err)

	other := NewBus(0)
	other.Restore(b.State())
	assert.Equal(t, b.Inbox(2, 0), other.Inbox(2, 0))
	m, err := other.Deliver(Message{Tick: 2, From: 2, Content: "y"}, []agents.AgentID{1})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.ID)
}
