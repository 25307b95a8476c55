package action

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/simerr"
)

func newDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	require.NoError(t, err)
	return d
}

func TestDecodeEveryKind(t *testing.T) {
	d := newDecoder(t)
	docs := map[Kind]string{
		KindMove:          `{"type":"MOVE","agent_id":1,"payload":{"destination":"forest"}}`,
		KindHarvest:       `{"type":"HARVEST","agent_id":1,"payload":{"resource":"grain","amount":5}}`,
		KindCraft:         `{"type":"CRAFT","agent_id":1,"payload":{"recipe":"bake_bread","batches":2}}`,
		KindTradeProposal: `{"type":"TRADE_PROPOSAL","agent_id":1,"payload":{"target":2,"offered":{"grain":3},"requested":{"stone":1}}}`,
		KindAcceptTrade:   `{"type":"ACCEPT_TRADE","agent_id":2,"payload":{"proposal_id":7}}`,
		KindMessage:       `{"type":"MESSAGE","agent_id":1,"payload":{"channel":"global","content":"hello"}}`,
		KindGroup:         `{"type":"GROUP_ACTION","agent_id":1,"payload":{"op":"FORM","group_type":"guild","name":"Millers"}}`,
		KindIdle:          `{"type":"IDLE","agent_id":1,"reasoning":"resting"}`,
	}
	for kind, doc := range docs {
		a, err := d.Decode([]byte(doc))
		require.NoError(t, err, kind)
		assert.Equal(t, kind, a.Kind())
	}
}

func TestDecodeTypedPayloads(t *testing.T) {
	d := newDecoder(t)
	a, err := d.Decode([]byte(`{"type":"TRADE_PROPOSAL","agent_id":1,"payload":{
		"target":2,"offered":{"grain":3},
		"obligations":[{"obligor":"target","items":{"stone":2},"due_in":5}]}}`))
	require.NoError(t, err)

	p, ok := a.Payload.(*TradeProposal)
	require.True(t, ok)
	assert.Equal(t, 3.0, p.Offered["grain"])
	require.Len(t, p.Obligations, 1)
	assert.Equal(t, PartyTarget, p.Obligations[0].Obligor)
	assert.Equal(t, uint64(5), p.Obligations[0].DueIn)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	d := newDecoder(t)
	bad := []string{
		`not json`,
		`{"type":"FLY","agent_id":1}`,
		`{"type":"MOVE","agent_id":0,"payload":{"destination":"x"}}`,
		`{"type":"MOVE","agent_id":1}`,
		`{"type":"HARVEST","agent_id":1,"payload":{"resource":"grain","amount":-2}}`,
		`{"type":"HARVEST","agent_id":1,"payload":{"resource":"grain","amount":2,"extra":true}}`,
		`{"type":"TRADE_PROPOSAL","agent_id":1,"payload":{"target":1,"offered":{"grain":1}}}`,
		`{"type":"TRADE_PROPOSAL","agent_id":1,"payload":{"target":2}}`,
		`{"type":"MESSAGE","agent_id":1,"payload":{"channel":"direct","content":"hi"}}`,
		`{"type":"GROUP_ACTION","agent_id":1,"payload":{"op":"VOTE","group_id":1,"proposal_id":1,"vote":"maybe"}}`,
		`{"type":"GROUP_ACTION","agent_id":1,"payload":{"op":"JOIN"}}`,
	}
	for _, doc := range bad {
		_, err := d.Decode([]byte(doc))
		assert.ErrorIs(t, err, simerr.ErrValidation, doc)
	}
}

func TestDecodeBatch(t *testing.T) {
	d := newDecoder(t)
	list, err := d.DecodeBatch([]byte(`[
		{"type":"IDLE","agent_id":1},
		{"type":"MOVE","agent_id":2,"payload":{"destination":"river"}}]`))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = d.DecodeBatch([]byte(`[{"type":"IDLE","agent_id":1},{"type":"MOVE","agent_id":2}]`))
	assert.Error(t, err)
}

func TestMarshalRoundTripKeepsKind(t *testing.T) {
	a := Action{AgentID: 4, Reasoning: "need wood", Payload: &Harvest{Resource: "wood", Amount: 3}}
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"HARVEST","agent_id":4,"reasoning":"need wood","payload":{"resource":"wood","amount":3}}`, string(raw))

	var back Action
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, a, back)
}

func TestIdleAndNilPayload(t *testing.T) {
	assert.Equal(t, KindIdle, Action{AgentID: 1}.Kind())
	idle := Idle(3, "timeout")
	assert.Equal(t, KindIdle, idle.Kind())
	assert.NoError(t, idle.Validate())
}

func TestCraftCountDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, (&Craft{Recipe: "x"}).Count())
	assert.Equal(t, 3, (&Craft{Recipe: "x", Batches: 3}).Count())
}
