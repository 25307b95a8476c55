package trade

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/agora/internal/agents"
)

func entry(seq uint64, gave, received map[string]float64) LedgerEntry {
	return LedgerEntry{Seq: seq, Proposer: 1, Target: agents.AgentID(2), Gave: gave, Received: received}
}

func TestStatWeightedMeanAndVariance(t *testing.T) {
	var s Stat
	s.Add(2, 1, 1)
	s.Add(4, 1, 2)
	s.Add(6, 2, 3)
	// Weighted mean (2 + 4 + 12) / 4.
	assert.InDelta(t, 4.5, s.Mean, 1e-12)
	// Weighted variance ((2-4.5)^2 + (4-4.5)^2 + 2*(6-4.5)^2) / 4.
	assert.InDelta(t, 2.75, s.Variance(), 1e-12)
	assert.Equal(t, 3, s.Count)

	s.Add(math.NaN(), 1, 4)
	assert.Equal(t, 3, s.Count, "NaN ignored")
}

func TestStatEWMAFollowsRecentValues(t *testing.T) {
	var s Stat
	s.Add(10, 1, 1)
	assert.Equal(t, 10.0, s.EWMA)
	for i := 0; i < 50; i++ {
		s.Add(20, 1, uint64(i+2))
	}
	assert.InDelta(t, 20, s.EWMA, 0.01)
	assert.Less(t, s.Mean, s.EWMA, "the long-run mean lags")
}

func TestPricesInferFromBaseItem(t *testing.T) {
	p := NewPrices("grain")
	p.Observe(entry(1, map[string]float64{"grain": 6}, map[string]float64{"wood": 2}))

	price, ok := p.Price("wood")
	require.True(t, ok)
	assert.InDelta(t, 3.0, price, 1e-9)

	rate, ok := p.Rate("wood", "grain")
	require.True(t, ok)
	assert.InDelta(t, 3.0, rate, 1e-9)
	rate, ok = p.Rate("grain", "wood")
	require.True(t, ok)
	assert.InDelta(t, 1.0/3, rate, 1e-9)

	base, ok := p.Price("grain")
	require.True(t, ok)
	assert.Equal(t, 1.0, base)

	_, ok = p.Price("gems")
	assert.False(t, ok)
}

func TestPricesChainThroughKnownItems(t *testing.T) {
	p := NewPrices("grain")
	p.Observe(entry(1, map[string]float64{"grain": 6}, map[string]float64{"wood": 2}))
	// 1 stone bought 2 wood, each worth 3 grain.
	p.Observe(entry(2, map[string]float64{"stone": 1}, map[string]float64{"wood": 2}))
	price, ok := p.Price("stone")
	require.True(t, ok)
	assert.InDelta(t, 6.0, price, 1e-9)
}

func TestVolatilityRisesWithDisagreement(t *testing.T) {
	calm, wild := NewPrices("grain"), NewPrices("grain")
	for i := uint64(1); i <= 10; i++ {
		calm.Observe(entry(i, map[string]float64{"grain": 3}, map[string]float64{"wood": 1}))
		q := 1.0
		if i%2 == 0 {
			q = 5
		}
		wild.Observe(entry(i, map[string]float64{"grain": q}, map[string]float64{"wood": 1}))
	}
	assert.Zero(t, calm.Volatility("wood"))
	assert.Greater(t, wild.Volatility("wood"), 0.1)
}

func TestEmergingCurrency(t *testing.T) {
	p := NewPrices("grain")
	for i := uint64(1); i <= 9; i++ {
		p.Observe(entry(i, map[string]float64{"rope": 1}, map[string]float64{fmt.Sprintf("item%d", i): 1}))
	}
	_, _, ok := p.EmergingCurrency()
	assert.False(t, ok, "below the minimum trade count")

	p.Observe(entry(10, map[string]float64{"rope": 1}, map[string]float64{"wood": 1}))
	item, share, ok := p.EmergingCurrency()
	require.True(t, ok)
	assert.Equal(t, "rope", item)
	assert.Equal(t, 1.0, share)

	flat := NewPrices("grain")
	for i := uint64(1); i <= 10; i++ {
		flat.Observe(entry(i, map[string]float64{fmt.Sprintf("a%d", i): 1}, map[string]float64{fmt.Sprintf("b%d", i): 1}))
	}
	_, _, ok = flat.EmergingCurrency()
	assert.False(t, ok)
}

func TestQuotesStartWithBase(t *testing.T) {
	p := NewPrices("grain")
	p.Observe(entry(1, map[string]float64{"grain": 4}, map[string]float64{"wood": 2, "stone": 2}))
	q := p.Quotes()
	require.Len(t, q, 3)
	assert.Equal(t, "grain", q[0].Item)
	assert.Equal(t, "stone", q[1].Item)
	assert.Equal(t, "wood", q[2].Item)
}
