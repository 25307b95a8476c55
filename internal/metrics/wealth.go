package metrics

import (
	"math"
	"sort"

	"github.com/talgya/agora/internal/agents"
)

// Wealth summarises the distribution of agent wealth.
type Wealth struct {
	Total         float64 `json:"total"`
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	Gini          float64 `json:"gini"`
	Top10Share    float64 `json:"top10_share"`
	Bottom50Share float64 `json:"bottom50_share"`
	Mobility      float64 `json:"mobility"`
}

// Gini returns the Gini coefficient of values: 0 when all are equal,
// approaching 1 as one holder owns everything.
func Gini(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum <= 0 {
		return 0
	}
	g := 2*weighted/(float64(n)*sum) - float64(n+1)/float64(n)
	return math.Max(0, math.Min(1, g))
}

// Shares returns the fraction of total wealth held by the richest tenth
// (at least one agent) and the poorest half.
func Shares(values []float64) (top10, bottom50 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	if sum <= 0 {
		return 0, 0
	}
	topK := n / 10
	if topK < 1 {
		topK = 1
	}
	for _, v := range sorted[n-topK:] {
		top10 += v
	}
	for _, v := range sorted[:n/2] {
		bottom50 += v
	}
	return top10 / sum, bottom50 / sum
}

// Ranks orders agents richest first; ties go to the lower id.
func Ranks(wealth map[agents.AgentID]float64) map[agents.AgentID]int {
	ids := make([]agents.AgentID, 0, len(wealth))
	for id := range wealth {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if wealth[ids[i]] != wealth[ids[j]] {
			return wealth[ids[i]] > wealth[ids[j]]
		}
		return ids[i] < ids[j]
	})
	out := make(map[agents.AgentID]int, len(ids))
	for rank, id := range ids {
		out[id] = rank
	}
	return out
}

// Mobility is the mean absolute rank change between two rankings over the
// agents present in both, scaled by n-1 into [0,1].
func Mobility(prev, cur map[agents.AgentID]int) float64 {
	if len(prev) == 0 || len(cur) < 2 {
		return 0
	}
	var moved float64
	var n int
	for id, r := range cur {
		p, ok := prev[id]
		if !ok {
			continue
		}
		moved += math.Abs(float64(r - p))
		n++
	}
	if n == 0 {
		return 0
	}
	return moved / float64(n) / float64(len(cur)-1)
}

func computeWealth(values map[agents.AgentID]float64, prevRanks map[agents.AgentID]int) (Wealth, map[agents.AgentID]int) {
	ids := make([]agents.AgentID, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	list := make([]float64, len(ids))
	for i, id := range ids {
		list[i] = values[id]
	}

	var w Wealth
	for _, v := range list {
		w.Total += v
	}
	if n := len(list); n > 0 {
		w.Mean = w.Total / float64(n)
		sorted := append([]float64(nil), list...)
		sort.Float64s(sorted)
		if n%2 == 1 {
			w.Median = sorted[n/2]
		} else {
			w.Median = (sorted[n/2-1] + sorted[n/2]) / 2
		}
	}
	w.Gini = Gini(list)
	w.Top10Share, w.Bottom50Share = Shares(list)
	ranks := Ranks(values)
	w.Mobility = Mobility(prevRanks, ranks)
	return w, ranks
}
