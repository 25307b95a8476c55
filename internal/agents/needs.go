package agents

// Needs tracks the three needs every agent carries. All values range
// from 0 (unmet) to 100 (fully satisfied).
type Needs struct {
	Food       float64 `json:"food"`
	Shelter    float64 `json:"shelter"`
	Reputation float64 `json:"reputation"`
}

// DefaultNeeds are the values an agent starts with.
func DefaultNeeds() Needs {
	return Needs{Food: 100, Shelter: 100, Reputation: 50}
}

// NeedDecay holds the fixed per-tick loss of each decaying need.
// Reputation does not decay on its own.
type NeedDecay struct {
	Food    float64 `json:"food"`
	Shelter float64 `json:"shelter"`
}

// DefaultNeedDecay matches the stock lifecycle rates.
func DefaultNeedDecay() NeedDecay {
	return NeedDecay{Food: 1.0, Shelter: 0.5}
}

// Urgent reports the most pressing need below threshold, or "" if none.
// Food is checked before shelter: a hungry agent does not look for a roof.
func (n Needs) Urgent(threshold float64) string {
	if n.Food < threshold {
		return "food"
	}
	if n.Shelter < threshold {
		return "shelter"
	}
	return ""
}

func clampNeed(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
