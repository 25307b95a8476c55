package metrics

import "math"

// Institutions measures how much collective structure has formed.
type Institutions struct {
	ActiveGroups    int     `json:"active_groups"`
	AvgGroupSize    float64 `json:"avg_group_size"`
	PassRate        float64 `json:"proposal_pass_rate"`
	ActiveContracts int     `json:"active_contracts"`
	AvgTrust        float64 `json:"avg_trust"`
	Score           float64 `json:"score"`
}

// Score weights and saturation points.
const (
	weightGroups    = 0.3
	weightSize      = 0.2
	weightPassRate  = 0.3
	weightContracts = 0.2

	saturateGroups    = 10
	saturateSize      = 10
	saturateContracts = 20
)

// InstitutionScore is the weighted composite in [0,1]. Each count term
// saturates, so a handful of large institutions scores as well as many.
func InstitutionScore(groups int, avgSize, passRate float64, contracts int) float64 {
	return weightGroups*math.Min(1, float64(groups)/saturateGroups) +
		weightSize*math.Min(1, avgSize/saturateSize) +
		weightPassRate*math.Max(0, math.Min(1, passRate)) +
		weightContracts*math.Min(1, float64(contracts)/saturateContracts)
}
