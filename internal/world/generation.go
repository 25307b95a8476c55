// World generation: builds the location graph from a catalog and seeds
// stocks that the catalog leaves unspecified from layered simplex noise.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/agora/internal/catalog"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Seed int64

	// Seeded stocks land in [MinFill, MaxFill] of the location cap.
	MinFill float64
	MaxFill float64
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:    42,
		MinFill: 0.3,
		MaxFill: 0.9,
	}
}

// Generate creates a world model with its initial stocks.
func Generate(cat *catalog.Catalog, cfg GenConfig) (*Model, error) {
	m, err := newModel(cat)
	if err != nil {
		return nil, err
	}

	// One noise field per purpose, offset by seed like independent layers.
	richness := opensimplex.NewNormalized(cfg.Seed)
	variety := opensimplex.NewNormalized(cfg.Seed + 1)

	for i, id := range m.order {
		spec, _ := cat.Location(id)
		loc := m.locations[id]

		// Spread locations on a circle so neighbours in catalog order sample
		// nearby noise.
		angle := 2 * math.Pi * float64(i) / float64(len(m.order))
		x, y := math.Cos(angle)*8, math.Sin(angle)*8

		base := octaveNoise(richness, x, y, 3, 0.15, 0.5)
		for j, item := range catalog.SortedKeys(spec.Resources) {
			s := spec.Resources[item]
			stock := &Stock{Cap: s.Cap}
			if s.Initial != nil {
				stock.Quantity = *s.Initial
			} else {
				n := base*0.7 + variety.Eval2(x+float64(j)*3.1, y-float64(j)*1.7)*0.3
				fill := cfg.MinFill + (cfg.MaxFill-cfg.MinFill)*clamp01(n)
				stock.Quantity = math.Round(s.Cap * fill)
			}
			loc.Stocks[item] = stock
		}
	}

	return m, nil
}

// octaveNoise sums several frequencies of noise into one [0,1] sample.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
