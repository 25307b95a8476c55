package trade

import (
	"math"

	"github.com/talgya/agora/internal/catalog"
)

// ewmaAlpha weights the latest observation in the recency-biased estimate.
const ewmaAlpha = 0.2

// Emerging currency detection thresholds.
const (
	currencyShare     = 0.3
	currencyMinTrades = 10
)

// Stat is a running estimate updated in O(1) per observation. It keeps a
// weighted mean and variance (West's algorithm) alongside an exponentially
// weighted pair that follows recent trades.
type Stat struct {
	Count   int     `json:"count"`
	SumW    float64 `json:"sum_weight"`
	Mean    float64 `json:"mean"`
	m2      float64
	EWMA    float64 `json:"ewma"`
	EWVar   float64 `json:"ew_variance"`
	Last    float64 `json:"last"`
	LastSeq uint64  `json:"last_seq"`
}

// Add folds in value x with weight w.
func (s *Stat) Add(x, w float64, seq uint64) {
	if w <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return
	}
	s.SumW += w
	delta := x - s.Mean
	s.Mean += (w / s.SumW) * delta
	s.m2 += w * delta * (x - s.Mean)

	if s.Count == 0 {
		s.EWMA = x
		s.EWVar = 0
	} else {
		diff := x - s.EWMA
		incr := ewmaAlpha * diff
		s.EWMA += incr
		s.EWVar = (1 - ewmaAlpha) * (s.EWVar + diff*incr)
	}
	s.Count++
	s.Last = x
	s.LastSeq = seq
}

// Variance is the weighted population variance.
func (s *Stat) Variance() float64 {
	if s.SumW == 0 {
		return 0
	}
	return s.m2 / s.SumW
}

// Volatility is the coefficient of variation of the recent estimate.
func (s *Stat) Volatility() float64 {
	if s.EWMA == 0 {
		return 0
	}
	return math.Sqrt(s.EWVar) / s.EWMA
}

// Quote is the public view of one item's inferred price.
type Quote struct {
	Item       string  `json:"item"`
	Price      float64 `json:"price"`
	Mean       float64 `json:"mean"`
	Variance   float64 `json:"variance"`
	Volatility float64 `json:"volatility"`
	Trades     int     `json:"trades"`
}

// Prices infers exchange rates from completed trades. No price is ever
// imposed; everything here is observed.
type Prices struct {
	base   string
	items  map[string]*Stat
	pairs  map[[2]string]*Stat // units of pair[1] per unit of pair[0]
	seen   map[string]int      // trades an item appeared in
	trades int
}

// NewPrices creates an empty estimator denominated in base.
func NewPrices(base string) *Prices {
	return &Prices{
		base:  base,
		items: make(map[string]*Stat),
		pairs: make(map[[2]string]*Stat),
		seen:  make(map[string]int),
	}
}

// Base returns the unit of account used for prices.
func (p *Prices) Base() string { return p.base }

// Observe updates the estimates with one ledger entry. Each side is
// split across its items by quantity when implying rates.
func (p *Prices) Observe(e LedgerEntry) {
	p.trades++
	for _, item := range e.Items() {
		p.seen[item]++
	}
	if len(e.Gave) == 0 || len(e.Received) == 0 {
		return
	}
	p.observeSide(e.Gave, e.Received, e.Seq)
	p.observeSide(e.Received, e.Gave, e.Seq)
}

func (p *Prices) observeSide(give, get map[string]float64, seq uint64) {
	giveTotal := sum(give)
	for _, x := range catalog.SortedKeys(give) {
		qx := give[x]
		share := qx / giveTotal
		for _, y := range catalog.SortedKeys(get) {
			if x == y {
				continue
			}
			// x's share of this side bought share*qy of y.
			rate := share * get[y] / qx
			p.pair(x, y).Add(rate, qx, seq)
		}
		if x == p.base {
			continue
		}
		if value, ok := p.valueOf(get); ok {
			p.item(x).Add(share*value/qx, qx, seq)
		}
	}
}

// valueOf prices a bundle in base units using current estimates. It
// fails if any item has no estimate yet.
func (p *Prices) valueOf(items map[string]float64) (float64, bool) {
	var v float64
	for _, item := range catalog.SortedKeys(items) {
		price, ok := p.Price(item)
		if !ok {
			return 0, false
		}
		v += price * items[item]
	}
	return v, true
}

func (p *Prices) item(id string) *Stat {
	s, ok := p.items[id]
	if !ok {
		s = &Stat{}
		p.items[id] = s
	}
	return s
}

func (p *Prices) pair(a, b string) *Stat {
	k := [2]string{a, b}
	s, ok := p.pairs[k]
	if !ok {
		s = &Stat{}
		p.pairs[k] = s
	}
	return s
}

// Price returns the recent price of item in base units. The base item is
// always worth 1.
func (p *Prices) Price(item string) (float64, bool) {
	if item == p.base {
		return 1, true
	}
	s, ok := p.items[item]
	if !ok || s.Count == 0 {
		return 0, false
	}
	return s.EWMA, true
}

// Rate returns how many units of b one unit of a fetched recently.
func (p *Prices) Rate(a, b string) (float64, bool) {
	s, ok := p.pairs[[2]string{a, b}]
	if !ok || s.Count == 0 {
		return 0, false
	}
	return s.EWMA, true
}

// Volatility returns the relative dispersion of item's price.
func (p *Prices) Volatility(item string) float64 {
	s, ok := p.items[item]
	if !ok {
		return 0
	}
	return s.Volatility()
}

// Quotes lists every priced item, sorted by id.
func (p *Prices) Quotes() []Quote {
	out := []Quote{{Item: p.base, Price: 1, Mean: 1, Trades: p.seen[p.base]}}
	for _, id := range catalog.SortedKeys(p.items) {
		s := p.items[id]
		out = append(out, Quote{
			Item:       id,
			Price:      s.EWMA,
			Mean:       s.Mean,
			Variance:   s.Variance(),
			Volatility: s.Volatility(),
			Trades:     p.seen[id],
		})
	}
	return out
}

// Trades returns the number of observed trades.
func (p *Prices) Trades() int { return p.trades }

// EmergingCurrency returns the item most often present in trades when it
// appears in more than 30% of at least 10 trades. Ties go to the lower id.
func (p *Prices) EmergingCurrency() (string, float64, bool) {
	if p.trades < currencyMinTrades {
		return "", 0, false
	}
	best, bestN := "", 0
	for _, id := range catalog.SortedKeys(p.seen) {
		if n := p.seen[id]; n > bestN {
			best, bestN = id, n
		}
	}
	share := float64(bestN) / float64(p.trades)
	if share <= currencyShare {
		return "", share, false
	}
	return best, share, true
}

func sum(m map[string]float64) float64 {
	var t float64
	for _, k := range catalog.SortedKeys(m) {
		t += m[k]
	}
	return t
}

