package market

import "math"

// PriceLimitTable maps listing boards to their daily price-limit ratios.
// STSymbols lists instruments currently under special treatment (ST), which
// trade under the tighter ST tier regardless of board. Overrides pins a
// specific ratio for individual symbols and wins over every other rule.
type PriceLimitTable struct {
	Main      float64            `yaml:"main" json:"main"`
	ChiNext   float64            `yaml:"chinext" json:"chinext"`
	STAR      float64            `yaml:"star" json:"star"`
	ST        float64            `yaml:"st" json:"st"`
	STSymbols []string           `yaml:"st_symbols" json:"st_symbols,omitempty"`
	Overrides map[string]float64 `yaml:"overrides" json:"overrides,omitempty"`
}

// DefaultPriceLimitTable returns the standard A-share tiers:
// ±10% main board, ±20% ChiNext and STAR, ±5% ST.
func DefaultPriceLimitTable() PriceLimitTable {
	return PriceLimitTable{
		Main:    0.10,
		ChiNext: 0.20,
		STAR:    0.20,
		ST:      0.05,
	}
}

// RatioFor returns the price-limit ratio that applies to a symbol.
func (t PriceLimitTable) RatioFor(symbol string) float64 {
	if r, ok := t.Overrides[symbol]; ok {
		return r
	}
	for _, st := range t.STSymbols {
		if st == symbol {
			return t.ST
		}
	}
	switch Classify(symbol) {
	case BoardChiNext:
		return t.ChiNext
	case BoardSTAR:
		return t.STAR
	default:
		return t.Main
	}
}

// Valid reports whether every tier ratio is inside (0, 1).
func (t PriceLimitTable) Valid() bool {
	for _, r := range []float64{t.Main, t.ChiNext, t.STAR, t.ST} {
		if r <= 0 || r >= 1 {
			return false
		}
	}
	for _, r := range t.Overrides {
		if r <= 0 || r >= 1 {
			return false
		}
	}
	return true
}

// RoundPrice rounds a price to the A-share tick of 0.01 CNY.
func RoundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}

// LimitPrices computes the limit-up and limit-down prices for a session
// from the previous close, rounded to the exchange tick.
func LimitPrices(prevClose, ratio float64) (up, down float64) {
	up = RoundPrice(prevClose * (1 + ratio))
	down = RoundPrice(prevClose * (1 - ratio))
	return up, down
}
