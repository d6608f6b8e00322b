package strategy

import (
	"context"
	"math"

	"aquant/internal/backtest"
	"aquant/internal/indicator"
	"aquant/internal/market"
)

// Params carries a strategy's tunable parameters. Using a flat float map
// keeps strategies directly sweepable by the optimizer's grid expansion.
type Params map[string]float64

// Value returns a parameter or the default when absent.
func (p Params) Value(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// IntValue returns a parameter rounded to int, or the default when absent.
func (p Params) IntValue(name string, def int) int {
	if v, ok := p[name]; ok {
		return int(math.Round(v))
	}
	return def
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Strategy turns a price history into a dated signal table. Implementations
// must be lookahead-free: a signal dated D may only be derived from bars
// strictly before D. Signals observed on date t are therefore dated the next
// trading day.
type Strategy interface {
	Name() string
	GenerateSignals(ctx context.Context, prices *market.PriceTable, ind *indicator.Service) ([]backtest.Signal, error)
}

// WeightTable is the passthrough strategy: a precomputed signal table,
// typically loaded from research output, replayed as-is.
type WeightTable struct {
	name    string
	signals []backtest.Signal
}

// NewWeightTable wraps an explicit signal list as a strategy.
func NewWeightTable(name string, signals []backtest.Signal) *WeightTable {
	return &WeightTable{name: name, signals: signals}
}

// Name returns the table's label.
func (s *WeightTable) Name() string {
	return s.name
}

// GenerateSignals returns a copy of the stored table.
func (s *WeightTable) GenerateSignals(ctx context.Context, prices *market.PriceTable, ind *indicator.Service) ([]backtest.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]backtest.Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}
