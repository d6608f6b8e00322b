package strategy

import (
	"context"
	"fmt"
	"sort"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/indicator"
	"aquant/internal/market"
)

// Momentum is a cross-sectional momentum strategy: on each observation date
// it ranks symbols by trailing rate of change and targets an equal weight in
// the top N with positive momentum. Signals are emitted only when the
// selection changes, dropped symbols getting an explicit zero weight.
type Momentum struct {
	window int
	topN   int
	gross  float64
}

// NewMomentum builds a momentum strategy from params: window (default 20),
// top_n (default 5), gross_weight (default 1.0).
func NewMomentum(params Params) (Strategy, error) {
	s := &Momentum{
		window: params.IntValue("window", 20),
		topN:   params.IntValue("top_n", 5),
		gross:  params.Value("gross_weight", 1.0),
	}
	if s.window < 1 {
		return nil, errors.NewConfigurationError("window", "momentum window must be positive")
	}
	if s.topN < 1 {
		return nil, errors.NewConfigurationError("top_n", "momentum top_n must be positive")
	}
	if s.gross <= 0 || s.gross > 1 {
		return nil, errors.NewConfigurationError("gross_weight", "gross weight must be in (0, 1]")
	}
	return s, nil
}

// Name returns the registry name.
func (s *Momentum) Name() string {
	return "momentum"
}

type rankedSymbol struct {
	symbol string
	value  float64
}

// GenerateSignals ranks symbols by momentum each trading day and emits
// target weights dated the next trading day.
func (s *Momentum) GenerateSignals(ctx context.Context, prices *market.PriceTable, ind *indicator.Service) ([]backtest.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series := make(map[string]*indicator.Series)
	for _, sym := range prices.Symbols() {
		m, err := ind.Momentum(sym, s.window)
		if err != nil {
			// 历史不足的标的跳过
			if errors.IsEmptySeriesError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to compute momentum for %s: %w", sym, err)
		}
		series[sym] = m
	}
	if len(series) == 0 {
		return nil, errors.NewEmptySeriesError(fmt.Sprintf("momentum(%d)", s.window))
	}

	cal := prices.Calendar()
	var out []backtest.Signal
	held := make(map[string]bool)

	for _, date := range cal.Dates() {
		next, ok := cal.Next(date)
		if !ok {
			break
		}

		ranked := make([]rankedSymbol, 0, len(series))
		for sym, ser := range series {
			if v, ok := ser.On(date); ok && v > 0 {
				ranked = append(ranked, rankedSymbol{symbol: sym, value: v})
			}
		}
		if len(ranked) == 0 && len(held) == 0 {
			continue
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].value != ranked[j].value {
				return ranked[i].value > ranked[j].value
			}
			return ranked[i].symbol < ranked[j].symbol
		})

		n := s.topN
		if n > len(ranked) {
			n = len(ranked)
		}
		selected := make(map[string]bool, n)
		for _, r := range ranked[:n] {
			selected[r.symbol] = true
		}
		if sameSelection(held, selected) {
			continue
		}

		weight := 0.0
		if n > 0 {
			weight = s.gross / float64(n)
		}
		for _, r := range ranked[:n] {
			out = append(out, backtest.Signal{
				Symbol: r.symbol, Date: next, Kind: backtest.SignalWeight, Weight: weight,
				Confidence: r.value,
			})
		}
		// 跌出榜单的标的清仓
		dropped := make([]string, 0, len(held))
		for sym := range held {
			if !selected[sym] {
				dropped = append(dropped, sym)
			}
		}
		sort.Strings(dropped)
		for _, sym := range dropped {
			out = append(out, backtest.Signal{
				Symbol: sym, Date: next, Kind: backtest.SignalWeight, Weight: 0,
			})
		}
		held = selected
	}
	return out, nil
}

func sameSelection(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
