package strategy

import (
	"context"
	"fmt"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/indicator"
	"aquant/internal/market"
)

// MACross is a per-symbol dual moving average strategy. A fast SMA crossing
// above the slow SMA emits a buy action, crossing below emits a sell action.
type MACross struct {
	fast int
	slow int
}

// NewMACross builds an MA cross strategy from params: fast (default 5),
// slow (default 20).
func NewMACross(params Params) (Strategy, error) {
	s := &MACross{
		fast: params.IntValue("fast", 5),
		slow: params.IntValue("slow", 20),
	}
	if s.fast < 1 {
		return nil, errors.NewConfigurationError("fast", "fast window must be positive")
	}
	if s.slow <= s.fast {
		return nil, errors.NewConfigurationError("slow", "slow window must exceed fast window")
	}
	return s, nil
}

// Name returns the registry name.
func (s *MACross) Name() string {
	return "ma_cross"
}

// GenerateSignals scans each symbol for fast/slow crossovers and emits
// buy and sell actions dated the next trading day.
func (s *MACross) GenerateSignals(ctx context.Context, prices *market.PriceTable, ind *indicator.Service) ([]backtest.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cal := prices.Calendar()
	var out []backtest.Signal
	for _, sym := range prices.Symbols() {
		fast, err := ind.SMA(sym, s.fast)
		if err != nil {
			if errors.IsEmptySeriesError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to compute fast SMA for %s: %w", sym, err)
		}
		slow, err := ind.SMA(sym, s.slow)
		if err != nil {
			if errors.IsEmptySeriesError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to compute slow SMA for %s: %w", sym, err)
		}

		for _, date := range slow.Dates {
			curFast, ok := fast.On(date)
			if !ok {
				continue
			}
			curSlow, _ := slow.On(date)
			prevFast, okF := fast.Before(date)
			prevSlow, okS := slow.Before(date)
			if !okF || !okS {
				continue
			}
			next, ok := cal.Next(date)
			if !ok {
				break
			}
			// 金叉买入，死叉卖出
			if prevFast <= prevSlow && curFast > curSlow {
				out = append(out, backtest.Signal{
					Symbol: sym, Date: next, Kind: backtest.SignalAction, Action: backtest.ActionBuy,
				})
			} else if prevFast >= prevSlow && curFast < curSlow {
				out = append(out, backtest.Signal{
					Symbol: sym, Date: next, Kind: backtest.SignalAction, Action: backtest.ActionSell,
				})
			}
		}
	}
	return out, nil
}
