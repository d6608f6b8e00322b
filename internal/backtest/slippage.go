package backtest

import (
	"fmt"
	"math"

	"aquant/internal/errors"
	"aquant/internal/market"
)

// SlippageModel estimates the achievable fill price for a trade. Every
// variant returns a price at or worse than the nominal price for the
// trader: buys and covers fill higher, sells and shorts fill lower.
type SlippageModel interface {
	FillPrice(price, shares float64, bar market.PricePoint, side TradeSide) float64
}

// NewSlippageModel builds the configured slippage model variant.
func NewSlippageModel(cfg SlippageConfig) (SlippageModel, error) {
	switch cfg.Model {
	case SlippageFixedRate:
		return &FixedRateSlippage{BP: cfg.FixedBP}, nil
	case SlippageVolumeProportional:
		return &VolumeProportionalSlippage{CoeffBP: cfg.CoeffBP, MaxBP: cfg.MaxBP}, nil
	case SlippageMarketImpact:
		return &MarketImpactSlippage{K: cfg.ImpactK}, nil
	case SlippageSpreadBased:
		return &SpreadBasedSlippage{}, nil
	default:
		return nil, errors.NewConfigurationError("slippage.model",
			fmt.Sprintf("unsupported model %q", cfg.Model))
	}
}

// slipSign returns +1 for sides that fill above the nominal price and -1
// for sides that fill below it.
func slipSign(side TradeSide) float64 {
	if side.IsBuySide() {
		return 1
	}
	return -1
}

// applyBP moves the price by the given basis points in the adverse direction.
func applyBP(price, bp float64, side TradeSide) float64 {
	adjusted := price * (1 + slipSign(side)*bp/10000)
	if adjusted < 0 {
		return 0
	}
	return adjusted
}

// FixedRateSlippage applies a constant basis-point cost regardless of size.
type FixedRateSlippage struct {
	BP float64
}

func (s *FixedRateSlippage) FillPrice(price, shares float64, bar market.PricePoint, side TradeSide) float64 {
	return applyBP(price, s.BP, side)
}

// VolumeProportionalSlippage scales the cost with the trade's share of the
// bar volume and caps it, so an illiquid bar cannot produce unbounded cost.
type VolumeProportionalSlippage struct {
	CoeffBP float64
	MaxBP   float64
}

func (s *VolumeProportionalSlippage) FillPrice(price, shares float64, bar market.PricePoint, side TradeSide) float64 {
	bp := s.MaxBP
	if bar.Volume > 0 {
		bp = s.CoeffBP * (shares / bar.Volume)
		if bp > s.MaxBP {
			bp = s.MaxBP
		}
	}
	return applyBP(price, bp, side)
}

// MarketImpactSlippage is the square-root impact model: cost in basis points
// is K * sqrt(shares / volume), modeling permanent and temporary impact
// together. A bar without volume is treated as fully consumed.
type MarketImpactSlippage struct {
	K float64
}

func (s *MarketImpactSlippage) FillPrice(price, shares float64, bar market.PricePoint, side TradeSide) float64 {
	ratio := 1.0
	if bar.Volume > 0 {
		ratio = shares / bar.Volume
	}
	bp := s.K * math.Sqrt(ratio)
	return applyBP(price, bp, side)
}

// SpreadBasedSlippage approximates the bid/ask spread from the bar's
// high-low range and charges half of it, the way a marketable order
// crosses half the spread.
type SpreadBasedSlippage struct{}

func (s *SpreadBasedSlippage) FillPrice(price, shares float64, bar market.PricePoint, side TradeSide) float64 {
	halfSpread := (bar.High - bar.Low) / 2
	if halfSpread < 0 {
		halfSpread = 0
	}
	adjusted := price + slipSign(side)*halfSpread
	if adjusted < 0 {
		return 0
	}
	return adjusted
}
