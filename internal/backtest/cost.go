package backtest

import (
	"fmt"

	"aquant/internal/errors"
)

// CostModel computes commission and the sell-side transfer levy for a fill.
// Pure function family: no state, no side effects.
type CostModel struct {
	CommissionRate float64
	MinCommission  float64
	SellLevyRate   float64
}

// NewCostModel creates a cost model from the run configuration.
func NewCostModel(cfg *Config) *CostModel {
	return &CostModel{
		CommissionRate: cfg.CommissionRate,
		MinCommission:  cfg.MinCommission,
		SellLevyRate:   cfg.SellLevyRate,
	}
}

// Compute returns the commission and levy for a fill of the given notional.
// Commission is max(notional*rate, min_commission). The transfer levy applies
// only to sides that sell shares into the market; buys and covers are exempt.
// A zero notional costs nothing. Negative notional is an input error.
func (m *CostModel) Compute(notional float64, side TradeSide) (float64, float64, error) {
	if notional < 0 {
		return 0, 0, errors.NewAppErrorWithDetails(errors.ErrCodeInvalidInput,
			"notional must be non-negative", fmt.Sprintf("got %.4f", notional), nil)
	}
	if notional == 0 {
		return 0, 0, nil
	}

	commission := notional * m.CommissionRate
	if commission < m.MinCommission {
		commission = m.MinCommission
	}

	var tax float64
	if side.IsMarketSell() {
		tax = notional * m.SellLevyRate
	}

	return commission, tax, nil
}
