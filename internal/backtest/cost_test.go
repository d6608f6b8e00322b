package backtest

import (
	"testing"

	"aquant/internal/errors"
)

func TestCostModelCompute(t *testing.T) {
	m := &CostModel{CommissionRate: 0.0003, MinCommission: 5, SellLevyRate: 0.001}

	tests := []struct {
		name       string
		notional   float64
		side       TradeSide
		commission float64
		tax        float64
	}{
		{"buy above minimum", 100000, SideBuy, 30, 0},
		{"buy under minimum", 1000, SideBuy, 5, 0},
		{"sell pays levy", 100000, SideSell, 30, 100},
		{"short pays levy", 50000, SideShort, 15, 50},
		{"cover exempt from levy", 50000, SideCover, 15, 0},
		{"zero notional is free", 0, SideSell, 0, 0},
	}

	for _, test := range tests {
		commission, tax, err := m.Compute(test.notional, test.side)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", test.name, err)
			continue
		}
		if !approx(commission, test.commission, 1e-9) {
			t.Errorf("%s: commission = %.4f, want %.4f", test.name, commission, test.commission)
		}
		if !approx(tax, test.tax, 1e-9) {
			t.Errorf("%s: tax = %.4f, want %.4f", test.name, tax, test.tax)
		}
	}
}

func TestCostModelNegativeNotional(t *testing.T) {
	m := NewCostModel(DefaultConfig())
	_, _, err := m.Compute(-100, SideBuy)
	if err == nil {
		t.Fatal("expected error for negative notional")
	}
	if !errors.HasCode(err, errors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}
