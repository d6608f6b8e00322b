package backtest

import (
	"testing"

	"aquant/internal/errors"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero capital", func(c *Config) { c.InitialCapital = 0 }, "initial_capital"},
		{"negative commission", func(c *Config) { c.CommissionRate = -0.001 }, "commission_rate"},
		{"negative min commission", func(c *Config) { c.MinCommission = -1 }, "min_commission"},
		{"levy out of range", func(c *Config) { c.SellLevyRate = 1 }, "sell_levy_rate"},
		{"unsupported rebalance", func(c *Config) { c.Rebalance = "hourly" }, "rebalance"},
		{"unknown slippage model", func(c *Config) { c.Slippage.Model = "vwap" }, "slippage.model"},
		{"negative fixed bp", func(c *Config) { c.Slippage.FixedBP = -1 }, "slippage.fixed_bp"},
		{"borrow rate out of range", func(c *Config) { c.AnnualBorrowRate = 1.2 }, "annual_borrow_rate"},
		{"bad day count", func(c *Config) { c.BorrowDayCount = 364 }, "borrow_day_count"},
		{"unknown cost basis", func(c *Config) { c.CostBasis = "lifo" }, "cost_basis"},
		{"zero lot size", func(c *Config) { c.LotSize = 0 }, "lot_size"},
		{"unknown exec price", func(c *Config) { c.ExecPrice = "vwap" }, "exec_price"},
		{"zero annualization", func(c *Config) { c.Annualization = 0 }, "annualization"},
		{"limit ratio out of range", func(c *Config) { c.Limits.Main = 1.5 }, "price_limits"},
		{"unparseable start date", func(c *Config) { c.StartDate = "05/08/2023" }, "start_date"},
		{"inverted window", func(c *Config) { c.StartDate = "2023-05-10"; c.EndDate = "2023-05-08" }, "end_date"},
	}

	for _, test := range tests {
		cfg := DefaultConfig()
		test.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", test.name)
			continue
		}
		if !errors.IsConfigurationError(err) {
			t.Errorf("%s: expected CONFIGURATION_ERROR, got %v", test.name, err)
			continue
		}
		appErr := errors.GetAppError(err)
		if appErr.Context["field"] != test.field {
			t.Errorf("%s: field = %v, want %s", test.name, appErr.Context["field"], test.field)
		}
	}
}

func TestVolumeProportionalRequiresCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Slippage.Model = SlippageVolumeProportional
	cfg.Slippage.MaxBP = 0
	err := cfg.Validate()
	if !errors.IsConfigurationError(err) {
		t.Fatalf("expected CONFIGURATION_ERROR, got %v", err)
	}
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.STSymbols = []string{"600519.SH"}
	cfg.Limits.Overrides = map[string]float64{"000001.SZ": 0.05}

	clone := cfg.Clone()
	clone.InitialCapital = 42
	clone.Limits.Overrides["000001.SZ"] = 0.2
	clone.Limits.STSymbols[0] = "000002.SZ"

	if cfg.InitialCapital == 42 {
		t.Error("clone shares scalar fields with original")
	}
	if cfg.Limits.Overrides["000001.SZ"] != 0.05 {
		t.Error("clone shares overrides map with original")
	}
	if cfg.Limits.STSymbols[0] != "600519.SH" {
		t.Error("clone shares ST list with original")
	}
}

func TestConfigWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartDate = "2023-05-08"
	cfg.EndDate = "2023-05-12"

	start, end, err := cfg.Window()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !start.Equal(day("2023-05-08")) || !end.Equal(day("2023-05-12")) {
		t.Errorf("window = %v..%v", start, end)
	}

	cfg = DefaultConfig()
	start, end, err = cfg.Window()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !start.IsZero() || !end.IsZero() {
		t.Error("empty window should be unbounded")
	}
}
