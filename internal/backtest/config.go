package backtest

import (
	"fmt"
	"time"

	"aquant/internal/errors"
	"aquant/internal/market"
)

// RebalanceFrequency controls which trading dates run the rebalance step
type RebalanceFrequency string

const (
	RebalanceDaily   RebalanceFrequency = "daily"
	RebalanceWeekly  RebalanceFrequency = "weekly"
	RebalanceMonthly RebalanceFrequency = "monthly"
)

// SlippageKind selects one of the slippage model variants
type SlippageKind string

const (
	SlippageFixedRate          SlippageKind = "fixed_rate"
	SlippageVolumeProportional SlippageKind = "volume_proportional"
	SlippageMarketImpact       SlippageKind = "market_impact"
	SlippageSpreadBased        SlippageKind = "spread_based"
)

// CostBasisMethod selects how realized P&L is computed on partial sells
type CostBasisMethod string

const (
	CostBasisFIFO    CostBasisMethod = "fifo"
	CostBasisAverage CostBasisMethod = "average"
)

// ExecPriceMode selects the reference price trades execute against
type ExecPriceMode string

const (
	ExecPriceClose ExecPriceMode = "close"
	ExecPriceOpen  ExecPriceMode = "open"
)

// SlippageConfig holds the slippage model choice and its parameters.
// Parameters not used by the chosen model are ignored.
type SlippageConfig struct {
	Model   SlippageKind `yaml:"model" json:"model"`
	FixedBP float64      `yaml:"fixed_bp" json:"fixed_bp"`   // fixed_rate
	CoeffBP float64      `yaml:"coeff_bp" json:"coeff_bp"`   // volume_proportional: bp per unit of volume ratio
	MaxBP   float64      `yaml:"max_bp" json:"max_bp"`       // volume_proportional cap
	ImpactK float64      `yaml:"impact_k" json:"impact_k"`   // market_impact: bp coefficient on sqrt(ratio)
}

// Config represents one backtest run configuration.
// Defaults follow standard A-share retail conventions.
type Config struct {
	InitialCapital   float64            `yaml:"initial_capital" json:"initial_capital"`
	CommissionRate   float64            `yaml:"commission_rate" json:"commission_rate"` // 券商佣金率
	MinCommission    float64            `yaml:"min_commission" json:"min_commission"`   // 最低佣金（元）
	SellLevyRate     float64            `yaml:"sell_levy_rate" json:"sell_levy_rate"`   // 卖出印花税率
	Slippage         SlippageConfig     `yaml:"slippage" json:"slippage"`
	Rebalance        RebalanceFrequency `yaml:"rebalance" json:"rebalance"`
	ShortEnabled     bool               `yaml:"short_enabled" json:"short_enabled"`
	AnnualBorrowRate float64            `yaml:"annual_borrow_rate" json:"annual_borrow_rate"`
	BorrowDayCount   int                `yaml:"borrow_day_count" json:"borrow_day_count"` // 360 or 365
	CostBasis        CostBasisMethod    `yaml:"cost_basis" json:"cost_basis"`
	LotSize          int                `yaml:"lot_size" json:"lot_size"` // 1 disables lot rounding
	ExecPrice        ExecPriceMode      `yaml:"exec_price" json:"exec_price"`
	Annualization    float64            `yaml:"annualization" json:"annualization"`

	Limits market.PriceLimitTable `yaml:"price_limits" json:"price_limits"`

	// Optional run window, formatted 2006-01-02. Empty means the full
	// extent of the price table.
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date" json:"end_date"`
}

// DefaultConfig returns a configuration with A-share retail defaults.
func DefaultConfig() *Config {
	return &Config{
		InitialCapital:   1_000_000,
		CommissionRate:   0.0003, // 3bp
		MinCommission:    5.0,
		SellLevyRate:     0.001, // 10bp
		Slippage: SlippageConfig{
			Model:   SlippageFixedRate,
			FixedBP: 5,
			CoeffBP: 100,
			MaxBP:   50,
			ImpactK: 10,
		},
		Rebalance:        RebalanceDaily,
		ShortEnabled:     false,
		AnnualBorrowRate: 0.08,
		BorrowDayCount:   360,
		CostBasis:        CostBasisFIFO,
		LotSize:          market.DefaultLotSize,
		ExecPrice:        ExecPriceClose,
		Annualization:    252,
		Limits:           market.DefaultPriceLimitTable(),
	}
}

// Validate checks every field and returns a CONFIGURATION_ERROR describing
// the first violation found. A config that validates is safe to run.
func (c *Config) Validate() error {
	if c.InitialCapital <= 0 {
		return errors.NewConfigurationError("initial_capital", "must be positive")
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return errors.NewConfigurationError("commission_rate", "must be in [0, 1)")
	}
	if c.MinCommission < 0 {
		return errors.NewConfigurationError("min_commission", "must be non-negative")
	}
	if c.SellLevyRate < 0 || c.SellLevyRate >= 1 {
		return errors.NewConfigurationError("sell_levy_rate", "must be in [0, 1)")
	}
	switch c.Rebalance {
	case RebalanceDaily, RebalanceWeekly, RebalanceMonthly:
	default:
		return errors.NewConfigurationError("rebalance", fmt.Sprintf("unsupported frequency %q", c.Rebalance))
	}
	if err := c.Slippage.validate(); err != nil {
		return err
	}
	if c.AnnualBorrowRate < 0 || c.AnnualBorrowRate >= 1 {
		return errors.NewConfigurationError("annual_borrow_rate", "must be in [0, 1)")
	}
	if c.BorrowDayCount != 360 && c.BorrowDayCount != 365 {
		return errors.NewConfigurationError("borrow_day_count", "must be 360 or 365")
	}
	switch c.CostBasis {
	case CostBasisFIFO, CostBasisAverage:
	default:
		return errors.NewConfigurationError("cost_basis", fmt.Sprintf("unsupported method %q", c.CostBasis))
	}
	if c.LotSize < 1 {
		return errors.NewConfigurationError("lot_size", "must be at least 1")
	}
	switch c.ExecPrice {
	case ExecPriceClose, ExecPriceOpen:
	default:
		return errors.NewConfigurationError("exec_price", fmt.Sprintf("unsupported mode %q", c.ExecPrice))
	}
	if c.Annualization <= 0 {
		return errors.NewConfigurationError("annualization", "must be positive")
	}
	if !c.Limits.Valid() {
		return errors.NewConfigurationError("price_limits", "ratios must be in (0, 1)")
	}
	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return errors.NewConfigurationError("end_date", "must not precede start_date")
	}
	return nil
}

func (s *SlippageConfig) validate() error {
	switch s.Model {
	case SlippageFixedRate:
		if s.FixedBP < 0 {
			return errors.NewConfigurationError("slippage.fixed_bp", "must be non-negative")
		}
	case SlippageVolumeProportional:
		if s.CoeffBP < 0 {
			return errors.NewConfigurationError("slippage.coeff_bp", "must be non-negative")
		}
		if s.MaxBP <= 0 {
			return errors.NewConfigurationError("slippage.max_bp", "must be positive")
		}
	case SlippageMarketImpact:
		if s.ImpactK < 0 {
			return errors.NewConfigurationError("slippage.impact_k", "must be non-negative")
		}
	case SlippageSpreadBased:
	default:
		return errors.NewConfigurationError("slippage.model", fmt.Sprintf("unsupported model %q", s.Model))
	}
	return nil
}

// Window parses the optional run window. Zero times mean unbounded.
func (c *Config) Window() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if c.StartDate != "" {
		start, err = market.ParseDate(c.StartDate)
		if err != nil {
			return start, end, errors.NewConfigurationError("start_date", err.Error())
		}
	}
	if c.EndDate != "" {
		end, err = market.ParseDate(c.EndDate)
		if err != nil {
			return start, end, errors.NewConfigurationError("end_date", err.Error())
		}
	}
	return start, end, nil
}

// Clone returns a deep copy, used by sweeps that vary one field per run.
func (c *Config) Clone() *Config {
	out := *c
	if c.Limits.STSymbols != nil {
		out.Limits.STSymbols = append([]string(nil), c.Limits.STSymbols...)
	}
	if c.Limits.Overrides != nil {
		out.Limits.Overrides = make(map[string]float64, len(c.Limits.Overrides))
		for k, v := range c.Limits.Overrides {
			out.Limits.Overrides[k] = v
		}
	}
	return &out
}
