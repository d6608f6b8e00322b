package backtest

import (
	"math"
	"time"

	"aquant/internal/market"
)

// Ten contiguous weekday sessions spanning two ISO weeks.
var testDays = []string{
	"2023-05-08", "2023-05-09", "2023-05-10", "2023-05-11", "2023-05-12",
	"2023-05-15", "2023-05-16", "2023-05-17", "2023-05-18", "2023-05-19",
}

func day(s string) time.Time {
	d, err := market.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bar(symbol, date string, open, high, low, close, prevClose, volume float64) market.PricePoint {
	return market.PricePoint{
		Symbol:    symbol,
		Date:      day(date),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		PrevClose: prevClose,
		Volume:    volume,
	}
}

// flatBars builds a contiguous constant-price series.
func flatBars(symbol string, days []string, price float64) []market.PricePoint {
	bars := make([]market.PricePoint, 0, len(days))
	for _, d := range days {
		bars = append(bars, bar(symbol, d, price, price, price, price, price, 1e6))
	}
	return bars
}

// closeBars builds a series from daily closes with a consistent prev-close
// chain. Each bar opens at the previous close.
func closeBars(symbol string, days []string, closes []float64) []market.PricePoint {
	bars := make([]market.PricePoint, 0, len(days))
	for i, d := range days {
		prev := closes[0]
		if i > 0 {
			prev = closes[i-1]
		}
		high := math.Max(prev, closes[i])
		low := math.Min(prev, closes[i])
		bars = append(bars, bar(symbol, d, prev, high, low, closes[i], prev, 1e6))
	}
	return bars
}

// frictionless returns a config with costs and slippage zeroed so tests can
// assert exact price arithmetic.
func frictionless() *Config {
	cfg := DefaultConfig()
	cfg.CommissionRate = 0
	cfg.MinCommission = 0
	cfg.SellLevyRate = 0
	cfg.Slippage = SlippageConfig{Model: SlippageFixedRate, FixedBP: 0}
	return cfg
}

func weightSignal(symbol, date string, weight float64) Signal {
	return Signal{Symbol: symbol, Date: day(date), Kind: SignalWeight, Weight: weight}
}

func actionSignal(symbol, date string, action Action) Signal {
	return Signal{Symbol: symbol, Date: day(date), Kind: SignalAction, Action: action}
}

// fill builds an executed trade record for ledger and analyzer tests.
func fill(symbol, date string, side TradeSide, shares, exec, commission, tax float64) Trade {
	return Trade{
		Symbol:          symbol,
		Date:            day(date),
		Side:            side,
		RequestedShares: shares,
		Shares:          shares,
		RefPrice:        exec,
		ExecPrice:       exec,
		Notional:        shares * exec,
		Commission:      commission,
		Tax:             tax,
	}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
