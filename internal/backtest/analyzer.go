package backtest

import (
	"math"
	"time"

	"aquant/internal/errors"
)

// PerformanceReport is the flat metric set computed from one run's output.
type PerformanceReport struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	MaxDrawdownDays  int     `json:"max_drawdown_days"` // trading days, peak to recovery
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"` // mean of losing round trips, negative
	ProfitFactor     float64 `json:"profit_factor"`
	RoundTrips       int     `json:"round_trips"`
	TradeCount       int     `json:"trade_count"` // executed fills only
	RejectionCount   int     `json:"rejection_count"`
	TotalCommission  float64 `json:"total_commission"`
	TotalTax         float64 `json:"total_tax"`
	TotalSlippage    float64 `json:"total_slippage"`
	FinalValue       float64 `json:"final_value"`
	RealizedPnL      float64 `json:"realized_pnl"`
}

// Metrics returns the report as a flat name-to-value map for ranking and
// comparison tooling.
func (r *PerformanceReport) Metrics() map[string]float64 {
	return map[string]float64{
		"total_return":      r.TotalReturn,
		"annualized_return": r.AnnualizedReturn,
		"volatility":        r.Volatility,
		"sharpe_ratio":      r.SharpeRatio,
		"max_drawdown":      r.MaxDrawdown,
		"max_drawdown_days": float64(r.MaxDrawdownDays),
		"win_rate":          r.WinRate,
		"avg_win":           r.AvgWin,
		"avg_loss":          r.AvgLoss,
		"profit_factor":     r.ProfitFactor,
		"round_trips":       float64(r.RoundTrips),
		"trade_count":       float64(r.TradeCount),
		"rejection_count":   float64(r.RejectionCount),
		"total_commission":  r.TotalCommission,
		"total_tax":         r.TotalTax,
		"total_slippage":    r.TotalSlippage,
		"final_value":       r.FinalValue,
		"realized_pnl":      r.RealizedPnL,
	}
}

// RoundTrip is one closed position pairing, matched first-in first-out.
type RoundTrip struct {
	Symbol    string    `json:"symbol"`
	Shares    float64   `json:"shares"`
	OpenDate  time.Time `json:"open_date"`
	CloseDate time.Time `json:"close_date"`
	PnL       float64   `json:"pnl"` // net of allocated costs
}

// PerformanceAnalyzer aggregates a run's valuation series and trade log
// into a report. Pure and stateless: analyzing the same inputs twice
// yields identical reports.
type PerformanceAnalyzer struct {
	annualization float64
}

// NewPerformanceAnalyzer creates an analyzer with the given annualization
// factor. Values at or below zero fall back to 252 trading days.
func NewPerformanceAnalyzer(annualization float64) *PerformanceAnalyzer {
	if annualization <= 0 {
		annualization = 252
	}
	return &PerformanceAnalyzer{annualization: annualization}
}

// Analyze computes the performance report. An empty valuation series is the
// only error condition.
func (a *PerformanceAnalyzer) Analyze(valuations []DailyValuation, trades *TradeLog) (*PerformanceReport, error) {
	if len(valuations) == 0 {
		return nil, errors.NewEmptySeriesError("daily_valuation")
	}

	report := &PerformanceReport{
		FinalValue:  valuations[len(valuations)-1].TotalValue,
		RealizedPnL: valuations[len(valuations)-1].RealizedPnL,
	}

	// 收益序列
	returns := make([]float64, 0, len(valuations)-1)
	for i := 1; i < len(valuations); i++ {
		prev := valuations[i-1].TotalValue
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (valuations[i].TotalValue-prev)/prev)
	}

	first := valuations[0].TotalValue
	if first != 0 {
		report.TotalReturn = (report.FinalValue - first) / first
	}
	report.AnnualizedReturn = a.annualize(report.TotalReturn, len(returns))
	report.Volatility, report.SharpeRatio = a.riskStats(returns)
	report.MaxDrawdown, report.MaxDrawdownDays = drawdownStats(valuations)

	a.tradeStats(report, trades)
	return report, nil
}

func (a *PerformanceAnalyzer) annualize(totalReturn float64, periods int) float64 {
	if periods == 0 {
		return 0
	}
	if 1+totalReturn <= 0 {
		return -1
	}
	return math.Pow(1+totalReturn, a.annualization/float64(periods)) - 1
}

func (a *PerformanceAnalyzer) riskStats(returns []float64) (float64, float64) {
	if len(returns) < 2 {
		return 0, 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	volatility := stdDev * math.Sqrt(a.annualization)
	if stdDev == 0 {
		return volatility, 0
	}
	// 假设无风险利率为0
	sharpe := mean / stdDev * math.Sqrt(a.annualization)
	return volatility, sharpe
}

// drawdownStats returns the maximum peak-to-trough decline and its duration
// from peak to recovery, in trading days. An unrecovered drawdown runs to
// the end of the series.
func drawdownStats(valuations []DailyValuation) (float64, int) {
	maxDD := 0.0
	peakIdx, ddPeakIdx, troughIdx := 0, 0, 0
	peak := valuations[0].TotalValue

	for i, v := range valuations {
		if v.TotalValue > peak {
			peak = v.TotalValue
			peakIdx = i
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v.TotalValue) / peak
		if dd > maxDD {
			maxDD = dd
			ddPeakIdx = peakIdx
			troughIdx = i
		}
	}
	if maxDD == 0 {
		return 0, 0
	}

	recovery := len(valuations) - 1
	for i := troughIdx; i < len(valuations); i++ {
		if valuations[i].TotalValue >= valuations[ddPeakIdx].TotalValue {
			recovery = i
			break
		}
	}
	return maxDD, recovery - ddPeakIdx
}

func (a *PerformanceAnalyzer) tradeStats(report *PerformanceReport, trades *TradeLog) {
	if trades == nil {
		return
	}
	for _, t := range trades.Trades {
		if t.Shares > 0 {
			report.TradeCount++
		} else if t.Rejected() {
			report.RejectionCount++
		}
		report.TotalCommission += t.Commission
		report.TotalTax += t.Tax
		report.TotalSlippage += t.SlippageCost
	}

	pairs := PairRoundTrips(trades)
	report.RoundTrips = len(pairs)
	if len(pairs) == 0 {
		return
	}

	var wins, losses int
	var grossProfit, grossLoss float64
	for _, p := range pairs {
		if p.PnL > 0 {
			wins++
			grossProfit += p.PnL
		} else {
			losses++
			grossLoss -= p.PnL
		}
	}
	report.WinRate = float64(wins) / float64(len(pairs))
	if wins > 0 {
		report.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		report.AvgLoss = -grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		report.ProfitFactor = grossProfit / grossLoss
	}
}

// openFill is a pending open-side fill awaiting its closing match.
type openFill struct {
	shares       float64
	price        float64
	costPerShare float64
	date         time.Time
}

// PairRoundTrips matches closing trades against opening trades first-in
// first-out per symbol: sells consume buys, covers consume shorts. Each
// pairing's P&L nets out the proportional share of both trades' costs.
func PairRoundTrips(log *TradeLog) []RoundTrip {
	if log == nil {
		return nil
	}
	longs := make(map[string][]openFill)
	shorts := make(map[string][]openFill)
	out := make([]RoundTrip, 0)

	for _, t := range log.Trades {
		if t.Shares <= 0 {
			continue
		}
		switch t.Side {
		case SideBuy:
			longs[t.Symbol] = append(longs[t.Symbol], openFill{
				shares:       t.Shares,
				price:        t.ExecPrice,
				costPerShare: (t.Commission + t.Tax) / t.Shares,
				date:         t.Date,
			})
		case SideShort:
			shorts[t.Symbol] = append(shorts[t.Symbol], openFill{
				shares:       t.Shares,
				price:        t.ExecPrice,
				costPerShare: (t.Commission + t.Tax) / t.Shares,
				date:         t.Date,
			})
		case SideSell:
			out = append(out, matchClosing(longs, t, true)...)
		case SideCover:
			out = append(out, matchClosing(shorts, t, false)...)
		}
	}
	return out
}

func matchClosing(book map[string][]openFill, t Trade, long bool) []RoundTrip {
	queue := book[t.Symbol]
	remaining := t.Shares
	closeCost := (t.Commission + t.Tax) / t.Shares
	var out []RoundTrip

	for remaining > shareEpsilon && len(queue) > 0 {
		fill := &queue[0]
		matched := math.Min(fill.shares, remaining)

		gross := matched * (t.ExecPrice - fill.price)
		if !long {
			gross = -gross
		}
		out = append(out, RoundTrip{
			Symbol:    t.Symbol,
			Shares:    matched,
			OpenDate:  fill.date,
			CloseDate: t.Date,
			PnL:       gross - matched*(fill.costPerShare+closeCost),
		})

		fill.shares -= matched
		remaining -= matched
		if fill.shares <= shareEpsilon {
			queue = queue[1:]
		}
	}
	book[t.Symbol] = queue
	return out
}
