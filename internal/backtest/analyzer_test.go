package backtest

import (
	"math"
	"testing"

	"aquant/internal/errors"
)

func valuationSeries(totals ...float64) []DailyValuation {
	out := make([]DailyValuation, len(totals))
	for i, total := range totals {
		out[i] = DailyValuation{Date: day(testDays[i]), Cash: total, TotalValue: total}
	}
	return out
}

func TestAnalyzeEmptySeries(t *testing.T) {
	_, err := NewPerformanceAnalyzer(252).Analyze(nil, NewTradeLog())
	if !errors.IsEmptySeriesError(err) {
		t.Fatalf("expected EMPTY_SERIES, got %v", err)
	}
	appErr := errors.GetAppError(err)
	if appErr == nil || appErr.Context["series"] != "daily_valuation" {
		t.Errorf("unexpected error context: %v", err)
	}
}

func TestAnalyzeReturns(t *testing.T) {
	analyzer := NewPerformanceAnalyzer(252)

	report, err := analyzer.Analyze(valuationSeries(100, 101), NewTradeLog())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !approx(report.TotalReturn, 0.01, 1e-12) {
		t.Errorf("total return = %.12f, want 0.01", report.TotalReturn)
	}
	if want := math.Pow(1.01, 252) - 1; !approx(report.AnnualizedReturn, want, 1e-9) {
		t.Errorf("annualized = %.9f, want %.9f", report.AnnualizedReturn, want)
	}

	flat, err := analyzer.Analyze(valuationSeries(100, 100, 100), NewTradeLog())
	if err != nil {
		t.Fatalf("analyze flat: %v", err)
	}
	if flat.TotalReturn != 0 || flat.AnnualizedReturn != 0 {
		t.Errorf("flat series should report zero returns, got %.6f / %.6f",
			flat.TotalReturn, flat.AnnualizedReturn)
	}

	// a single valuation has no return series to speak of
	single, err := analyzer.Analyze(valuationSeries(100), NewTradeLog())
	if err != nil {
		t.Fatalf("analyze single: %v", err)
	}
	if single.TotalReturn != 0 || single.Volatility != 0 || single.MaxDrawdown != 0 {
		t.Errorf("single-point series should be all zeros, got %+v", single)
	}
	if single.FinalValue != 100 {
		t.Errorf("final value = %.2f, want 100", single.FinalValue)
	}

	// total loss pins the annualized figure at -1
	wiped, err := analyzer.Analyze(valuationSeries(100, 0), NewTradeLog())
	if err != nil {
		t.Fatalf("analyze wiped: %v", err)
	}
	if wiped.TotalReturn != -1 || wiped.AnnualizedReturn != -1 {
		t.Errorf("wiped series: total=%.4f annualized=%.4f, want -1 / -1",
			wiped.TotalReturn, wiped.AnnualizedReturn)
	}
}

func TestAnalyzeRiskStats(t *testing.T) {
	analyzer := NewPerformanceAnalyzer(252)

	// returns +10% then -10%: zero mean, nonzero spread
	report, err := analyzer.Analyze(valuationSeries(100, 110, 99), NewTradeLog())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	wantVol := math.Sqrt(0.1*0.1+0.1*0.1) * math.Sqrt(252)
	if !approx(report.Volatility, wantVol, 1e-9) {
		t.Errorf("volatility = %.9f, want %.9f", report.Volatility, wantVol)
	}
	if report.SharpeRatio != 0 {
		t.Errorf("zero-mean sharpe = %.9f, want 0", report.SharpeRatio)
	}

	// constant growth has zero variance; sharpe stays 0 rather than blowing up
	steady, err := analyzer.Analyze(valuationSeries(100, 110, 121), NewTradeLog())
	if err != nil {
		t.Fatalf("analyze steady: %v", err)
	}
	if steady.Volatility != 0 || steady.SharpeRatio != 0 {
		t.Errorf("steady series: vol=%.9f sharpe=%.9f, want 0 / 0",
			steady.Volatility, steady.SharpeRatio)
	}
}

func TestDrawdownStats(t *testing.T) {
	// peak 110, trough 99, recovered two days later
	dd, days := drawdownStats(valuationSeries(100, 110, 99, 104.5, 110, 121))
	if dd != 0.1 {
		t.Errorf("max drawdown = %.6f, want 0.1", dd)
	}
	if days != 3 {
		t.Errorf("drawdown duration = %d, want 3", days)
	}

	dd, days = drawdownStats(valuationSeries(100, 105, 110))
	if dd != 0 || days != 0 {
		t.Errorf("monotonic series: dd=%.6f days=%d, want 0 / 0", dd, days)
	}

	// never recovers: runs to the end of the series
	dd, days = drawdownStats(valuationSeries(100, 90, 95))
	if dd != 0.1 || days != 2 {
		t.Errorf("underwater series: dd=%.6f days=%d, want 0.1 / 2", dd, days)
	}
}

func TestRoundTripPairing(t *testing.T) {
	log := NewTradeLog()
	log.Append(fill("600519.SH", testDays[0], SideBuy, 100, 10, 5, 0))
	log.Append(fill("600519.SH", testDays[1], SideBuy, 100, 20, 5, 0))
	log.Append(fill("600519.SH", testDays[2], SideSell, 150, 30, 10, 4.5))
	// 拒绝记录不参与配对
	log.Append(Trade{
		Symbol: "600519.SH", Date: day(testDays[2]), Side: SideBuy,
		RequestedShares: 500, Reason: RejectPriceLimit,
	})

	pairs := PairRoundTrips(log)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairings, got %d", len(pairs))
	}

	closeCost := 14.5 / 150
	first, second := pairs[0], pairs[1]
	if first.Shares != 100 || !first.OpenDate.Equal(day(testDays[0])) {
		t.Errorf("first pairing = %+v", first)
	}
	if want := 2000 - 100*(5.0/100+closeCost); !approx(first.PnL, want, 1e-9) {
		t.Errorf("first pnl = %.6f, want %.6f", first.PnL, want)
	}
	if second.Shares != 50 || !second.OpenDate.Equal(day(testDays[1])) {
		t.Errorf("second pairing = %+v", second)
	}
	if want := 500 - 50*(5.0/100+closeCost); !approx(second.PnL, want, 1e-9) {
		t.Errorf("second pnl = %.6f, want %.6f", second.PnL, want)
	}
	for _, p := range pairs {
		if !p.CloseDate.After(p.OpenDate) {
			t.Errorf("pairing closed on or before open: %+v", p)
		}
	}
}

func TestRoundTripPairingShorts(t *testing.T) {
	log := NewTradeLog()
	log.Append(fill("000001.SZ", testDays[0], SideShort, 100, 20, 0, 0))
	log.Append(fill("000001.SZ", testDays[1], SideCover, 100, 15, 0, 0))

	pairs := PairRoundTrips(log)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pairing, got %d", len(pairs))
	}
	// 价格下跌，空头盈利
	if pairs[0].PnL != 500 {
		t.Errorf("short pnl = %.4f, want 500", pairs[0].PnL)
	}
}

func TestAnalyzeWinStats(t *testing.T) {
	log := NewTradeLog()
	log.Append(fill("600519.SH", testDays[0], SideBuy, 100, 10, 0, 0))
	log.Append(fill("600519.SH", testDays[1], SideSell, 100, 12, 0, 0))
	log.Append(fill("600519.SH", testDays[2], SideBuy, 100, 10, 0, 0))
	log.Append(fill("600519.SH", testDays[3], SideSell, 100, 9, 0, 0))

	report, err := NewPerformanceAnalyzer(252).Analyze(valuationSeries(100, 100, 100, 100), log)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.RoundTrips != 2 || report.TradeCount != 4 {
		t.Errorf("counts: trips=%d trades=%d", report.RoundTrips, report.TradeCount)
	}
	if report.WinRate != 0.5 {
		t.Errorf("win rate = %.4f, want 0.5", report.WinRate)
	}
	if report.AvgWin != 200 {
		t.Errorf("avg win = %.4f, want 200", report.AvgWin)
	}
	if report.AvgLoss != -100 {
		t.Errorf("avg loss = %.4f, want -100", report.AvgLoss)
	}
	if report.ProfitFactor != 2 {
		t.Errorf("profit factor = %.4f, want 2", report.ProfitFactor)
	}

	metrics := report.Metrics()
	if len(metrics) != 18 {
		t.Errorf("metrics map has %d entries, want 18", len(metrics))
	}
	if metrics["win_rate"] != 0.5 || metrics["profit_factor"] != 2 || metrics["trade_count"] != 4 {
		t.Errorf("metrics map mismatch: %v", metrics)
	}
}

func TestAnalyzeAllWinners(t *testing.T) {
	log := NewTradeLog()
	log.Append(fill("600519.SH", testDays[0], SideBuy, 100, 10, 0, 0))
	log.Append(fill("600519.SH", testDays[1], SideSell, 100, 12, 0, 0))

	report, err := NewPerformanceAnalyzer(252).Analyze(valuationSeries(100, 100), log)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.WinRate != 1 {
		t.Errorf("win rate = %.4f, want 1", report.WinRate)
	}
	// no losses means no meaningful ratio; reported as zero
	if report.ProfitFactor != 0 {
		t.Errorf("profit factor = %.4f, want 0", report.ProfitFactor)
	}
	if report.AvgLoss != 0 {
		t.Errorf("avg loss = %.4f, want 0", report.AvgLoss)
	}
}

func TestAnalyzeCostTotals(t *testing.T) {
	buy := fill("600519.SH", testDays[0], SideBuy, 100, 10, 5, 0)
	buy.SlippageCost = 2.5
	sell := fill("600519.SH", testDays[1], SideSell, 100, 12, 10, 4.5)
	sell.SlippageCost = 1

	log := NewTradeLog()
	log.Append(buy)
	log.Append(sell)
	log.Append(Trade{
		Symbol: "600519.SH", Date: day(testDays[2]), Side: SideBuy,
		RequestedShares: 200, Reason: RejectInsufficientCash,
	})

	report, err := NewPerformanceAnalyzer(252).Analyze(valuationSeries(100, 100, 100), log)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.TotalCommission != 15 || report.TotalTax != 4.5 || report.TotalSlippage != 3.5 {
		t.Errorf("cost totals: commission=%.2f tax=%.2f slippage=%.2f",
			report.TotalCommission, report.TotalTax, report.TotalSlippage)
	}
	if report.TradeCount != 2 || report.RejectionCount != 1 {
		t.Errorf("counts: executed=%d rejected=%d", report.TradeCount, report.RejectionCount)
	}
}
