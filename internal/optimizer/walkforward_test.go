package optimizer

import (
	"context"
	"math"
	"testing"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/strategy"
)

func TestSplitCalendarRolling(t *testing.T) {
	cal := rampTable(t).Calendar()
	splits, err := SplitCalendar(cal, WalkForwardConfig{InSampleDays: 4, OutSampleDays: 2})
	if err != nil {
		t.Fatalf("failed to split calendar: %v", err)
	}
	if len(splits) != 3 {
		t.Fatalf("split count = %d, want 3", len(splits))
	}

	first := splits[0]
	if !first.InStart.Equal(day(t, "2023-05-08")) || !first.InEnd.Equal(day(t, "2023-05-11")) {
		t.Errorf("first in-sample = %s..%s, want 2023-05-08..2023-05-11",
			first.InStart.Format("2006-01-02"), first.InEnd.Format("2006-01-02"))
	}
	if !first.OutStart.Equal(day(t, "2023-05-12")) || !first.OutEnd.Equal(day(t, "2023-05-15")) {
		t.Errorf("first out-sample = %s..%s, want 2023-05-12..2023-05-15",
			first.OutStart.Format("2006-01-02"), first.OutEnd.Format("2006-01-02"))
	}

	// 滚动窗口整体前移两个交易日
	second := splits[1]
	if !second.InStart.Equal(day(t, "2023-05-10")) || !second.InEnd.Equal(day(t, "2023-05-15")) {
		t.Errorf("second in-sample = %s..%s, want 2023-05-10..2023-05-15",
			second.InStart.Format("2006-01-02"), second.InEnd.Format("2006-01-02"))
	}
	last := splits[2]
	if !last.OutEnd.Equal(day(t, "2023-05-19")) {
		t.Errorf("last out-sample end = %s, want 2023-05-19", last.OutEnd.Format("2006-01-02"))
	}
}

func TestSplitCalendarAnchored(t *testing.T) {
	cal := rampTable(t).Calendar()
	splits, err := SplitCalendar(cal, WalkForwardConfig{InSampleDays: 4, OutSampleDays: 2, Anchored: true})
	if err != nil {
		t.Fatalf("failed to split calendar: %v", err)
	}
	if len(splits) != 3 {
		t.Fatalf("split count = %d, want 3", len(splits))
	}

	// 锚定式起点不动，样本内逐窗扩张
	for i, s := range splits {
		if !s.InStart.Equal(day(t, "2023-05-08")) {
			t.Errorf("split %d in-sample start = %s, want anchored 2023-05-08",
				i, s.InStart.Format("2006-01-02"))
		}
	}
	if !splits[1].InEnd.Equal(day(t, "2023-05-15")) {
		t.Errorf("second in-sample end = %s, want 2023-05-15", splits[1].InEnd.Format("2006-01-02"))
	}
	if !splits[2].InEnd.Equal(day(t, "2023-05-17")) {
		t.Errorf("third in-sample end = %s, want 2023-05-17", splits[2].InEnd.Format("2006-01-02"))
	}
}

func TestSplitCalendarErrors(t *testing.T) {
	cal := rampTable(t).Calendar()

	if _, err := SplitCalendar(cal, WalkForwardConfig{InSampleDays: 9, OutSampleDays: 2}); !errors.IsDataValidationError(err) {
		t.Errorf("insufficient history error = %v, want data validation error", err)
	}
	if _, err := SplitCalendar(cal, WalkForwardConfig{InSampleDays: 1, OutSampleDays: 2}); !errors.IsConfigurationError(err) {
		t.Errorf("tiny in-sample error = %v, want configuration error", err)
	}
	if _, err := SplitCalendar(cal, WalkForwardConfig{InSampleDays: 4, OutSampleDays: 0}); !errors.IsConfigurationError(err) {
		t.Errorf("zero out-sample error = %v, want configuration error", err)
	}
}

func TestWalkForwardOptimize(t *testing.T) {
	prices := rampTable(t)
	grid, err := NewGrid(ValuesAxis("window", 2, 3), ValuesAxis("top_n", 1))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}

	wfo, err := NewWalkForwardOptimizer(
		WalkForwardConfig{InSampleDays: 6, OutSampleDays: 2},
		strategy.NewRegistry(), quietLogger(),
	)
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}

	report, err := wfo.Optimize(context.Background(), Request{
		Strategy: "momentum",
		Grid:     grid,
		Config:   backtest.DefaultConfig(),
		Prices:   prices,
	})
	if err != nil {
		t.Fatalf("failed to optimize: %v", err)
	}

	if len(report.Windows) != 2 {
		t.Fatalf("window count = %d, want 2", len(report.Windows))
	}
	for i, w := range report.Windows {
		if w.InSample == nil || w.OutSample == nil {
			t.Fatalf("window %d missing reports", i)
		}
		if w.Params["top_n"] != 1 {
			t.Errorf("window %d top_n = %v, want 1", i, w.Params["top_n"])
		}
		if w.Params["window"] != 2 && w.Params["window"] != 3 {
			t.Errorf("window %d picked window = %v, want a grid value", i, w.Params["window"])
		}
	}
	if !report.Windows[0].Split.OutStart.Equal(day(t, "2023-05-16")) {
		t.Errorf("first out-sample start = %s, want 2023-05-16",
			report.Windows[0].Split.OutStart.Format("2006-01-02"))
	}

	if report.Parameters["top_n"] != 1 {
		t.Errorf("chosen top_n = %v, want 1", report.Parameters["top_n"])
	}
	if !approx(report.Stability["top_n"], 1, 1e-12) {
		t.Errorf("top_n stability = %v, want 1 for a constant winner", report.Stability["top_n"])
	}
	if _, ok := report.Stability["window"]; !ok {
		t.Errorf("stability missing window parameter")
	}
	if math.IsNaN(report.Robustness) || report.Robustness < 0 {
		t.Errorf("robustness = %v, want finite non-negative", report.Robustness)
	}
}

func TestWalkForwardCanceledContext(t *testing.T) {
	prices := rampTable(t)
	grid, err := NewGrid(ValuesAxis("window", 2))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}
	wfo, err := NewWalkForwardOptimizer(
		WalkForwardConfig{InSampleDays: 6, OutSampleDays: 2},
		strategy.NewRegistry(), quietLogger(),
	)
	if err != nil {
		t.Fatalf("failed to build optimizer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := wfo.Optimize(ctx, Request{
		Strategy: "momentum",
		Grid:     grid,
		Config:   backtest.DefaultConfig(),
		Prices:   prices,
	}); err == nil {
		t.Errorf("Optimize with canceled context returned nil error")
	}
}

func TestModalParams(t *testing.T) {
	windows := []WindowOutcome{
		{Params: strategy.Params{"window": 2}},
		{Params: strategy.Params{"window": 3}},
		{Params: strategy.Params{"window": 3}},
	}
	if got := modalParams(windows); got["window"] != 3 {
		t.Errorf("modal window = %v, want 3", got["window"])
	}

	// 平票时取最近窗口的参数
	tied := []WindowOutcome{
		{Params: strategy.Params{"window": 2}},
		{Params: strategy.Params{"window": 3}},
	}
	if got := modalParams(tied); got["window"] != 3 {
		t.Errorf("tie-break window = %v, want most recent 3", got["window"])
	}

	if modalParams(nil) != nil {
		t.Errorf("modalParams(nil) should be nil")
	}
}

func TestStabilityOf(t *testing.T) {
	if got := stabilityOf([]float64{5, 5, 5}); !approx(got, 1, 1e-12) {
		t.Errorf("constant stability = %v, want 1", got)
	}
	spread := stabilityOf([]float64{0, 10})
	if spread >= 0.5 {
		t.Errorf("dispersed stability = %v, want well below 1", spread)
	}
	if got := stabilityOf([]float64{7}); got != 1 {
		t.Errorf("single value stability = %v, want 1", got)
	}
}

func TestRobustnessOf(t *testing.T) {
	windows := []WindowOutcome{
		{InSample: reportWith(1.0, 0.1, 0.6, 4), OutSample: reportWith(0.9, 0.1, 0.6, 4)},
		{InSample: reportWith(2.0, 0.1, 0.6, 4), OutSample: reportWith(1.6, 0.1, 0.6, 4)},
		{InSample: reportWith(-0.5, 0.1, 0.6, 4), OutSample: reportWith(0.2, 0.1, 0.6, 4)},
	}
	// 比率 [0.8, 0.9]，中位数 0.9，两者都超过 0.7
	got := robustnessOf(windows)
	if !approx(got, 0.9, 1e-12) {
		t.Errorf("robustness = %v, want 0.9", got)
	}

	if robustnessOf(nil) != 0 {
		t.Errorf("robustness of no windows should be 0")
	}
}
