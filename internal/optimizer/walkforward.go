package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/indicator"
	"aquant/internal/logger"
	"aquant/internal/market"
	"aquant/internal/strategy"
)

// WalkForwardConfig controls how the trading calendar is split into
// in-sample optimization windows and out-of-sample evaluation windows.
type WalkForwardConfig struct {
	InSampleDays  int  `yaml:"in_sample_days" json:"in_sample_days"`   // 样本内交易日数
	OutSampleDays int  `yaml:"out_sample_days" json:"out_sample_days"` // 样本外交易日数
	Anchored      bool `yaml:"anchored" json:"anchored"`               // 锚定式固定起点，否则滚动
}

// Validate checks the window sizes.
func (c *WalkForwardConfig) Validate() error {
	if c.InSampleDays < 2 {
		return errors.NewConfigurationError("in_sample_days", "must be at least 2 trading days")
	}
	if c.OutSampleDays < 1 {
		return errors.NewConfigurationError("out_sample_days", "must be at least 1 trading day")
	}
	return nil
}

// Split is one walk-forward window pair. All bounds are trading dates and
// both ranges are inclusive; the out-of-sample range starts the trading day
// after the in-sample range ends.
type Split struct {
	InStart  time.Time `json:"in_start"`
	InEnd    time.Time `json:"in_end"`
	OutStart time.Time `json:"out_start"`
	OutEnd   time.Time `json:"out_end"`
}

// SplitCalendar cuts the calendar into walk-forward windows. Anchored mode
// grows the in-sample range from a fixed start; rolling mode slides a fixed
// size window forward by one out-of-sample step each time.
func SplitCalendar(cal *market.Calendar, cfg WalkForwardConfig) ([]Split, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dates := cal.Dates()
	n := len(dates)
	in, out := cfg.InSampleDays, cfg.OutSampleDays
	if n < in+out {
		return nil, errors.NewDataValidationError("", "", "calendar",
			fmt.Sprintf("insufficient history for walk-forward: %d trading days, need at least %d", n, in+out))
	}

	var splits []Split
	if cfg.Anchored {
		// 锚定式：固定起始点，样本内逐窗扩张
		for end := in; end+out <= n; end += out {
			splits = append(splits, Split{
				InStart:  dates[0],
				InEnd:    dates[end-1],
				OutStart: dates[end],
				OutEnd:   dates[end+out-1],
			})
		}
	} else {
		// 滚动式：窗口整体前移
		for start := 0; start+in+out <= n; start += out {
			splits = append(splits, Split{
				InStart:  dates[start],
				InEnd:    dates[start+in-1],
				OutStart: dates[start+in],
				OutEnd:   dates[start+in+out-1],
			})
		}
	}
	return splits, nil
}

// WindowOutcome is the result of one walk-forward window: the parameters
// picked in-sample and the reports on both sides of the cut.
type WindowOutcome struct {
	Split     Split                       `json:"split"`
	Params    strategy.Params             `json:"params"`
	InSample  *backtest.PerformanceReport `json:"in_sample"`
	OutSample *backtest.PerformanceReport `json:"out_sample"`
}

// WalkForwardReport aggregates all windows. Parameters holds the combination
// that won the most windows; Stability is per-parameter inverse dispersion of
// the winning values; Robustness compares out-of-sample Sharpe against
// in-sample Sharpe across windows.
type WalkForwardReport struct {
	Windows    []WindowOutcome    `json:"windows"`
	Parameters strategy.Params    `json:"parameters"`
	Stability  map[string]float64 `json:"stability"`
	Robustness float64            `json:"robustness"`
}

// WalkForwardOptimizer runs a grid search inside each in-sample window and
// replays the winning parameters on the following out-of-sample window.
type WalkForwardOptimizer struct {
	cfg      WalkForwardConfig
	registry *strategy.Registry
	log      logger.Logger
}

// NewWalkForwardOptimizer creates a walk-forward optimizer.
func NewWalkForwardOptimizer(cfg WalkForwardConfig, registry *strategy.Registry, log logger.Logger) (*WalkForwardOptimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &WalkForwardOptimizer{cfg: cfg, registry: registry, log: log}, nil
}

type comboRun struct {
	params  strategy.Params
	signals []backtest.Signal
}

// Optimize splits the request's calendar, searches the grid in every
// in-sample window and summarizes out-of-sample performance. Signals are
// generated once per combination and shared across windows; the engine
// confines each run to its window.
func (o *WalkForwardOptimizer) Optimize(ctx context.Context, req Request) (*WalkForwardReport, error) {
	if err := validateRequest(o.registry, req); err != nil {
		return nil, err
	}
	splits, err := SplitCalendar(req.Prices.Calendar(), o.cfg)
	if err != nil {
		return nil, err
	}

	runs, err := o.prepareCombos(ctx, req)
	if err != nil {
		return nil, err
	}

	windows := make([]WindowOutcome, 0, len(splits))
	for _, split := range splits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, err := o.optimizeWindow(ctx, req, split, runs)
		if err != nil {
			return nil, fmt.Errorf("failed to optimize window %s..%s: %w",
				market.FormatDate(split.InStart), market.FormatDate(split.InEnd), err)
		}
		windows = append(windows, *outcome)
	}

	report := &WalkForwardReport{
		Windows:    windows,
		Parameters: modalParams(windows),
		Stability:  stabilityByParam(windows),
		Robustness: robustnessOf(windows),
	}
	o.log.Info("walk-forward optimization finished",
		"windows", len(windows),
		"robustness", report.Robustness,
	)
	return report, nil
}

// prepareCombos instantiates every grid combination and generates its signal
// table over the full price history. Combinations that cannot produce
// signals are skipped, not fatal.
func (o *WalkForwardOptimizer) prepareCombos(ctx context.Context, req Request) ([]comboRun, error) {
	ind := indicator.NewService(req.Prices)
	combos := req.Grid.Combinations()

	runs := make([]comboRun, 0, len(combos))
	for _, params := range combos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		strat, err := o.registry.Create(req.Strategy, params)
		if err != nil {
			o.log.Warn("skipping parameter combination",
				"params", fmt.Sprintf("%v", params), "error", err.Error())
			continue
		}
		signals, err := strat.GenerateSignals(ctx, req.Prices, ind)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			o.log.Warn("skipping parameter combination",
				"params", fmt.Sprintf("%v", params), "error", err.Error())
			continue
		}
		runs = append(runs, comboRun{params: params, signals: signals})
	}
	if len(runs) == 0 {
		return nil, errors.NewAppError(errors.ErrCodeSweepFailed,
			"no parameter combination produced signals", nil)
	}
	return runs, nil
}

// optimizeWindow grid-searches one in-sample range and evaluates the winner
// out-of-sample.
func (o *WalkForwardOptimizer) optimizeWindow(ctx context.Context, req Request, split Split, runs []comboRun) (*WindowOutcome, error) {
	bestScore := -math.MaxFloat64
	var best *comboRun
	var bestReport *backtest.PerformanceReport

	for i := range runs {
		report, err := o.evaluate(ctx, req, runs[i].signals, split.InStart, split.InEnd)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			o.log.Warn("in-sample run failed",
				"params", fmt.Sprintf("%v", runs[i].params), "error", err.Error())
			continue
		}
		if score := Score(report); score > bestScore {
			bestScore = score
			best = &runs[i]
			bestReport = report
		}
	}
	if best == nil {
		return nil, errors.NewAppError(errors.ErrCodeSweepFailed,
			"no parameter combination could be evaluated in-sample", nil)
	}

	outReport, err := o.evaluate(ctx, req, best.signals, split.OutStart, split.OutEnd)
	if err != nil {
		return nil, fmt.Errorf("out-of-sample evaluation failed: %w", err)
	}

	return &WindowOutcome{
		Split:     split,
		Params:    best.params.Clone(),
		InSample:  bestReport,
		OutSample: outReport,
	}, nil
}

// evaluate runs one signal table confined to [start, end].
func (o *WalkForwardOptimizer) evaluate(ctx context.Context, req Request, signals []backtest.Signal, start, end time.Time) (*backtest.PerformanceReport, error) {
	cfg := req.Config.Clone()
	cfg.StartDate = market.FormatDate(start)
	cfg.EndDate = market.FormatDate(end)

	engine, err := backtest.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	out, err := engine.Run(ctx, signals, req.Prices)
	if err != nil {
		return nil, err
	}
	return out.Report, nil
}

// modalParams returns the parameter combination that won the most windows.
// Ties go to the combination that won most recently.
func modalParams(windows []WindowOutcome) strategy.Params {
	if len(windows) == 0 {
		return nil
	}
	counts := make(map[string]int)
	lastSeen := make(map[string]int)
	byKey := make(map[string]strategy.Params)
	for i, w := range windows {
		key := paramsKey(w.Params)
		counts[key]++
		lastSeen[key] = i
		byKey[key] = w.Params
	}

	bestKey := ""
	for key := range counts {
		if bestKey == "" {
			bestKey = key
			continue
		}
		if counts[key] > counts[bestKey] ||
			(counts[key] == counts[bestKey] && lastSeen[key] > lastSeen[bestKey]) {
			bestKey = key
		}
	}
	return byKey[bestKey].Clone()
}

func paramsKey(p strategy.Params) string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(p[name], 'g', -1, 64))
		b.WriteByte(';')
	}
	return b.String()
}

// stabilityByParam measures how much each parameter's winning value moved
// across windows: 1/(1+std), so 1 means the same value won everywhere.
func stabilityByParam(windows []WindowOutcome) map[string]float64 {
	if len(windows) == 0 {
		return nil
	}
	out := make(map[string]float64, len(windows[0].Params))
	for name := range windows[0].Params {
		values := make([]float64, len(windows))
		for i, w := range windows {
			values[i] = w.Params[name]
		}
		out[name] = stabilityOf(values)
	}
	return out
}

func stabilityOf(values []float64) float64 {
	if len(values) < 2 {
		return 1
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)

	return 1 / (1 + math.Sqrt(variance))
}

// robustnessOf scores out-of-sample consistency: the median out/in Sharpe
// ratio times the share of windows keeping at least 70% of the in-sample
// Sharpe. Windows without a positive Sharpe on both sides are skipped.
func robustnessOf(windows []WindowOutcome) float64 {
	var ratios []float64
	for _, w := range windows {
		if w.InSample.SharpeRatio > 0 && w.OutSample.SharpeRatio > 0 {
			ratios = append(ratios, w.OutSample.SharpeRatio/w.InSample.SharpeRatio)
		}
	}
	if len(ratios) == 0 {
		return 0
	}

	sort.Float64s(ratios)
	median := ratios[len(ratios)/2]
	consistency := 0.0
	for _, r := range ratios {
		// 样本外夏普至少达到样本内的70%
		if r >= 0.7 {
			consistency++
		}
	}
	consistency /= float64(len(ratios))

	return median * consistency
}
