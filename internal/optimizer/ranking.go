package optimizer

import (
	"fmt"
	"math"
	"sort"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/strategy"
)

// DefaultMetric is the ranking metric used when none is requested.
const DefaultMetric = "sharpe_ratio"

// Score collapses a report into one comparable number: the Sharpe ratio,
// penalized when drawdown exceeds 50% or the win rate falls below 40%.
// Penalties always worsen the score, also for negative Sharpe values.
func Score(r *backtest.PerformanceReport) float64 {
	if r == nil {
		return -math.MaxFloat64
	}
	penalty := 1.0
	if r.MaxDrawdown > 0.5 {
		penalty *= 0.5
	}
	if r.WinRate < 0.4 && r.RoundTrips > 0 {
		penalty *= 0.8
	}
	score := r.SharpeRatio
	if score >= 0 {
		return score * penalty
	}
	return score / penalty
}

// Ranked is one sweep result positioned by the ranking metric.
type Ranked struct {
	Rank   int                         `json:"rank"`
	Params strategy.Params             `json:"params"`
	RunID  string                      `json:"run_id"`
	Report *backtest.PerformanceReport `json:"report"`
	Value  float64                     `json:"value"`
}

// Rank orders successful results by the named report metric, best first.
// Failed runs are excluded. The input order breaks ties so ranking is
// deterministic for a given result sequence.
func Rank(results []RunResult, metric string) ([]Ranked, error) {
	if metric == "" {
		metric = DefaultMetric
	}
	if _, ok := (&backtest.PerformanceReport{}).Metrics()[metric]; !ok {
		return nil, errors.NewConfigurationError("metric", fmt.Sprintf("unknown ranking metric %q", metric))
	}

	ranked := make([]Ranked, 0, len(results))
	for _, res := range results {
		if res.Report == nil {
			continue
		}
		ranked = append(ranked, Ranked{
			Params: res.Params,
			RunID:  res.RunID,
			Report: res.Report,
			Value:  res.Report.Metrics()[metric],
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Value > ranked[j].Value
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked, nil
}

// Best returns the top-ranked result, or an error when nothing succeeded.
func Best(results []RunResult, metric string) (Ranked, error) {
	ranked, err := Rank(results, metric)
	if err != nil {
		return Ranked{}, err
	}
	if len(ranked) == 0 {
		return Ranked{}, errors.NewAppError(errors.ErrCodeSweepFailed, "no successful runs to rank", nil)
	}
	return ranked[0], nil
}
