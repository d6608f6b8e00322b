package optimizer

import (
	"math"
	"testing"
	"time"

	"aquant/internal/backtest"
	"aquant/internal/logger"
	"aquant/internal/market"
)

var testDays = []string{
	"2023-05-08", "2023-05-09", "2023-05-10", "2023-05-11", "2023-05-12",
	"2023-05-15", "2023-05-16", "2023-05-17", "2023-05-18", "2023-05-19",
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := market.ParseDate(s)
	if err != nil {
		t.Fatalf("failed to parse date %s: %v", s, err)
	}
	return d
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// tableFromCloses builds a valid price table where each symbol follows the
// given close series with a consistent prev-close chain.
func tableFromCloses(t *testing.T, closes map[string][]float64) *market.PriceTable {
	t.Helper()
	var bars []market.PricePoint
	for sym, cs := range closes {
		prev := cs[0]
		for i, c := range cs {
			hi, lo := c, c
			if prev > hi {
				hi = prev
			}
			if prev < lo {
				lo = prev
			}
			bars = append(bars, market.PricePoint{
				Symbol: sym, Date: day(t, testDays[i]),
				Open: prev, High: hi, Low: lo, Close: c, PrevClose: prev,
				Volume: 1e6,
			})
			prev = c
		}
	}
	return market.NewPriceTable(bars)
}

// rampTable: one rising symbol the strategies select, one flat bystander.
func rampTable(t *testing.T) *market.PriceTable {
	t.Helper()
	return tableFromCloses(t, map[string][]float64{
		"600000.SH": {10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
		"000001.SZ": {20, 20, 20, 20, 20, 20, 20, 20, 20, 20},
	})
}

func quietLogger() logger.Logger {
	return logger.NewLogger(logger.Config{
		Level:  logger.LevelError,
		Format: logger.FormatText,
		Output: "stderr",
	})
}

func waitForJob(t *testing.T, s *Sweeper, id string) *SweepJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := s.Job(id)
		if err != nil {
			t.Fatalf("failed to poll job: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", id)
	return nil
}

func reportWith(sharpe, maxDD, winRate float64, roundTrips int) *backtest.PerformanceReport {
	return &backtest.PerformanceReport{
		SharpeRatio: sharpe,
		MaxDrawdown: maxDD,
		WinRate:     winRate,
		RoundTrips:  roundTrips,
	}
}
