package optimizer

import (
	"context"
	"testing"
	"time"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/indicator"
	"aquant/internal/market"
	"aquant/internal/strategy"
)

func TestSweepRunsAllCombinations(t *testing.T) {
	prices := rampTable(t)
	grid, err := NewGrid(ValuesAxis("window", 2, 3), ValuesAxis("top_n", 1))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}

	s := NewSweeper(strategy.NewRegistry(), 2, quietLogger())
	job, err := s.Submit(Request{
		Strategy: "momentum",
		Grid:     grid,
		Config:   backtest.DefaultConfig(),
		Prices:   prices,
	})
	if err != nil {
		t.Fatalf("failed to submit sweep: %v", err)
	}
	if job.Status != JobPending || job.Total != 2 {
		t.Errorf("submitted job = %s total %d, want PENDING total 2", job.Status, job.Total)
	}

	done := waitForJob(t, s, job.ID)
	if done.Status != JobCompleted {
		t.Fatalf("status = %s, want COMPLETED (error %q)", done.Status, done.Error)
	}
	if done.Completed != 2 || done.Failed != 0 || len(done.Results) != 2 {
		t.Fatalf("completed %d failed %d results %d, want 2/0/2",
			done.Completed, done.Failed, len(done.Results))
	}
	if !approx(done.Progress(), 1, 1e-12) {
		t.Errorf("Progress = %v, want 1", done.Progress())
	}
	for _, res := range done.Results {
		if res.RunID == "" || res.Report == nil || res.Error != "" {
			t.Errorf("result %v missing run output: run_id=%q err=%q", res.Params, res.RunID, res.Error)
		}
	}

	ranked, err := Rank(done.Results, "final_value")
	if err != nil {
		t.Fatalf("failed to rank results: %v", err)
	}
	if len(ranked) != 2 || ranked[0].Value < ranked[1].Value {
		t.Errorf("ranking not descending: %v vs %v", ranked[0].Value, ranked[1].Value)
	}

	stats := s.Stats()
	if stats.TotalJobs != 1 || stats.CompletedJobs != 1 {
		t.Errorf("stats = %+v, want one completed job", stats)
	}
}

func TestSweepValidation(t *testing.T) {
	prices := rampTable(t)
	grid, err := NewGrid(ValuesAxis("window", 2))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}
	s := NewSweeper(strategy.NewRegistry(), 1, quietLogger())

	cases := []struct {
		name string
		req  Request
		code errors.ErrorCode
	}{
		{"empty strategy", Request{Grid: grid, Config: backtest.DefaultConfig(), Prices: prices}, errors.ErrCodeConfiguration},
		{"unknown strategy", Request{Strategy: "arbitrage", Grid: grid, Config: backtest.DefaultConfig(), Prices: prices}, errors.ErrCodeStrategyNotFound},
		{"nil grid", Request{Strategy: "momentum", Config: backtest.DefaultConfig(), Prices: prices}, errors.ErrCodeConfiguration},
		{"nil config", Request{Strategy: "momentum", Grid: grid, Prices: prices}, errors.ErrCodeConfiguration},
		{"nil prices", Request{Strategy: "momentum", Grid: grid, Config: backtest.DefaultConfig()}, errors.ErrCodeConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Submit(tc.req); !errors.HasCode(err, tc.code) {
				t.Errorf("Submit error = %v, want code %s", err, tc.code)
			}
		})
	}

	bad := backtest.DefaultConfig()
	bad.InitialCapital = -1
	if _, err := s.Submit(Request{Strategy: "momentum", Grid: grid, Config: bad, Prices: prices}); !errors.IsConfigurationError(err) {
		t.Errorf("invalid config error = %v, want configuration error", err)
	}

	if _, err := s.Job("missing"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Job(missing) error = %v, want NOT_FOUND", err)
	}
	if err := s.Cancel("missing"); !errors.HasCode(err, errors.ErrCodeNotFound) {
		t.Errorf("Cancel(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestSweepMarksAllFailedJob(t *testing.T) {
	prices := rampTable(t)
	// top_n 0 使每个组合的策略构造都失败
	grid, err := NewGrid(ValuesAxis("window", 2), ValuesAxis("top_n", 0))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}

	s := NewSweeper(strategy.NewRegistry(), 1, quietLogger())
	job, err := s.Submit(Request{
		Strategy: "momentum",
		Grid:     grid,
		Config:   backtest.DefaultConfig(),
		Prices:   prices,
	})
	if err != nil {
		t.Fatalf("failed to submit sweep: %v", err)
	}

	done := waitForJob(t, s, job.ID)
	if done.Status != JobFailed {
		t.Fatalf("status = %s, want FAILED", done.Status)
	}
	if done.Failed != 1 || done.Error == "" {
		t.Errorf("failed %d error %q, want 1 run failed with message", done.Failed, done.Error)
	}
}

type blockingStrategy struct{}

func (b *blockingStrategy) Name() string { return "gate" }

func (b *blockingStrategy) GenerateSignals(ctx context.Context, _ *market.PriceTable, _ *indicator.Service) ([]backtest.Signal, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSweepCancel(t *testing.T) {
	prices := rampTable(t)
	registry := strategy.NewRegistry()
	if err := registry.Register("gate", func(strategy.Params) (strategy.Strategy, error) {
		return &blockingStrategy{}, nil
	}); err != nil {
		t.Fatalf("failed to register gate strategy: %v", err)
	}

	grid, err := NewGrid(ValuesAxis("x", 1, 2, 3))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}

	s := NewSweeper(registry, 1, quietLogger())
	job, err := s.Submit(Request{
		Strategy: "gate",
		Grid:     grid,
		Config:   backtest.DefaultConfig(),
		Prices:   prices,
	})
	if err != nil {
		t.Fatalf("failed to submit sweep: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("failed to cancel job: %v", err)
	}

	done := waitForJob(t, s, job.ID)
	if done.Status != JobCanceled {
		t.Fatalf("status = %s, want CANCELED", done.Status)
	}
	if done.Completed != 0 {
		t.Errorf("completed = %d, want 0", done.Completed)
	}

	if err := s.Cancel(job.ID); !errors.HasCode(err, errors.ErrCodeConflict) {
		t.Errorf("second cancel error = %v, want CONFLICT", err)
	}
}

func TestSweepJobsSnapshotNewestFirst(t *testing.T) {
	prices := rampTable(t)
	grid, err := NewGrid(ValuesAxis("window", 2))
	if err != nil {
		t.Fatalf("failed to build grid: %v", err)
	}

	s := NewSweeper(strategy.NewRegistry(), 1, quietLogger())
	first, err := s.Submit(Request{Strategy: "momentum", Grid: grid, Config: backtest.DefaultConfig(), Prices: prices})
	if err != nil {
		t.Fatalf("failed to submit first sweep: %v", err)
	}
	waitForJob(t, s, first.ID)
	time.Sleep(5 * time.Millisecond)

	second, err := s.Submit(Request{Strategy: "momentum", Grid: grid, Config: backtest.DefaultConfig(), Prices: prices})
	if err != nil {
		t.Fatalf("failed to submit second sweep: %v", err)
	}
	waitForJob(t, s, second.ID)

	jobs := s.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("job count = %d, want 2", len(jobs))
	}
	if jobs[0].ID != second.ID {
		t.Errorf("newest job first = %s, want %s", jobs[0].ID, second.ID)
	}

	if removed := s.CleanupFinishedJobs(0); removed != 2 {
		t.Errorf("cleanup removed %d, want 2", removed)
	}
	if len(s.Jobs()) != 0 {
		t.Errorf("jobs remain after cleanup")
	}
}
