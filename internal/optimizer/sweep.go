package optimizer

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquant/internal/backtest"
	"aquant/internal/errors"
	"aquant/internal/indicator"
	"aquant/internal/logger"
	"aquant/internal/market"
	"aquant/internal/strategy"
)

// JobStatus is the lifecycle state of a sweep job.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCanceled  JobStatus = "CANCELED"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCanceled
}

// RunResult is the outcome of one parameter combination.
type RunResult struct {
	Params strategy.Params             `json:"params"`
	RunID  string                      `json:"run_id,omitempty"`
	Report *backtest.PerformanceReport `json:"report,omitempty"`
	Score  float64                     `json:"score"`
	Error  string                      `json:"error,omitempty"`
}

// SweepJob is a point-in-time view of one sweep. Results appear in
// completion order; rank them with Rank before presenting.
type SweepJob struct {
	ID         string      `json:"id"`
	Strategy   string      `json:"strategy"`
	Status     JobStatus   `json:"status"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`
	Failed     int         `json:"failed"`
	Results    []RunResult `json:"results,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  time.Time   `json:"started_at,omitempty"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
}

// Progress returns the finished fraction in [0, 1].
func (j *SweepJob) Progress() float64 {
	if j.Total == 0 {
		return 0
	}
	return float64(j.Completed+j.Failed) / float64(j.Total)
}

// Request describes one sweep: a strategy run once per grid combination
// against a fixed engine configuration and price table.
type Request struct {
	Strategy string
	Grid     *Grid
	Config   *backtest.Config
	Prices   *market.PriceTable
}

type jobState struct {
	job    SweepJob
	cancel context.CancelFunc
}

// Sweeper expands parameter grids into backtest runs and executes them on a
// bounded worker pool shared across jobs. Runs are independent: each worker
// builds its own engine and ledger, only the price table is shared.
type Sweeper struct {
	registry *strategy.Registry
	workers  int
	log      logger.Logger

	mu   sync.RWMutex
	jobs map[string]*jobState
	pool chan struct{}
}

// NewSweeper creates a sweeper with the given worker count. A non-positive
// count defaults to the number of CPUs.
func NewSweeper(registry *strategy.Registry, workers int, log logger.Logger) *Sweeper {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Sweeper{
		registry: registry,
		workers:  workers,
		log:      log,
		jobs:     make(map[string]*jobState),
		pool:     make(chan struct{}, workers),
	}
}

// Submit validates the request, registers a pending job and starts executing
// it in the background. The returned snapshot carries the job ID used for
// polling and cancellation.
func (s *Sweeper) Submit(req Request) (*SweepJob, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &jobState{
		job: SweepJob{
			ID:        uuid.New().String(),
			Strategy:  req.Strategy,
			Status:    JobPending,
			Total:     req.Grid.Size(),
			CreatedAt: time.Now(),
		},
		cancel: cancel,
	}

	snap := state.job

	s.mu.Lock()
	s.jobs[state.job.ID] = state
	s.mu.Unlock()

	s.log.Info("sweep job submitted",
		"job_id", snap.ID,
		"strategy", req.Strategy,
		"combinations", snap.Total,
	)

	go s.run(ctx, snap.ID, req)

	return &snap, nil
}

func (s *Sweeper) validate(req Request) error {
	return validateRequest(s.registry, req)
}

func validateRequest(registry *strategy.Registry, req Request) error {
	if req.Strategy == "" {
		return errors.NewConfigurationError("strategy", "strategy name is required")
	}
	known := false
	for _, name := range registry.Names() {
		if name == req.Strategy {
			known = true
			break
		}
	}
	if !known {
		return errors.NewAppError(errors.ErrCodeStrategyNotFound,
			fmt.Sprintf("strategy not registered: %s", req.Strategy), nil)
	}
	if req.Grid == nil || req.Grid.Size() == 0 {
		return errors.NewConfigurationError("grid", "parameter grid is empty")
	}
	if req.Config == nil {
		return errors.NewConfigurationError("config", "backtest config is required")
	}
	if err := req.Config.Validate(); err != nil {
		return err
	}
	if req.Prices == nil || req.Prices.Calendar().Len() == 0 {
		return errors.NewConfigurationError("prices", "price table is empty")
	}
	return nil
}

// run drains the grid through the worker pool. Cancellation stops queued
// combinations; combinations already running complete their date loop.
func (s *Sweeper) run(ctx context.Context, id string, req Request) {
	s.mu.Lock()
	if st, ok := s.jobs[id]; ok {
		st.job.Status = JobRunning
		st.job.StartedAt = time.Now()
	}
	s.mu.Unlock()

	ind := indicator.NewService(req.Prices)
	combos := req.Grid.Combinations()

	var wg sync.WaitGroup
	canceled := false
	for _, params := range combos {
		select {
		case <-ctx.Done():
			canceled = true
		case s.pool <- struct{}{}:
			wg.Add(1)
			go func(p strategy.Params) {
				defer wg.Done()
				defer func() { <-s.pool }()
				s.record(id, s.runOne(ctx, req, ind, p))
			}(params)
		}
		if canceled {
			break
		}
	}
	wg.Wait()

	s.finish(id, canceled || ctx.Err() != nil)
}

// runOne executes a single parameter combination. Failures are data, not
// job aborts: the error lands in the result and the sweep continues.
func (s *Sweeper) runOne(ctx context.Context, req Request, ind *indicator.Service, params strategy.Params) RunResult {
	res := RunResult{Params: params}

	strat, err := s.registry.Create(req.Strategy, params)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	signals, err := strat.GenerateSignals(ctx, req.Prices, ind)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	engine, err := backtest.NewEngine(req.Config.Clone())
	if err != nil {
		res.Error = err.Error()
		return res
	}
	out, err := engine.Run(ctx, signals, req.Prices)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.RunID = out.RunID
	res.Report = out.Report
	res.Score = Score(out.Report)
	return res
}

func (s *Sweeper) record(id string, res RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[id]
	if !ok {
		return
	}
	st.job.Results = append(st.job.Results, res)
	if res.Error == "" {
		st.job.Completed++
	} else {
		st.job.Failed++
		s.log.Warn("sweep run failed",
			"job_id", id,
			"params", fmt.Sprintf("%v", res.Params),
			"error", res.Error,
		)
	}
}

func (s *Sweeper) finish(id string, canceled bool) {
	s.mu.Lock()
	st, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	st.job.FinishedAt = time.Now()
	switch {
	case canceled:
		st.job.Status = JobCanceled
	case st.job.Failed == st.job.Total && st.job.Total > 0:
		st.job.Status = JobFailed
		for _, res := range st.job.Results {
			if res.Error != "" {
				st.job.Error = res.Error
				break
			}
		}
	default:
		st.job.Status = JobCompleted
	}
	snap := st.job
	s.mu.Unlock()

	s.log.Info("sweep job finished",
		"job_id", id,
		"status", string(snap.Status),
		"completed", snap.Completed,
		"failed", snap.Failed,
		"duration", snap.FinishedAt.Sub(snap.StartedAt).String(),
	)
}

// Job returns a snapshot of the job with the given ID.
func (s *Sweeper) Job(id string) (*SweepJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.jobs[id]
	if !ok {
		return nil, errors.NewAppError(errors.ErrCodeNotFound, fmt.Sprintf("sweep job not found: %s", id), nil)
	}
	snap := st.job
	snap.Results = append([]RunResult(nil), st.job.Results...)
	return &snap, nil
}

// Jobs returns snapshots of all jobs, newest first.
func (s *Sweeper) Jobs() []*SweepJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SweepJob, 0, len(s.jobs))
	for _, st := range s.jobs {
		snap := st.job
		snap.Results = append([]RunResult(nil), st.job.Results...)
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a pending or running job. Combinations that already started
// finish their date loop; queued ones never start.
func (s *Sweeper) Cancel(id string) error {
	s.mu.Lock()
	st, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errors.NewAppError(errors.ErrCodeNotFound, fmt.Sprintf("sweep job not found: %s", id), nil)
	}
	if st.job.Status.Terminal() {
		s.mu.Unlock()
		return errors.NewAppError(errors.ErrCodeConflict,
			fmt.Sprintf("sweep job already %s", st.job.Status), nil)
	}
	cancel := st.cancel
	s.mu.Unlock()

	cancel()
	s.log.Info("sweep job canceled", "job_id", id)
	return nil
}

// QueueStats aggregates job counts by status.
type QueueStats struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	CanceledJobs  int `json:"canceled_jobs"`
	ActiveWorkers int `json:"active_workers"`
	Workers       int `json:"workers"`
}

// Stats returns queue statistics for monitoring.
func (s *Sweeper) Stats() QueueStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := QueueStats{
		TotalJobs:     len(s.jobs),
		ActiveWorkers: len(s.pool),
		Workers:       s.workers,
	}
	for _, st := range s.jobs {
		switch st.job.Status {
		case JobPending:
			stats.PendingJobs++
		case JobRunning:
			stats.RunningJobs++
		case JobCompleted:
			stats.CompletedJobs++
		case JobFailed:
			stats.FailedJobs++
		case JobCanceled:
			stats.CanceledJobs++
		}
	}
	return stats
}

// CleanupFinishedJobs drops terminal jobs older than the given age and
// returns how many were removed.
func (s *Sweeper) CleanupFinishedJobs(age time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, st := range s.jobs {
		if st.job.Status.Terminal() && now.Sub(st.job.FinishedAt) > age {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}
