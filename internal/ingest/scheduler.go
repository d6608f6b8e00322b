package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aquant/internal/logger"
)

// JobFunc 定时任务处理函数
type JobFunc func(ctx context.Context) error

// JobInfo is a point-in-time view of one scheduled job.
type JobInfo struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
}

type job struct {
	info    JobInfo
	entryID cron.EntryID
	fn      JobFunc
}

// Scheduler wraps cron with named jobs. Specs use the 6-field layout with
// seconds, e.g. "0 30 17 * * 1-5" for weekdays 17:30.
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger

	mu   sync.RWMutex
	jobs map[string]*job
}

// NewScheduler creates a stopped scheduler; call Start to begin dispatching.
func NewScheduler(log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log,
		jobs: make(map[string]*job),
	}
}

// AddJob registers a named job with a cron schedule.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}

	j := &job{
		info: JobInfo{Name: name, Schedule: schedule},
		fn:   fn,
	}
	entryID, err := s.cron.AddFunc(schedule, func() { s.runJob(name) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	j.entryID = entryID
	s.jobs[name] = j
	return nil
}

// Start begins dispatching scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Ingest scheduler started", "jobs", len(s.jobs))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("Ingest scheduler stopped")
}

// RunNow executes a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	s.runJob(name)
	return nil
}

// Jobs returns snapshots of every registered job.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := j.info
		if entry := s.cron.Entry(j.entryID); entry.ID == j.entryID {
			info.NextRun = entry.Next
		}
		out = append(out, info)
	}
	return out
}

func (s *Scheduler) runJob(name string) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	err := j.fn(ctx)

	s.mu.Lock()
	j.info.LastRun = start
	j.info.Runs++
	if err != nil {
		j.info.LastError = err.Error()
	} else {
		j.info.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Scheduled job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.log.Info("Scheduled job completed", "job", name, "duration", time.Since(start))
}
