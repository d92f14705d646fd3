package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avikram/metalpulse/pkg/logger"
)

// Job is a named maintenance task with a cron schedule.
type Job interface {
	// Name returns the job name.
	Name() string

	// Run executes the job.
	Run(ctx context.Context) error

	// Schedule returns the cron expression, seconds field included.
	Schedule() string
}

// Result records one job execution.
type Result struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// history keeps the last 100 results per job.
type history struct {
	results []Result
}

func (h *history) add(result Result) {
	h.results = append(h.results, result)
	if len(h.results) > 100 {
		h.results = h.results[len(h.results)-100:]
	}
}

// Runner schedules maintenance jobs on cron expressions, independent of the
// polling loop. Failed runs retry in place; a job that exhausts retries waits
// for its next scheduled slot.
type Runner struct {
	cron   *cron.Cron
	logger *logger.Logger

	// ctx is threaded into every job run so Stop can interrupt both the job
	// and any pending retry delay.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	jobs      map[string]Job
	histories map[string]*history

	maxRetries int
	retryDelay time.Duration
}

// NewRunner creates a job runner.
func NewRunner(log *logger.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:       cron.New(cron.WithSeconds()),
		logger:     log.WithField("module", "jobs"),
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]Job),
		histories:  make(map[string]*history),
		maxRetries: 3,
		retryDelay: time.Minute,
	}
}

// Register adds a job to the schedule.
func (r *Runner) Register(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := job.Name()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	if _, err := r.cron.AddFunc(job.Schedule(), func() {
		r.execute(job)
	}); err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}

	r.jobs[name] = job
	r.histories[name] = &history{}

	r.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": job.Schedule(),
	}).Info("Job registered")

	return nil
}

// Start begins dispatching scheduled jobs.
func (r *Runner) Start() {
	r.logger.Info("Job runner started")
	r.cron.Start()
}

// Stop halts the schedule, interrupts running jobs and retry waits, and
// waits for in-flight executions to return.
func (r *Runner) Stop() {
	r.cancel()
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Job runner stopped")
}

// Trigger runs a job immediately, outside its schedule.
func (r *Runner) Trigger(name string) error {
	r.mu.RLock()
	job, exists := r.jobs[name]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	go r.execute(job)
	return nil
}

// execute runs a job with retries and records the result.
func (r *Runner) execute(job Job) {
	name := job.Name()
	started := time.Now()

	r.logger.WithField("job", name).Info("Job started")

	var lastErr error
	var success bool
retry:
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := job.Run(r.ctx); err == nil {
			success = true
			break
		} else {
			lastErr = err
		}

		r.logger.WithFields(map[string]interface{}{
			"job":     name,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("Job run failed")

		if attempt < r.maxRetries {
			select {
			case <-time.After(r.retryDelay):
			case <-r.ctx.Done():
				break retry
			}
		}
	}

	result := Result{
		JobName:   name,
		StartTime: started,
		Duration:  time.Since(started),
		Success:   success,
	}
	if !success && lastErr != nil {
		result.Error = lastErr.Error()
	}

	r.mu.Lock()
	if h, exists := r.histories[name]; exists {
		h.add(result)
	}
	r.mu.Unlock()

	if success {
		r.logger.WithFields(map[string]interface{}{
			"job":      name,
			"duration": result.Duration,
		}).Info("Job completed")
	} else {
		r.logger.WithFields(map[string]interface{}{
			"job":      name,
			"duration": result.Duration,
			"error":    result.Error,
		}).Error("Job failed after retries")
	}
}

// Stats summarizes the recorded runs of one job.
type Stats struct {
	JobName      string     `json:"job_name"`
	Schedule     string     `json:"schedule"`
	TotalRuns    int        `json:"total_runs"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastRun      *time.Time `json:"last_run,omitempty"`
}

// AllStats returns per-job run statistics.
func (r *Runner) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.histories))
	for name, h := range r.histories {
		s := Stats{
			JobName:   name,
			Schedule:  r.jobs[name].Schedule(),
			TotalRuns: len(h.results),
		}
		for _, result := range h.results {
			if result.Success {
				s.SuccessCount++
			} else {
				s.FailureCount++
			}
		}
		if n := len(h.results); n > 0 {
			s.LastRun = &h.results[n-1].StartTime
		}
		stats[name] = s
	}

	return stats
}
