package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one piece of periodic work owned by the scheduler.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func()

	nextAt time.Time
}

// Scheduler owns every periodic task in the router: queue drains, cache
// sweeps, staleness checks, stats snapshots. One wall-clock ticker drives it
// in production; tests call Tick directly with a synthetic clock.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*Job
	logger *logrus.Logger
	now    func() time.Time

	// resolution is the base ticker period, the gcd-ish floor for job
	// intervals. Defaults to the queue drain cadence.
	resolution time.Duration
}

// NewScheduler creates an empty scheduler.
func NewScheduler(resolution time.Duration, logger *logrus.Logger, now func() time.Time) *Scheduler {
	if resolution <= 0 {
		resolution = 25 * time.Millisecond
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{resolution: resolution, logger: logger, now: now}
}

// Add registers a job. Jobs run first on the tick after their interval
// elapses, then at each interval boundary.
func (s *Scheduler) Add(name string, interval time.Duration, run func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &Job{
		Name:     name,
		Interval: interval,
		Run:      run,
		nextAt:   s.now().Add(interval),
	})
}

// Tick runs every job due at t. Returns the names of the jobs that ran.
func (s *Scheduler) Tick(t time.Time) []string {
	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		if !t.Before(job.nextAt) {
			due = append(due, job)
			job.nextAt = t.Add(job.Interval)
		}
	}
	s.mu.Unlock()

	ran := make([]string, 0, len(due))
	for _, job := range due {
		job.Run()
		ran = append(ran, job.Name)
	}
	return ran
}

// Start drives ticks from a single wall-clock ticker until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	s.logger.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case t := <-ticker.C:
			s.Tick(t)
		}
	}
}
