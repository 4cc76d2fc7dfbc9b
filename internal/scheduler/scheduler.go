package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// job is one recurring task with overlap suppression
type job struct {
	name     string
	interval time.Duration
	fn       func(context.Context)

	mu      sync.Mutex
	running bool
}

// tryRun executes the job unless a previous run is still in flight
func (j *job) tryRun(ctx context.Context, logger *log.Logger) bool {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		logger.Printf("%s still running, skipping this cycle", j.name)
		return false
	}
	j.running = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	start := time.Now()
	j.fn(ctx)
	logger.Printf("%s finished in %s", j.name, time.Since(start).Round(time.Millisecond))
	return true
}

// Scheduler runs named jobs on fixed intervals and on demand. A job
// never overlaps itself: cycles and triggers that land while the
// previous run is still going are skipped, not queued.
type Scheduler struct {
	logger *log.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates an empty scheduler
func New(logger *log.Logger) *Scheduler {
	return &Scheduler{logger: logger, jobs: make(map[string]*job)}
}

// Add registers a job. An interval of zero means on-demand only.
func (s *Scheduler) Add(name string, interval time.Duration, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
}

// Start launches the ticker loop for every interval job and blocks
// until ctx is done. Each job runs once immediately at startup.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	var scheduled []*job
	for _, j := range s.jobs {
		if j.interval > 0 {
			scheduled = append(scheduled, j)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range scheduled {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()
			s.logger.Printf("%s scheduled every %s", j.name, j.interval)
			j.tryRun(ctx, s.logger)

			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					j.tryRun(ctx, s.logger)
				}
			}
		}(j)
	}
	wg.Wait()
}

// Trigger fires a job by name without waiting for its completion.
// Reports whether the job exists; a trigger during an in-flight run
// is accepted and then skipped by the overlap guard.
func (s *Scheduler) Trigger(ctx context.Context, name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	go j.tryRun(ctx, s.logger)
	return true
}
