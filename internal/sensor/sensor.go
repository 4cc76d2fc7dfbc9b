package sensor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vigilarium/internal/delivery"
	"vigilarium/internal/domain"
	"vigilarium/internal/probe"
	"vigilarium/internal/scheduler"
)

// Job names exposed over the trigger API
const (
	JobFastScan    = "fast-scan"
	JobFullScan    = "full-scan"
	JobPassiveScan = "passive-scan"
)

// Deliverer ships a collected batch to the orchestrator
type Deliverer interface {
	Deliver(ctx context.Context, observations []domain.Observation) (delivery.Result, error)
}

// Sensor runs probes on a schedule and delivers what they find. The
// fast set covers the cheap probes; the full set adds the slow nmap
// pass; the passive set listens without emitting traffic.
type Sensor struct {
	fast    []probe.Source
	full    []probe.Source
	passive []probe.Source
	client  Deliverer
	sched   *scheduler.Scheduler
	logger  *log.Logger
}

// New creates a sensor and registers its jobs. Zero intervals leave
// a job on-demand only.
func New(fast, full, passive []probe.Source, client Deliverer, fastInterval, fullInterval time.Duration, logger *log.Logger) *Sensor {
	s := &Sensor{
		fast:    fast,
		full:    full,
		passive: passive,
		client:  client,
		sched:   scheduler.New(logger),
		logger:  logger,
	}
	s.sched.Add(JobFastScan, fastInterval, func(ctx context.Context) { s.runSet(ctx, JobFastScan, s.fast) })
	s.sched.Add(JobFullScan, fullInterval, func(ctx context.Context) { s.runSet(ctx, JobFullScan, s.full) })
	s.sched.Add(JobPassiveScan, 0, func(ctx context.Context) { s.runSet(ctx, JobPassiveScan, s.passive) })
	return s
}

// Run starts the scheduled jobs and blocks until ctx is done
func (s *Sensor) Run(ctx context.Context) {
	s.sched.Start(ctx)
}

// Trigger fires a job by name without waiting for it
func (s *Sensor) Trigger(ctx context.Context, name string) bool {
	return s.sched.Trigger(ctx, name)
}

// runSet collects from every probe in the set concurrently, merges
// the results, and delivers them as one batch. A failing probe logs
// and contributes nothing; the rest of the set still delivers.
func (s *Sensor) runSet(ctx context.Context, name string, sources []probe.Source) {
	var mu sync.Mutex
	var batch []domain.Observation

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			observations, err := src.Collect(gctx)
			if err != nil {
				s.logger.Printf("%s: probe %s failed: %v", name, src.Name(), err)
				return nil
			}
			mu.Lock()
			batch = append(batch, observations...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(batch) == 0 {
		s.logger.Printf("%s: nothing observed", name)
		return
	}

	result, err := s.client.Deliver(ctx, batch)
	if err != nil {
		s.logger.Printf("%s: delivery problem (%s): %v", name, result, err)
		return
	}
	s.logger.Printf("%s: %d observations %s", name, len(batch), result)
}

// Routes registers the sensor's local trigger API
func (s *Sensor) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	mux.HandleFunc("POST /scan/active", s.triggerHandler(JobFastScan))
	mux.HandleFunc("POST /scan/passive", s.triggerHandler(JobPassiveScan))
	mux.HandleFunc("POST /scan/run", s.triggerHandler(JobFullScan))
}

func (s *Sensor) triggerHandler(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Detach from the request so the scan outlives the response.
		s.Trigger(context.WithoutCancel(r.Context()), job)
		writeJSON(w, map[string]string{"status": "triggered", "job": job}, http.StatusAccepted)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
