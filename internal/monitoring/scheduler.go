// internal/monitoring/scheduler.go
package monitoring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hostwatch/internal/database"
	"hostwatch/internal/metrics"
)

// Scheduler drives one probe per enabled target per tick through a fixed worker pool.
type Scheduler struct {
	registry *Registry
	prober   Prober
	tracker  *StateTracker
	metrics  *metrics.Collector

	interval time.Duration
	timeout  time.Duration
	workers  int

	jobQueue chan *Job
	sweeping atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Job struct {
	Target database.MonitorTarget
	sweep  *sync.WaitGroup
}

type SchedulerOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	Workers  int
}

func NewScheduler(registry *Registry, prober Prober, tracker *StateTracker, collector *metrics.Collector, opts SchedulerOptions) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scheduler{
		registry: registry,
		prober:   prober,
		tracker:  tracker,
		metrics:  collector,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		workers:  opts.Workers,
		jobQueue: make(chan *Job),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	logrus.WithFields(logrus.Fields{
		"interval": s.interval,
		"timeout":  s.timeout,
		"workers":  s.workers,
	}).Info("Starting scheduler")

	s.startWorkers(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduleSweeps(ctx)
	}()

	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	logrus.Info("Stopping scheduler")
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) startWorkers(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			defer s.wg.Done()
			s.work(ctx, id)
		}(i)
	}
}

func (s *Scheduler) scheduleSweeps(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.goSweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.goSweep(ctx)
		}
	}
}

// goSweep keeps the ticker loop free so an overrunning sweep shows up as a skipped tick.
func (s *Scheduler) goSweep(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunSweep(ctx)
	}()
}

// RunSweep probes every enabled target once and waits for all results to be
// recorded. It returns false without probing if another sweep is in flight.
func (s *Scheduler) RunSweep(ctx context.Context) bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.metrics.RecordSweepSkipped()
		logrus.Warn("Previous sweep still running, skipping tick")
		return false
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	targets, err := s.registry.Enabled(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to load monitor targets")
		return true
	}

	var sweep sync.WaitGroup
	dispatched := 0
dispatch:
	for _, target := range targets {
		sweep.Add(1)
		select {
		case s.jobQueue <- &Job{Target: target, sweep: &sweep}:
			dispatched++
		case <-ctx.Done():
			sweep.Done()
			break dispatch
		}
	}
	sweep.Wait()

	elapsed := time.Since(start)
	s.metrics.RecordSweep(elapsed)
	logrus.WithFields(logrus.Fields{
		"targets":  dispatched,
		"duration": elapsed.Round(time.Millisecond),
	}).Debug("Sweep completed")
	return true
}

func (s *Scheduler) work(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobQueue:
			s.execute(ctx, job)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job *Job) {
	defer job.sweep.Done()

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	outcome := s.prober.Probe(probeCtx, &job.Target)
	probeErr := probeCtx.Err()
	cancel()

	// a probe cut short by shutdown says nothing about the target
	if interruptedByShutdown(ctx, probeErr, outcome) {
		logrus.WithField("domain", job.Target.Domain).Debug("Dropping check interrupted by shutdown")
		return
	}

	if _, _, err := s.tracker.Record(context.WithoutCancel(ctx), &job.Target, outcome); err != nil {
		logrus.WithError(err).WithField("domain", job.Target.Domain).Error("Failed to record check")
	}
}

// interruptedByShutdown reports whether a failed outcome was caused by the
// worker context being cancelled rather than by the probe's own deadline.
func interruptedByShutdown(ctx context.Context, probeErr error, outcome *Outcome) bool {
	if outcome == nil || outcome.Err == nil || ctx.Err() == nil {
		return false
	}
	return !errors.Is(probeErr, context.DeadlineExceeded)
}
