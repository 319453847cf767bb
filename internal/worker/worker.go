package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Job names
const (
	JobReconcile = "reconcile"
	JobSweep     = "orphan_sweep"
)

var (
	// ErrTickInProgress is returned by RunOnce while the job is already running
	ErrTickInProgress = errors.New("tick already in progress")
	// ErrUnknownJob is returned by RunOnce for a job that was never registered
	ErrUnknownJob = errors.New("unknown job")
)

// RunFunc performs one tick of a job and returns its report
type RunFunc func(ctx context.Context) (interface{}, error)

// Job is a periodic task. Ticks of the same job never overlap: a tick that
// fires while the previous one is still running is dropped.
type Job struct {
	Name     string
	Interval time.Duration
	Run      RunFunc

	running atomic.Bool
}

// Ticker is the clock source of a job loop
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Scheduler drives the reconciliation and sweep jobs
type Scheduler struct {
	jobs        map[string]*Job
	order       []string
	tickTimeout time.Duration
	newTicker   func(time.Duration) Ticker
	logger      *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler whose ticks are bounded by tickTimeout
func NewScheduler(tickTimeout time.Duration) *Scheduler {
	return &Scheduler{
		jobs:        make(map[string]*Job),
		tickTimeout: tickTimeout,
		newTicker: func(d time.Duration) Ticker {
			return realTicker{time.NewTicker(d)}
		},
		logger: util.Component("scheduler"),
	}
}

// WithTicker replaces the wall clock ticker factory
func (s *Scheduler) WithTicker(newTicker func(time.Duration) Ticker) *Scheduler {
	s.newTicker = newTicker
	return s
}

// Register adds a job; it must be called before Start
func (s *Scheduler) Register(name string, interval time.Duration, run RunFunc) {
	s.jobs[name] = &Job{Name: name, Interval: interval, Run: run}
	s.order = append(s.order, name)
}

// Start launches one ticker loop per registered job
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		job := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.Info("Scheduler started", zap.Strings("jobs", s.order))
}

// Stop halts the tickers and waits for in-flight ticks to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job *Job) {
	defer s.wg.Done()

	ticker := s.newTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if _, err := s.tick(context.WithoutCancel(ctx), job); err != nil && !errors.Is(err, ErrTickInProgress) {
				s.logger.Error("Job tick failed", zap.String("job", job.Name), zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs a job immediately, outside its schedule
func (s *Scheduler) RunOnce(ctx context.Context, name string) (interface{}, error) {
	job, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return s.tick(ctx, job)
}

func (s *Scheduler) tick(ctx context.Context, job *Job) (report interface{}, err error) {
	if !job.running.CompareAndSwap(false, true) {
		util.ReconcileTicksTotal.WithLabelValues(job.Name, "overlap").Inc()
		s.logger.Debug("Previous tick still running, skipping", zap.String("job", job.Name))
		return nil, ErrTickInProgress
	}
	defer job.running.Store(false)

	if s.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.tickTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
		}

		result := "ok"
		if err != nil {
			result = "error"
		}
		util.ReconcileTicksTotal.WithLabelValues(job.Name, result).Inc()
		util.ReconcileTickDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	}()

	return job.Run(ctx)
}
