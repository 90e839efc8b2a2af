// Package scheduler wires the control plane's background cadences
// (spec §4.8, §5): robfig/cron/v3 for daily/hourly jobs and
// time.Ticker + context cancellation for sub-minute loops, matching
// the teacher's use of robfig/cron/v3 in internal/agent/device/policy
// for periodic agent-side tasks, generalized here to server-side
// workers. Workers are added one by one but all stop together through
// Stop; there is no per-worker stop. A failing worker logs and keeps
// going rather than taking the process down.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one named unit of periodic work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler owns a cron.Cron for calendar-based cadences and a set of
// ticker-driven goroutines for sub-minute loops.
type Scheduler struct {
	cron *cron.Cron
	log  logrus.FieldLogger

	wg     sync.WaitGroup
	cancel []context.CancelFunc
}

func New(log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
	}
}

// AddDaily schedules job to run once a day at the given cron spec
// (e.g. "0 3 * * *" for 3am).
func (s *Scheduler) AddDaily(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runOnce(context.Background(), job)
	})
	return err
}

// AddHourly schedules job to run at the top of every hour.
func (s *Scheduler) AddHourly(job Job) error {
	return s.AddDaily("0 * * * *", job)
}

// AddTicker runs job every interval until ctx is canceled, the
// pattern used for the alert loop (60s), purge worker (30s), and
// selection cleanup (10min) cadences from spec §4.8.
func (s *Scheduler) AddTicker(ctx context.Context, interval time.Duration, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	s.cancel = append(s.cancel, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				s.runOnce(jobCtx, job)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("job", job.Name).WithField("panic", r).Error("scheduled job panicked")
		}
	}()
	if err := job.Run(ctx); err != nil {
		s.log.WithError(err).WithField("job", job.Name).Warn("scheduled job failed")
	}
}

// Start begins the cron scheduler; ticker-based jobs added via
// AddTicker are already running by the time this is called.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels all ticker-driven workers and stops cron, waiting for
// in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	for _, cancel := range s.cancel {
		cancel()
	}
	s.wg.Wait()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}
