// Package scheduler runs the periodic aggregation jobs. Every job owns a
// goroutine and a ticker, so a slow job only delays itself; ticks that
// arrive while a run is still in progress are dropped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/dengruihan/Raymond-Analysis/internal/metrics"
)

const clockTag = "scheduler"

type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type Scheduler struct {
	clock   quartz.Clock
	log     zerolog.Logger
	metrics *metrics.Metrics
	jobs    []Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(clock quartz.Clock, logger zerolog.Logger, m *metrics.Metrics, jobs ...Job) *Scheduler {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Scheduler{
		clock:   clock,
		log:     logger.With().Str("component", "scheduler").Logger(),
		metrics: m,
		jobs:    jobs,
	}
}

// Start runs every job once and then on its period until Stop is called
// or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx, j)
			w := s.clock.TickerFunc(ctx, j.Every, func() error {
				s.run(ctx, j)
				return nil
			}, clockTag, j.Name)
			_ = w.Wait()
		}()
		s.log.Info().Str("job", j.Name).Dur("every", j.Every).Msg("job scheduled")
	}
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	start := s.clock.Now()
	err := j.Run(ctx)
	if s.metrics != nil {
		s.metrics.JobDuration.WithLabelValues(j.Name).Observe(s.clock.Since(start).Seconds())
	}
	if err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Str("job", j.Name).Msg("job failed")
		if s.metrics != nil {
			s.metrics.JobFailures.WithLabelValues(j.Name).Inc()
		}
	}
}
