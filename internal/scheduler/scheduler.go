package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per poll iteration. Iterations count from 1.
type TickFunc func(ctx context.Context, iteration uint64) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the target period between iteration starts.
	Interval time.Duration
	// StartupDelay postpones the first iteration.
	StartupDelay time.Duration
	// MaxIterations stops the loop after that many iterations; zero runs until cancelled.
	MaxIterations uint64
}

// Scheduler drives the fixed-cadence poll loop. An iteration that overruns the
// interval is followed immediately by the next one; iterations never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Run blocks, invoking tick until ctx is cancelled or MaxIterations is reached.
// Tick errors and panics are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for iteration := uint64(1); ; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := s.now()
		s.logger.Debug().Uint64("iteration", iteration).Msg("executing scheduled tick")

		if err := s.invoke(ctx, tick, iteration); err != nil {
			s.logger.Error().Err(err).Uint64("iteration", iteration).Msg("tick execution failed")
		}

		if s.opts.MaxIterations > 0 && iteration >= s.opts.MaxIterations {
			return nil
		}

		elapsed := s.now().Sub(started)
		wait := s.NextDelay(elapsed)
		if wait == 0 {
			s.logger.Warn().Dur("elapsed", elapsed).Dur("interval", s.opts.Interval).Msg("iteration overran interval")
			continue
		}
		s.logger.Debug().Dur("elapsed", elapsed).Dur("wait", wait).Msg("waiting for next iteration")
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// NextDelay returns max(0, interval - elapsed).
func (s *Scheduler) NextDelay(elapsed time.Duration) time.Duration {
	if wait := s.opts.Interval - elapsed; wait > 0 {
		return wait
	}
	return 0
}

func (s *Scheduler) invoke(ctx context.Context, tick TickFunc, iteration uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return tick(ctx, iteration)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
