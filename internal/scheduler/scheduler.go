package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CycleFunc is invoked on every scheduler tick.
type CycleFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// RunOnStart fires one cycle right after the startup delay instead
	// of waiting a full interval. The engine's own interval gate decides
	// whether the cycle actually scrapes, so firing early is safe.
	RunOnStart bool
}

// Scheduler drives periodic execution of monitoring cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the cycle function on each tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, cycle CycleFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.execute(ctx, cycle)
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.logger.Debug().Dur("interval", s.opts.Interval).Msg("waiting for next tick")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		s.execute(ctx, cycle)
	}
}

func (s *Scheduler) execute(ctx context.Context, cycle CycleFunc) {
	started := time.Now()
	s.logger.Info().Msg("executing scheduled cycle")
	if err := cycle(ctx); err != nil {
		s.logger.Error().Err(err).Msg("cycle execution failed")
		return
	}
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("cycle finished")
}
