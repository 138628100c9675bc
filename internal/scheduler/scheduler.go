// Package scheduler drives the periodic pipeline jobs. Each job gets its own
// loop; coordination across processes happens in the service layer through
// advisory locks, not here.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune one job's loop.
type Options struct {
	Name         string
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives aligned execution of one recurring job.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts: opts,
		logger: logger.With().
			Str("component", "scheduler").
			Str("job", opts.Name).
			Logger(),
	}
}

// Run blocks, invoking the tick function at each aligned interval until ctx is
// cancelled. Tick errors are logged, never fatal; the loop always reaches the
// next interval.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		bucket := s.bucketStart(next)
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")

		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}

// Daily invokes a job once per day at a fixed UTC hour. Used for the digest.
type Daily struct {
	hour   int
	logger zerolog.Logger
}

// NewDaily constructs a daily scheduler firing at the given UTC hour.
func NewDaily(hour int, name string, logger zerolog.Logger) *Daily {
	if hour < 0 || hour > 23 {
		panic("daily scheduler hour must be between 0 and 23")
	}
	return &Daily{
		hour: hour,
		logger: logger.With().
			Str("component", "scheduler").
			Str("job", name).
			Logger(),
	}
}

// Run blocks, invoking the tick function once per day until ctx is cancelled.
func (d *Daily) Run(ctx context.Context, tick TickFunc) error {
	for {
		next := d.nextFiring(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		d.logger.Debug().Time("next_firing", next).Msg("waiting for daily firing")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		d.logger.Info().Time("firing", next).Msg("executing daily tick")
		if err := tick(ctx, next); err != nil {
			d.logger.Error().Err(err).Time("firing", next).Msg("daily tick failed")
		}
	}
}

func (d *Daily) nextFiring(now time.Time) time.Time {
	firing := time.Date(now.Year(), now.Month(), now.Day(), d.hour, 0, 0, 0, time.UTC)
	if !firing.After(now) {
		firing = firing.Add(24 * time.Hour)
	}
	return firing
}
