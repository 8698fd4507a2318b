// Package retention deletes event logs older than the retention horizon.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/clock"
	"github.com/djlord-it/eventtrigger/internal/cron"
)

const jobName = "retention"

type Store interface {
	// DeleteEventLogsBefore removes logs with triggered_at strictly before cutoff.
	DeleteEventLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SystemScheduler installs recurring infrastructure jobs.
type SystemScheduler interface {
	ScheduleSystem(name string, rule cron.Schedule, run func(ctx context.Context) error) error
}

type MetricsSink interface {
	RetentionSweepCompleted(deleted int64, duration time.Duration, err error)
}

type Config struct {
	Interval time.Duration
	Horizon  time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: time.Hour, Horizon: 48 * time.Hour}
}

type Sweeper struct {
	store   Store
	clock   clock.Clock
	config  Config
	log     zerolog.Logger
	metrics MetricsSink
}

func New(store Store, clk clock.Clock, config Config, log zerolog.Logger) *Sweeper {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Horizon <= 0 {
		config.Horizon = def.Horizon
	}
	return &Sweeper{
		store:  store,
		clock:  clk,
		config: config,
		log:    log.With().Str("component", "retention").Logger(),
	}
}

func (s *Sweeper) WithMetrics(sink MetricsSink) *Sweeper {
	s.metrics = sink
	return s
}

// Sweep deletes every log older than the horizon and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	start := s.clock.Now()
	cutoff := start.Add(-s.config.Horizon)

	deleted, err := s.store.DeleteEventLogsBefore(ctx, cutoff)
	if s.metrics != nil {
		s.metrics.RetentionSweepCompleted(deleted, s.clock.Now().Sub(start), err)
	}
	if err != nil {
		return 0, fmt.Errorf("delete event logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	s.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("sweep completed")
	return deleted, nil
}

// Install registers the sweep to run every Interval.
func (s *Sweeper) Install(sched SystemScheduler) error {
	err := sched.ScheduleSystem(jobName, cron.Every(s.config.Interval), func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("install retention: %w", err)
	}
	return nil
}
