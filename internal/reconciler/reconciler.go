// Package reconciler keeps the scheduler's live jobs in line with stored
// triggers.
//
// Jobs live only in memory, so after a restart every recurring scheduled
// trigger must be installed again. The same pass also removes jobs whose
// trigger no longer exists. It runs once at startup and then periodically.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

// Store lists every trigger of the scheduled kind and reads single triggers
// back to confirm a restore.
type Store interface {
	ListScheduledTriggers(ctx context.Context) ([]domain.Trigger, error)
	GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
}

type Scheduler interface {
	Installed() []uuid.UUID
	Schedule(t domain.Trigger) error
	Unschedule(id uuid.UUID)
}

type MetricsSink interface {
	ReconcileCompleted(restored, orphaned int)
}

type Config struct {
	// Interval is how often the reconciler runs after the startup pass.
	// Default: 5 minutes.
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// Result summarizes one reconciliation pass.
type Result struct {
	Restored int
	Orphaned int
	Failed   int
}

type Reconciler struct {
	config    Config
	store     Store
	scheduler Scheduler
	log       zerolog.Logger
	metrics   MetricsSink
}

func New(config Config, store Store, sched Scheduler, log zerolog.Logger) *Reconciler {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Reconciler{
		config:    config,
		store:     store,
		scheduler: sched,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run reconciles on every interval. It blocks until ctx is cancelled.
// Callers run the startup pass with Reconcile before starting Run.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.config.Interval).Msg("started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.log.Error().Err(err).Msg("cycle failed")
			}
		}
	}
}

// Reconcile performs one pass. Installed jobs are read before the store so a
// trigger created during the pass is never mistaken for an orphan.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	installed := make(map[uuid.UUID]struct{})
	for _, id := range r.scheduler.Installed() {
		installed[id] = struct{}{}
	}

	triggers, err := r.store.ListScheduledTriggers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list scheduled triggers: %w", err)
	}

	var res Result
	stored := make(map[uuid.UUID]struct{}, len(triggers))

	for _, t := range triggers {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		stored[t.ID] = struct{}{}

		if _, ok := installed[t.ID]; ok {
			continue
		}
		// A one-shot job may already have fired; never install it twice.
		if !t.IsRecurring {
			continue
		}

		if err := r.scheduler.Schedule(t); err != nil {
			r.log.Error().Err(err).Str("trigger_id", t.ID.String()).Msg("restore failed")
			res.Failed++
			continue
		}
		// The trigger may have been deleted after the listing. Delete
		// unschedules after removing the record, so checking once the job is
		// installed leaves no window for a stale job.
		if _, err := r.store.GetTrigger(ctx, t.ID); err != nil {
			r.scheduler.Unschedule(t.ID)
			if errors.Is(err, domain.ErrTriggerNotFound) {
				r.log.Debug().Str("trigger_id", t.ID.String()).Msg("trigger deleted during restore")
				continue
			}
			r.log.Error().Err(err).Str("trigger_id", t.ID.String()).Msg("restore check failed")
			res.Failed++
			continue
		}
		res.Restored++
	}

	for id := range installed {
		if _, ok := stored[id]; ok {
			continue
		}
		r.scheduler.Unschedule(id)
		r.log.Warn().Str("trigger_id", id.String()).Msg("removed orphaned job")
		res.Orphaned++
	}

	if r.metrics != nil {
		r.metrics.ReconcileCompleted(res.Restored, res.Orphaned)
	}
	if res.Restored > 0 || res.Orphaned > 0 || res.Failed > 0 {
		r.log.Info().
			Int("restored", res.Restored).
			Int("orphaned", res.Orphaned).
			Int("failed", res.Failed).
			Msg("cycle complete")
	}
	return res, nil
}
