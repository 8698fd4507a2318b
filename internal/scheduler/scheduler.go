package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/clock"
	"github.com/djlord-it/eventtrigger/internal/cron"
	"github.com/djlord-it/eventtrigger/internal/domain"
	"github.com/djlord-it/eventtrigger/internal/metrics"
)

var ErrSchedulerClosed = errors.New("scheduler closed")

// Firer records one firing of a trigger.
type Firer interface {
	Fire(ctx context.Context, triggerID uuid.UUID, isTest bool, payload domain.Payload) (domain.EventLog, error)
}

// MetricsSink records scheduler metrics.
type MetricsSink interface {
	JobInstalled()
	JobCancelled()
	JobsActive(count int)
	FiringCompleted(outcome string, duration time.Duration)
}

type Config struct {
	// FiringTimeout bounds a single firing. Zero means no bound.
	FiringTimeout time.Duration
	// RecoverPanics keeps a panicking firing from taking down the process.
	RecoverPanics bool
}

// Scheduler owns every live job. Each job is a timer on the injected clock;
// when it expires the job's action runs in its own goroutine.
type Scheduler struct {
	config   Config
	compiler *Compiler
	firer    Firer
	clock    clock.Clock
	log      zerolog.Logger
	metrics  MetricsSink

	mu     sync.Mutex
	jobs   *jobStore
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// spawn runs a firing; tests replace it to run firings inline.
	spawn func(func())
}

func New(config Config, compiler *Compiler, firer Firer, clk clock.Clock, log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:   config,
		compiler: compiler,
		firer:    firer,
		clock:    clk,
		log:      log.With().Str("component", "scheduler").Logger(),
		metrics:  metrics.NewNoopSink(),
		jobs:     newJobStore(),
		ctx:      ctx,
		cancel:   cancel,
		spawn:    func(f func()) { go f() },
	}
}

// WithMetrics sets the metrics sink. Must be called before any job is installed.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	if sink != nil {
		s.metrics = sink
	}
	return s
}

// Schedule installs the job for t, replacing any job already installed for
// the same trigger. Triggers without a schedule only lose their old job.
func (s *Scheduler) Schedule(t domain.Trigger) error {
	now := s.clock.Now()
	plan, err := s.compiler.CompileTrigger(t, now)
	if err != nil {
		return fmt.Errorf("compile trigger %s: %w", t.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	key := TriggerKey(t.ID)
	s.cancelLocked(key)

	if plan.IsNoop() {
		s.log.Debug().Str("trigger_id", t.ID.String()).Msg("nothing to schedule")
		return nil
	}

	id := t.ID
	s.installLocked(&Job{
		key:    key,
		fireAt: plan.FireAt,
		rule:   plan.Rule,
		run: func(ctx context.Context) error {
			_, err := s.firer.Fire(ctx, id, false, nil)
			return err
		},
	}, now)

	s.log.Info().
		Str("trigger_id", id.String()).
		Time("fire_at", plan.FireAt).
		Bool("recurring", plan.Recurring()).
		Msg("job scheduled")
	return nil
}

// ScheduleSystem installs an infrastructure job that fires on rule until shutdown.
func (s *Scheduler) ScheduleSystem(name string, rule cron.Schedule, run func(ctx context.Context) error) error {
	now := s.clock.Now()
	fireAt := rule.Next(now)
	if fireAt.IsZero() {
		return fmt.Errorf("system job %s: rule never fires", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	key := SystemKey(name)
	s.cancelLocked(key)
	s.installLocked(&Job{key: key, fireAt: fireAt, rule: rule, run: run}, now)

	s.log.Info().Str("job", name).Time("fire_at", fireAt).Msg("system job scheduled")
	return nil
}

// Unschedule removes the job for a trigger. A firing already in progress
// finishes; a firing not yet started will not happen.
func (s *Scheduler) Unschedule(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLocked(TriggerKey(id)) {
		s.log.Info().Str("trigger_id", id.String()).Msg("job unscheduled")
	}
}

// Installed returns the ids of triggers that currently have a job.
func (s *Scheduler) Installed() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.triggerIDs()
}

// NextFire returns the pending fire time of a trigger's job.
func (s *Scheduler) NextFire(id uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs.get(TriggerKey(id))
	if !ok {
		return time.Time{}, false
	}
	return job.fireAt, true
}

// Wait blocks until every started firing has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every job and waits for in-flight firings. If ctx expires
// first, the firings' context is cancelled and ctx's error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	jobs := s.jobs.drain()
	for _, job := range jobs {
		job.timer.Stop()
	}
	s.mu.Unlock()

	s.metrics.JobsActive(0)
	s.log.Info().Int("cancelled", len(jobs)).Msg("draining in-flight firings")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.log.Info().Msg("stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn().Msg("drain timeout, abandoning in-flight firings")
		return ctx.Err()
	}
}

func (s *Scheduler) installLocked(job *Job, now time.Time) {
	s.armLocked(job, now)
	s.jobs.put(job)
	s.metrics.JobInstalled()
	s.metrics.JobsActive(s.jobs.len())
}

func (s *Scheduler) armLocked(job *Job, now time.Time) {
	delay := job.fireAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	job.timer = s.clock.AfterFunc(delay, func() { s.onTimer(job) })
}

// cancelLocked stops and removes the job for key. It reports whether a job existed.
func (s *Scheduler) cancelLocked(key JobKey) bool {
	job := s.jobs.remove(key)
	if job == nil {
		return false
	}
	job.timer.Stop()
	s.metrics.JobCancelled()
	s.metrics.JobsActive(s.jobs.len())
	return true
}

func (s *Scheduler) onTimer(job *Job) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	// A job replaced or removed after its timer fired must not run.
	if cur, ok := s.jobs.get(job.key); !ok || cur != job {
		s.mu.Unlock()
		return
	}

	fireAt := job.fireAt
	if job.rule != nil {
		s.rearmLocked(job)
	} else {
		s.jobs.remove(job.key)
		s.metrics.JobsActive(s.jobs.len())
	}

	s.wg.Add(1)
	s.mu.Unlock()

	s.spawn(func() {
		defer s.wg.Done()
		s.execute(job, fireAt)
	})
}

// rearmLocked moves a recurring job to its next occurrence after the one
// being fired. Occurrences already in the past are skipped.
func (s *Scheduler) rearmLocked(job *Job) {
	now := s.clock.Now()
	prev := job.fireAt
	next := job.rule.Next(prev)
	for !next.IsZero() && next.After(prev) && next.Before(now) {
		prev = next
		next = job.rule.Next(next)
	}
	if !next.IsZero() && !next.After(prev) {
		s.log.Error().Str("job", job.key.String()).Time("fire_at", prev).Time("next", next).
			Msg("rule does not advance; job removed")
		next = time.Time{}
	}
	if next.IsZero() {
		s.jobs.remove(job.key)
		s.metrics.JobsActive(s.jobs.len())
		return
	}
	job.fireAt = next
	s.armLocked(job, now)
}

func (s *Scheduler) execute(job *Job, fireAt time.Time) {
	ctx := s.ctx
	if s.config.FiringTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FiringTimeout)
		defer cancel()
	}

	_, isTrigger := job.key.TriggerID()
	start := s.clock.Now()

	if s.config.RecoverPanics {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().
					Str("job", job.key.String()).
					Interface("panic", r).
					Msg("firing panicked")
				if isTrigger {
					s.metrics.FiringCompleted(metrics.FiringError, s.clock.Now().Sub(start))
				}
			}
		}()
	}

	err := job.run(ctx)
	elapsed := s.clock.Now().Sub(start)

	switch {
	case err == nil:
		s.log.Debug().Str("job", job.key.String()).Time("fire_at", fireAt).Msg("fired")
		if isTrigger {
			s.metrics.FiringCompleted(metrics.FiringOK, elapsed)
		}
	case isTrigger && errors.Is(err, domain.ErrTriggerNotFound):
		s.log.Warn().Str("job", job.key.String()).Msg("trigger gone, dropping job")
		s.metrics.FiringCompleted(metrics.FiringTriggerNotFound, elapsed)
		s.dropIfCurrent(job)
	default:
		s.log.Error().Err(err).Str("job", job.key.String()).Time("fire_at", fireAt).Msg("firing failed")
		if isTrigger {
			s.metrics.FiringCompleted(metrics.FiringError, elapsed)
		}
	}
}

func (s *Scheduler) dropIfCurrent(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.jobs.get(job.key); ok && cur == job {
		s.cancelLocked(job.key)
	}
}
