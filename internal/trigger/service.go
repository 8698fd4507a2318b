// Package trigger implements the create, edit, delete and test-fire
// operations on triggers, keeping storage and live jobs in step.
package trigger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/clock"
	"github.com/djlord-it/eventtrigger/internal/domain"
)

type Store interface {
	CreateTrigger(ctx context.Context, t domain.Trigger) error
	GetTrigger(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	UpdateTrigger(ctx context.Context, t domain.Trigger) error
	DeleteTrigger(ctx context.Context, id uuid.UUID) error
	ListTriggers(ctx context.Context, limit, offset int) ([]domain.Trigger, error)
	ListEventLogs(ctx context.Context, limit, offset int) ([]domain.EventLog, error)
}

type Scheduler interface {
	Schedule(t domain.Trigger) error
	Unschedule(id uuid.UUID)
}

type Firer interface {
	Fire(ctx context.Context, triggerID uuid.UUID, isTest bool, payload domain.Payload) (domain.EventLog, error)
}

type CreateAPIInput struct {
	APIEndpoint string
	Payload     domain.Payload
	IsTest      bool
}

type CreateScheduledInput struct {
	ScheduleType  domain.ScheduleType
	ScheduleValue string
	IsRecurring   bool
	Payload       domain.Payload
	IsTest        bool
}

// Patch holds the fields of an update. Nil fields are left unchanged.
type Patch struct {
	ScheduleType  *domain.ScheduleType
	ScheduleValue *string
	IsRecurring   *bool
	APIEndpoint   *string
	Payload       domain.Payload
	IsTest        *bool
}

func (p Patch) apply(t domain.Trigger) domain.Trigger {
	if p.ScheduleType != nil {
		t.ScheduleType = *p.ScheduleType
	}
	if p.ScheduleValue != nil {
		t.ScheduleValue = *p.ScheduleValue
	}
	if p.IsRecurring != nil {
		t.IsRecurring = *p.IsRecurring
	}
	if p.APIEndpoint != nil {
		t.APIEndpoint = *p.APIEndpoint
	}
	if p.Payload != nil {
		t.Payload = p.Payload
	}
	if p.IsTest != nil {
		t.IsTest = *p.IsTest
	}
	return t
}

func (p Patch) touchesSchedule() bool {
	return p.ScheduleType != nil || p.ScheduleValue != nil || p.IsRecurring != nil
}

type Service struct {
	store     Store
	scheduler Scheduler
	firer     Firer
	clock     clock.Clock
	log       zerolog.Logger
}

func NewService(store Store, sched Scheduler, firer Firer, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		store:     store,
		scheduler: sched,
		firer:     firer,
		clock:     clk,
		log:       log.With().Str("component", "trigger").Logger(),
	}
}

// CreateAPI stores an api trigger. Api triggers are never scheduled.
func (s *Service) CreateAPI(ctx context.Context, in CreateAPIInput) (domain.Trigger, error) {
	now := s.clock.Now().UTC()
	t := domain.Trigger{
		ID:          uuid.New(),
		Kind:        domain.TriggerKindAPI,
		APIEndpoint: in.APIEndpoint,
		Payload:     payloadOrEmpty(in.Payload),
		IsTest:      in.IsTest,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return domain.Trigger{}, fmt.Errorf("create trigger: %w", err)
	}

	s.log.Info().Str("trigger_id", t.ID.String()).Str("kind", string(t.Kind)).Msg("trigger created")
	return t, nil
}

// CreateScheduled stores a scheduled trigger and installs its job. If the
// job cannot be installed the stored record is removed again.
func (s *Service) CreateScheduled(ctx context.Context, in CreateScheduledInput) (domain.Trigger, error) {
	if _, err := domain.ParseSchedule(in.ScheduleType, in.ScheduleValue); err != nil {
		return domain.Trigger{}, err
	}

	now := s.clock.Now().UTC()
	t := domain.Trigger{
		ID:            uuid.New(),
		Kind:          domain.TriggerKindScheduled,
		ScheduleType:  in.ScheduleType,
		ScheduleValue: in.ScheduleValue,
		IsRecurring:   in.IsRecurring,
		Payload:       payloadOrEmpty(in.Payload),
		IsTest:        in.IsTest,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return domain.Trigger{}, fmt.Errorf("create trigger: %w", err)
	}

	if err := s.scheduler.Schedule(t); err != nil {
		if delErr := s.store.DeleteTrigger(ctx, t.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("trigger_id", t.ID.String()).Msg("rollback of unschedulable trigger failed")
		}
		return domain.Trigger{}, fmt.Errorf("schedule trigger: %w", err)
	}

	s.log.Info().
		Str("trigger_id", t.ID.String()).
		Str("schedule_type", string(t.ScheduleType)).
		Str("schedule_value", t.ScheduleValue).
		Bool("recurring", t.IsRecurring).
		Msg("trigger created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	return s.store.GetTrigger(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]domain.Trigger, error) {
	return s.store.ListTriggers(ctx, limit, offset)
}

func (s *Service) ListEventLogs(ctx context.Context, limit, offset int) ([]domain.EventLog, error) {
	return s.store.ListEventLogs(ctx, limit, offset)
}

// Update applies p to the stored trigger, then replaces its job. An invalid
// resulting schedule is rejected before anything is written.
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (domain.Trigger, error) {
	current, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return domain.Trigger{}, err
	}

	updated := p.apply(current)
	updated.UpdatedAt = s.clock.Now().UTC()

	if updated.Kind == domain.TriggerKindScheduled && p.touchesSchedule() {
		if _, err := updated.Schedule(); err != nil {
			return domain.Trigger{}, err
		}
	}

	if err := s.store.UpdateTrigger(ctx, updated); err != nil {
		return domain.Trigger{}, fmt.Errorf("update trigger: %w", err)
	}

	s.scheduler.Unschedule(id)
	if err := s.scheduler.Schedule(updated); err != nil {
		// The record is already written; the reconciler installs the job on
		// its next pass if the scheduler is still running.
		s.log.Error().Err(err).Str("trigger_id", id.String()).
			Msg("trigger updated but not rescheduled; job missing until next reconcile")
		return domain.Trigger{}, fmt.Errorf("reschedule trigger: %w", err)
	}

	s.log.Info().Str("trigger_id", id.String()).Msg("trigger updated")
	return updated, nil
}

// Delete removes the job first so no firing starts against a trigger
// that is about to disappear.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	s.scheduler.Unschedule(id)

	if err := s.store.DeleteTrigger(ctx, id); err != nil {
		return err
	}
	// A reconcile pass that listed the trigger before the delete may have
	// installed it again in between.
	s.scheduler.Unschedule(id)

	s.log.Info().Str("trigger_id", id.String()).Msg("trigger deleted")
	return nil
}

// TestFire records a test firing of a trigger immediately.
func (s *Service) TestFire(ctx context.Context, id uuid.UUID) (domain.EventLog, error) {
	t, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return domain.EventLog{}, err
	}

	switch t.Kind {
	case domain.TriggerKindScheduled, domain.TriggerKindAPI:
	default:
		return domain.EventLog{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, t.Kind)
	}

	log, err := s.firer.Fire(ctx, id, true, nil)
	if err != nil {
		return domain.EventLog{}, err
	}

	s.log.Info().Str("trigger_id", id.String()).Str("event_log_id", log.ID.String()).Msg("test fired")
	return log, nil
}

func payloadOrEmpty(p domain.Payload) domain.Payload {
	if p == nil {
		return domain.Payload{}
	}
	return p
}
