// Package firer turns a trigger firing into a persisted event log.
package firer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/clock"
	"github.com/djlord-it/eventtrigger/internal/domain"
)

// Store appends an event log for a trigger. The trigger read and the insert
// happen in one transaction; build is called inside it with the trigger as
// stored at that moment. Returns domain.ErrTriggerNotFound when the trigger
// does not exist.
type Store interface {
	AppendEventLog(ctx context.Context, triggerID uuid.UUID, build func(domain.Trigger) domain.EventLog) (domain.EventLog, error)
}

// Publisher hands committed api-trigger firings to outbound delivery.
type Publisher interface {
	Emit(ctx context.Context, event domain.FiredEvent) error
}

// Analytics records firing counters.
type Analytics interface {
	RecordFiring(ctx context.Context, log domain.EventLog, kind domain.TriggerKind) error
}

type Firer struct {
	store     Store
	clock     clock.Clock
	log       zerolog.Logger
	publisher Publisher
	analytics Analytics
}

func New(store Store, clk clock.Clock, log zerolog.Logger) *Firer {
	return &Firer{
		store: store,
		clock: clk,
		log:   log.With().Str("component", "firer").Logger(),
	}
}

// WithPublisher enables delivery of api-trigger firings.
func (f *Firer) WithPublisher(p Publisher) *Firer {
	f.publisher = p
	return f
}

func (f *Firer) WithAnalytics(a Analytics) *Firer {
	f.analytics = a
	return f
}

// Fire records one firing of triggerID. A non-empty override replaces the
// trigger's stored payload for this log only.
func (f *Firer) Fire(ctx context.Context, triggerID uuid.UUID, isTest bool, override domain.Payload) (domain.EventLog, error) {
	var trig domain.Trigger

	entry, err := f.store.AppendEventLog(ctx, triggerID, func(t domain.Trigger) domain.EventLog {
		trig = t
		payload := override
		if len(payload) == 0 {
			payload = t.Payload
		}
		if payload == nil {
			payload = domain.Payload{}
		}
		return domain.EventLog{
			ID:          uuid.New(),
			TriggerID:   t.ID,
			TriggeredAt: f.clock.Now().UTC(),
			Payload:     payload,
			IsTest:      isTest,
			State:       domain.EventLogStateActive,
		}
	})
	if err != nil {
		return domain.EventLog{}, fmt.Errorf("fire trigger %s: %w", triggerID, err)
	}

	f.log.Info().
		Str("trigger_id", triggerID.String()).
		Str("event_log_id", entry.ID.String()).
		Bool("is_test", isTest).
		Msg("event logged")

	f.afterCommit(ctx, trig, entry)
	return entry, nil
}

// afterCommit runs best-effort side effects. Their failures never undo the log.
func (f *Firer) afterCommit(ctx context.Context, trig domain.Trigger, entry domain.EventLog) {
	if f.analytics != nil {
		if err := f.analytics.RecordFiring(ctx, entry, trig.Kind); err != nil {
			f.log.Warn().Err(err).Str("trigger_id", trig.ID.String()).Msg("analytics write failed")
		}
	}

	if f.publisher != nil && trig.Kind == domain.TriggerKindAPI && trig.APIEndpoint != "" {
		event := domain.FiredEvent{Log: entry, Kind: trig.Kind, APIEndpoint: trig.APIEndpoint}
		if err := f.publisher.Emit(ctx, event); err != nil {
			f.log.Warn().Err(err).Str("trigger_id", trig.ID.String()).Msg("delivery publish failed")
		}
	}
}
