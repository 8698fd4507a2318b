package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventLogState string

// EventLogStateActive is the only state ever assigned; nothing transitions a log out of it.
const EventLogStateActive EventLogState = "active"

// EventLog records one firing of a trigger. It is never mutated after creation.
type EventLog struct {
	ID uuid.UUID

	// TriggerID is a weak reference: the trigger may be edited or deleted later.
	TriggerID uuid.UUID

	TriggeredAt time.Time
	Payload     Payload
	IsTest      bool
	State       EventLogState
}

// FiredEvent is published after an event log commits, for outbound delivery.
type FiredEvent struct {
	Log         EventLog
	Kind        TriggerKind
	APIEndpoint string
}
