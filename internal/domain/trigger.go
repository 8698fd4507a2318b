package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerKind string

const (
	TriggerKindScheduled TriggerKind = "scheduled"
	TriggerKindAPI       TriggerKind = "api"
)

type ScheduleType string

const (
	ScheduleTypeFixedTime     ScheduleType = "fixed_time"
	ScheduleTypeFixedInterval ScheduleType = "fixed_interval"
)

// Payload is an opaque JSON object carried from a trigger into its event logs.
type Payload map[string]any

// Trigger is a stored definition of when an event should fire.
type Trigger struct {
	ID   uuid.UUID
	Kind TriggerKind

	// ScheduleType and ScheduleValue are only meaningful for scheduled triggers.
	ScheduleType  ScheduleType
	ScheduleValue string
	IsRecurring   bool

	APIEndpoint string // api triggers only
	Payload     Payload
	IsTest      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule parses the trigger's stored schedule fields into a typed schedule.
func (t Trigger) Schedule() (Schedule, error) {
	return ParseSchedule(t.ScheduleType, t.ScheduleValue)
}
