package api

import (
	"time"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

type CreateAPITriggerRequest struct {
	APIEndpoint string         `json:"api_endpoint"`
	Payload     domain.Payload `json:"payload"`
	IsTest      bool           `json:"is_test"`
}

type CreateScheduledTriggerRequest struct {
	ScheduleType  string         `json:"schedule_type"`
	ScheduleValue string         `json:"schedule_value"`
	IsRecurring   bool           `json:"is_recurring"`
	Payload       domain.Payload `json:"payload"`
	IsTest        bool           `json:"is_test"`
}

// UpdateTriggerRequest is a partial update. Omitted fields keep their value.
type UpdateTriggerRequest struct {
	ScheduleType  *string        `json:"schedule_type,omitempty"`
	ScheduleValue *string        `json:"schedule_value,omitempty"`
	IsRecurring   *bool          `json:"is_recurring,omitempty"`
	APIEndpoint   *string        `json:"api_endpoint,omitempty"`
	Payload       domain.Payload `json:"payload,omitempty"`
	IsTest        *bool          `json:"is_test,omitempty"`
}

type TriggerResponse struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	ScheduleType  string         `json:"schedule_type,omitempty"`
	ScheduleValue string         `json:"schedule_value,omitempty"`
	IsRecurring   bool           `json:"is_recurring"`
	APIEndpoint   string         `json:"api_endpoint,omitempty"`
	Payload       domain.Payload `json:"payload"`
	IsTest        bool           `json:"is_test"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

type EventLogResponse struct {
	ID          string         `json:"id"`
	TriggerID   string         `json:"trigger_id"`
	TriggeredAt string         `json:"triggered_at"`
	Payload     domain.Payload `json:"payload"`
	IsTest      bool           `json:"is_test"`
	State       string         `json:"state"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type ListEventLogsResponse struct {
	Logs []EventLogResponse `json:"logs"`
}

type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toTriggerResponse(t domain.Trigger) TriggerResponse {
	return TriggerResponse{
		ID:            t.ID.String(),
		Type:          string(t.Kind),
		ScheduleType:  string(t.ScheduleType),
		ScheduleValue: t.ScheduleValue,
		IsRecurring:   t.IsRecurring,
		APIEndpoint:   t.APIEndpoint,
		Payload:       t.Payload,
		IsTest:        t.IsTest,
		CreatedAt:     formatTime(t.CreatedAt),
		UpdatedAt:     formatTime(t.UpdatedAt),
	}
}

func toEventLogResponse(l domain.EventLog) EventLogResponse {
	return EventLogResponse{
		ID:          l.ID.String(),
		TriggerID:   l.TriggerID.String(),
		TriggeredAt: formatTime(l.TriggeredAt),
		Payload:     l.Payload,
		IsTest:      l.IsTest,
		State:       string(l.State),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
