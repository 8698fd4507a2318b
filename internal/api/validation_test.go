package api

import (
	"strings"
	"testing"

	"github.com/djlord-it/eventtrigger/internal/domain"
)

func TestValidateCreateAPI(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  string
	}{
		{name: "empty endpoint allowed", endpoint: ""},
		{name: "https", endpoint: "https://example.com/hook"},
		{name: "http with port", endpoint: "http://localhost:8080/hook"},
		{name: "ftp scheme", endpoint: "ftp://example.com", wantErr: "scheme must be http or https"},
		{name: "no scheme", endpoint: "example.com/hook", wantErr: "scheme must be http or https"},
		{name: "no host", endpoint: "http:///path", wantErr: "host is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCreateAPI(CreateAPITriggerRequest{APIEndpoint: tt.endpoint})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateCreateScheduled(t *testing.T) {
	valid := CreateScheduledTriggerRequest{
		ScheduleType:  "fixed_interval",
		ScheduleValue: "10",
		IsRecurring:   true,
	}

	tests := []struct {
		name    string
		modify  func(r *CreateScheduledTriggerRequest)
		wantErr string
	}{
		{name: "valid", modify: func(r *CreateScheduledTriggerRequest) {}},
		{
			name:    "missing type",
			modify:  func(r *CreateScheduledTriggerRequest) { r.ScheduleType = "" },
			wantErr: "schedule_type is required",
		},
		{
			name:    "missing value",
			modify:  func(r *CreateScheduledTriggerRequest) { r.ScheduleValue = "" },
			wantErr: "schedule_value is required",
		},
		{
			name:    "unknown type",
			modify:  func(r *CreateScheduledTriggerRequest) { r.ScheduleType = "cron" },
			wantErr: "schedule_type must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.modify(&req)

			err := validateCreateScheduled(req)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestToPatch(t *testing.T) {
	typ := "fixed_time"
	value := "09:30"
	recurring := false

	p, err := toPatch(UpdateTriggerRequest{
		ScheduleType:  &typ,
		ScheduleValue: &value,
		IsRecurring:   &recurring,
		Payload:       domain.Payload{"k": "v"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.ScheduleType == nil || *p.ScheduleType != domain.ScheduleTypeFixedTime {
		t.Errorf("ScheduleType = %v, want fixed_time", p.ScheduleType)
	}
	if p.ScheduleValue == nil || *p.ScheduleValue != "09:30" {
		t.Errorf("ScheduleValue = %v, want 09:30", p.ScheduleValue)
	}
	if p.IsRecurring == nil || *p.IsRecurring {
		t.Errorf("IsRecurring = %v, want false", p.IsRecurring)
	}
	if p.APIEndpoint != nil || p.IsTest != nil {
		t.Error("omitted fields should stay nil")
	}
	if p.Payload["k"] != "v" {
		t.Errorf("Payload = %v", p.Payload)
	}
}

func TestToPatch_Rejects(t *testing.T) {
	badType := "weekly"
	badURL := "not-a-url"

	if _, err := toPatch(UpdateTriggerRequest{ScheduleType: &badType}); err == nil {
		t.Error("expected error for unknown schedule_type")
	}
	if _, err := toPatch(UpdateTriggerRequest{APIEndpoint: &badURL}); err == nil {
		t.Error("expected error for invalid api_endpoint")
	}

	empty := ""
	if _, err := toPatch(UpdateTriggerRequest{APIEndpoint: &empty}); err != nil {
		t.Errorf("clearing api_endpoint should be allowed, got %v", err)
	}
}
