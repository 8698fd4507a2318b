package api

import (
	"fmt"
	"net/url"

	"github.com/djlord-it/eventtrigger/internal/domain"
	"github.com/djlord-it/eventtrigger/internal/trigger"
)

func validateCreateAPI(req CreateAPITriggerRequest) error {
	if req.APIEndpoint == "" {
		return nil
	}
	if err := validateEndpointURL(req.APIEndpoint); err != nil {
		return fmt.Errorf("invalid api_endpoint: %w", err)
	}
	return nil
}

func validateCreateScheduled(req CreateScheduledTriggerRequest) error {
	if req.ScheduleType == "" {
		return fmt.Errorf("schedule_type is required")
	}
	if req.ScheduleValue == "" {
		return fmt.Errorf("schedule_value is required")
	}
	return validateScheduleType(req.ScheduleType)
}

func validateScheduleType(typ string) error {
	switch domain.ScheduleType(typ) {
	case domain.ScheduleTypeFixedTime, domain.ScheduleTypeFixedInterval:
		return nil
	}
	return fmt.Errorf("schedule_type must be %q or %q", domain.ScheduleTypeFixedTime, domain.ScheduleTypeFixedInterval)
}

// toPatch validates an update request and converts it for the service.
func toPatch(req UpdateTriggerRequest) (trigger.Patch, error) {
	var p trigger.Patch

	if req.ScheduleType != nil {
		if err := validateScheduleType(*req.ScheduleType); err != nil {
			return trigger.Patch{}, err
		}
		st := domain.ScheduleType(*req.ScheduleType)
		p.ScheduleType = &st
	}
	if req.APIEndpoint != nil && *req.APIEndpoint != "" {
		if err := validateEndpointURL(*req.APIEndpoint); err != nil {
			return trigger.Patch{}, fmt.Errorf("invalid api_endpoint: %w", err)
		}
	}

	p.ScheduleValue = req.ScheduleValue
	p.IsRecurring = req.IsRecurring
	p.APIEndpoint = req.APIEndpoint
	p.Payload = req.Payload
	p.IsTest = req.IsTest
	return p, nil
}

func validateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
