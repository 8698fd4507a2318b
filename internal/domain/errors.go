package domain

import "errors"

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrTriggerNotFound = errors.New("trigger not found")
	ErrUnsupportedKind = errors.New("unsupported trigger type")
)
