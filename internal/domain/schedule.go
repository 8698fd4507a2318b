package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxIntervalSeconds is the longest interval representable as a time.Duration.
const MaxIntervalSeconds = math.MaxInt64 / int64(time.Second)

// Schedule is the typed form of a trigger's schedule fields.
// It is implemented by FixedTime and FixedInterval only.
type Schedule interface {
	Type() ScheduleType
	Validate() error
}

// FixedTime fires at a wall-clock time of day.
type FixedTime struct {
	Hour   int
	Minute int
}

func (FixedTime) Type() ScheduleType { return ScheduleTypeFixedTime }

func (f FixedTime) Validate() error {
	if f.Hour < 0 || f.Hour >= 24 || f.Minute < 0 || f.Minute >= 60 {
		return fmt.Errorf("%w: hour must be 0-23 and minute 0-59, got %02d:%02d", ErrInvalidSchedule, f.Hour, f.Minute)
	}
	return nil
}

func (f FixedTime) String() string {
	return fmt.Sprintf("%02d:%02d", f.Hour, f.Minute)
}

// FixedInterval fires every Seconds seconds.
type FixedInterval struct {
	Seconds int
}

func (FixedInterval) Type() ScheduleType { return ScheduleTypeFixedInterval }

func (f FixedInterval) Validate() error {
	if f.Seconds <= 0 {
		return fmt.Errorf("%w: interval must be a positive number of seconds, got %d", ErrInvalidSchedule, f.Seconds)
	}
	if int64(f.Seconds) > MaxIntervalSeconds {
		return fmt.Errorf("%w: interval must be at most %d seconds, got %d", ErrInvalidSchedule, MaxIntervalSeconds, f.Seconds)
	}
	return nil
}

func (f FixedInterval) String() string {
	return strconv.Itoa(f.Seconds)
}

// ParseSchedule converts the stored string encoding into a typed schedule.
// "HH:MM" for fixed_time, a positive integer of seconds for fixed_interval.
func ParseSchedule(typ ScheduleType, value string) (Schedule, error) {
	switch typ {
	case ScheduleTypeFixedTime:
		return parseFixedTime(value)
	case ScheduleTypeFixedInterval:
		return parseFixedInterval(value)
	default:
		return nil, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, typ)
	}
}

func parseFixedTime(value string) (FixedTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return FixedTime{}, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidSchedule, value)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return FixedTime{}, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidSchedule, value)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return FixedTime{}, fmt.Errorf("%w: expected HH:MM, got %q", ErrInvalidSchedule, value)
	}
	ft := FixedTime{Hour: hour, Minute: minute}
	if err := ft.Validate(); err != nil {
		return FixedTime{}, err
	}
	return ft, nil
}

func parseFixedInterval(value string) (FixedInterval, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return FixedInterval{}, fmt.Errorf("%w: expected integer seconds, got %q", ErrInvalidSchedule, value)
	}
	fi := FixedInterval{Seconds: n}
	if err := fi.Validate(); err != nil {
		return FixedInterval{}, err
	}
	return fi, nil
}
