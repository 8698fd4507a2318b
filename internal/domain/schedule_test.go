package domain

import (
	"errors"
	"testing"
)

func TestParseSchedule_Valid(t *testing.T) {
	tests := []struct {
		typ   ScheduleType
		value string
		want  Schedule
	}{
		{ScheduleTypeFixedTime, "00:00", FixedTime{Hour: 0, Minute: 0}},
		{ScheduleTypeFixedTime, "15:00", FixedTime{Hour: 15, Minute: 0}},
		{ScheduleTypeFixedTime, "23:59", FixedTime{Hour: 23, Minute: 59}},
		{ScheduleTypeFixedTime, "7:05", FixedTime{Hour: 7, Minute: 5}},
		{ScheduleTypeFixedInterval, "10", FixedInterval{Seconds: 10}},
		{ScheduleTypeFixedInterval, "1", FixedInterval{Seconds: 1}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.value, func(t *testing.T) {
			got, err := ParseSchedule(tt.typ, tt.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSchedule = %#v, want %#v", got, tt.want)
			}
			if got.Type() != tt.typ {
				t.Errorf("Type() = %q, want %q", got.Type(), tt.typ)
			}
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	tests := []struct {
		typ   ScheduleType
		value string
	}{
		{ScheduleTypeFixedTime, "25:00"},
		{ScheduleTypeFixedTime, "12:99"},
		{ScheduleTypeFixedTime, "24:00"},
		{ScheduleTypeFixedTime, "-1:00"},
		{ScheduleTypeFixedTime, "abc"},
		{ScheduleTypeFixedTime, "12"},
		{ScheduleTypeFixedTime, "12:ab"},
		{ScheduleTypeFixedTime, ""},
		{ScheduleTypeFixedInterval, "0"},
		{ScheduleTypeFixedInterval, "-5"},
		{ScheduleTypeFixedInterval, "abc"},
		{ScheduleTypeFixedInterval, "1.5"},
		{ScheduleTypeFixedInterval, "10000000000"},
		{ScheduleTypeFixedInterval, ""},
		{ScheduleType("cron"), "* * * * *"},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ)+"/"+tt.value, func(t *testing.T) {
			_, err := ParseSchedule(tt.typ, tt.value)
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Errorf("expected ErrInvalidSchedule, got %v", err)
			}
		})
	}
}

func TestFixedInterval_LongestIntervalAccepted(t *testing.T) {
	longest := int(MaxIntervalSeconds)
	if err := (FixedInterval{Seconds: longest}).Validate(); err != nil {
		t.Errorf("Validate(%d) = %v, want nil", longest, err)
	}
	if err := (FixedInterval{Seconds: longest + 1}).Validate(); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("Validate(%d) = %v, want ErrInvalidSchedule", longest+1, err)
	}
}

func TestScheduleString(t *testing.T) {
	if got := (FixedTime{Hour: 7, Minute: 5}).String(); got != "07:05" {
		t.Errorf("FixedTime.String() = %q, want 07:05", got)
	}
	if got := (FixedInterval{Seconds: 30}).String(); got != "30" {
		t.Errorf("FixedInterval.String() = %q, want 30", got)
	}
}

func TestTrigger_Schedule(t *testing.T) {
	tr := Trigger{Kind: TriggerKindScheduled, ScheduleType: ScheduleTypeFixedInterval, ScheduleValue: "60"}
	s, err := tr.Schedule()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != (FixedInterval{Seconds: 60}) {
		t.Errorf("Schedule() = %#v", s)
	}
}
