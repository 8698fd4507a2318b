// Package cron builds recurrence rules for triggers on top of robfig/cron.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields successive fire times. Next returns the first fire time
// strictly after the given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse parses a five-field cron expression evaluated in loc.
func (p *Parser) Parse(expression string, loc *time.Location) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return sched, nil
}

// Daily returns a rule firing every day at hour:minute wall-clock time in loc.
func (p *Parser) Daily(hour, minute int, loc *time.Location) (Schedule, error) {
	return p.Parse(fmt.Sprintf("%d %d * * *", minute, hour), loc)
}

// Every returns a rule firing at a constant interval after the previous fire.
func Every(d time.Duration) Schedule {
	return interval(d)
}

type interval time.Duration

func (i interval) Next(after time.Time) time.Time {
	return after.Add(time.Duration(i))
}
