package scheduler

import (
	"fmt"
	"time"

	"github.com/djlord-it/eventtrigger/internal/cron"
	"github.com/djlord-it/eventtrigger/internal/domain"
)

// Plan is a compiled firing plan: when a job fires first and, for recurring
// jobs, the rule producing every later fire time.
type Plan struct {
	FireAt time.Time
	Rule   cron.Schedule // nil for a one-shot job
}

// IsNoop reports whether the plan schedules nothing.
func (p Plan) IsNoop() bool {
	return p.FireAt.IsZero()
}

// Recurring reports whether the job re-arms after firing.
func (p Plan) Recurring() bool {
	return p.Rule != nil
}

// Compiler turns typed schedules into firing plans. Times of day are
// evaluated in the compiler's location.
type Compiler struct {
	parser *cron.Parser
	loc    *time.Location
}

// NewCompiler returns a Compiler evaluating fixed times in loc (time.Local if nil).
func NewCompiler(loc *time.Location) *Compiler {
	if loc == nil {
		loc = time.Local
	}
	return &Compiler{parser: cron.NewParser(), loc: loc}
}

// CompileTrigger compiles the schedule of t. Triggers that are not of the
// scheduled kind, or carry an unknown schedule type, yield a no-op plan.
func (c *Compiler) CompileTrigger(t domain.Trigger, now time.Time) (Plan, error) {
	if t.Kind != domain.TriggerKindScheduled {
		return Plan{}, nil
	}
	switch t.ScheduleType {
	case domain.ScheduleTypeFixedTime, domain.ScheduleTypeFixedInterval:
	default:
		return Plan{}, nil
	}
	sched, err := t.Schedule()
	if err != nil {
		return Plan{}, err
	}
	return c.Compile(sched, t.IsRecurring, now)
}

// Compile builds the plan for sched as of now.
func (c *Compiler) Compile(sched domain.Schedule, recurring bool, now time.Time) (Plan, error) {
	if sched == nil {
		return Plan{}, nil
	}
	if err := sched.Validate(); err != nil {
		return Plan{}, err
	}

	switch s := sched.(type) {
	case domain.FixedTime:
		return c.compileFixedTime(s, recurring, now)
	case domain.FixedInterval:
		return c.compileFixedInterval(s, recurring, now), nil
	default:
		return Plan{}, nil
	}
}

func (c *Compiler) compileFixedTime(ft domain.FixedTime, recurring bool, now time.Time) (Plan, error) {
	if recurring {
		rule, err := c.parser.Daily(ft.Hour, ft.Minute, c.loc)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: %v", domain.ErrInvalidSchedule, err)
		}
		// Next is strictly-after; stepping back a nanosecond makes an
		// occurrence exactly at now count.
		return Plan{FireAt: rule.Next(now.Add(-time.Nanosecond)), Rule: rule}, nil
	}

	local := now.In(c.loc)
	fireAt := time.Date(local.Year(), local.Month(), local.Day(), ft.Hour, ft.Minute, 0, 0, c.loc)
	if fireAt.Before(local) {
		fireAt = fireAt.AddDate(0, 0, 1)
	}
	return Plan{FireAt: fireAt}, nil
}

func (c *Compiler) compileFixedInterval(fi domain.FixedInterval, recurring bool, now time.Time) Plan {
	every := time.Duration(fi.Seconds) * time.Second
	plan := Plan{FireAt: now.Add(every)}
	if recurring {
		plan.Rule = cron.Every(every)
	}
	return plan
}
