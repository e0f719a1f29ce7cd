package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSchedule is a RunnableSchedule driven by a cron expression or interval.
type CronSchedule struct {
	name  string
	spec  string
	sched cron.Schedule
	loc   *time.Location
	run   func(ctx context.Context) error
	now   func() time.Time

	mu            sync.Mutex
	lastStarted   time.Time
	lastCompleted time.Time
}

var _ RunnableSchedule = (*CronSchedule)(nil)

// NewCronSchedule accepts every form ParseSchedule understands. A nil loc means time.Local.
func NewCronSchedule(name, schedule string, loc *time.Location, run func(ctx context.Context) error) (*CronSchedule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("name required")
	}
	if run == nil {
		return nil, errors.New("run required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	var sched cron.Schedule
	if ps.Kind == SpecInterval {
		sched = cron.Every(ps.Every)
	} else {
		sched, err = cronParser.Parse(ps.Cron)
		if err != nil {
			return nil, err
		}
	}
	if loc == nil {
		loc = time.Local
	}
	return &CronSchedule{name: name, spec: ps.Spec(), sched: sched, loc: loc, run: run, now: time.Now}, nil
}

func (c *CronSchedule) Name() string { return c.name }
func (c *CronSchedule) Spec() string { return c.spec }

// Next returns the first activation strictly after t, in the schedule's location.
func (c *CronSchedule) Next(t time.Time) time.Time {
	return c.sched.Next(t.In(c.loc))
}

func (c *CronSchedule) IsDue(lastPoll, now time.Time) bool {
	next := c.Next(lastPoll)
	return !next.IsZero() && !next.After(now)
}

func (c *CronSchedule) Run(ctx context.Context) error {
	c.mu.Lock()
	c.lastStarted = c.now()
	c.mu.Unlock()

	err := c.run(ctx)

	c.mu.Lock()
	c.lastCompleted = c.now()
	c.mu.Unlock()
	return err
}

func (c *CronSchedule) LastStarted() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStarted
}

func (c *CronSchedule) LastCompleted() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompleted
}
