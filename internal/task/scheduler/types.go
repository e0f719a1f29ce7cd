package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	rtsup "skalli/internal/runtime/supervisor"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ used by cron schedules, e.g. "Europe/Berlin"

	PollInterval    time.Duration // cron poller period (default 1m)
	CleanupDelay    time.Duration // first cleanup sweep (default 12h)
	CleanupInterval time.Duration // cleanup sweep period (default 12h)
	PeriodicWorkers int           // concurrent periodic runs (default 10)
}

const (
	DefaultPollInterval    = time.Minute
	DefaultCleanupDelay    = 12 * time.Hour
	DefaultCleanupInterval = 12 * time.Hour
	DefaultPeriodicWorkers = 10
)

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = DefaultCleanupDelay
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.PeriodicWorkers <= 0 {
		c.PeriodicWorkers = DefaultPeriodicWorkers
	}
	return c
}

var (
	ErrNotStarted      = errors.New("scheduler: not started")
	ErrStopped         = errors.New("scheduler: stopped")
	ErrInvalidTask     = errors.New("scheduler: invalid task")
	ErrUnknownSchedule = errors.New("scheduler: unknown schedule")
)

// Task is a unit of work. It is periodic when Period > 0, one-shot otherwise.
// InitialDelay postpones the first run.
type Task struct {
	Name         string
	Run          func(ctx context.Context) error
	InitialDelay time.Duration
	Period       time.Duration
}

func (t Task) Periodic() bool { return t.Period > 0 }

// RunnableSchedule is a business-level recurring job evaluated by the cron poller.
type RunnableSchedule interface {
	Name() string
	// IsDue reports whether the schedule fired in (lastPoll, now].
	IsDue(lastPoll, now time.Time) bool
	Run(ctx context.Context) error
	LastStarted() time.Time
	LastCompleted() time.Time
}

// State of a task handle.
type State int32

const (
	StateSubmitted State = iota
	StateRunning
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// EventTaskCompleted is published on the bus after every task run.
const EventTaskCompleted = "task.completed"

// TaskEvent is the payload of EventTaskCompleted.
type TaskEvent struct {
	ID       uuid.UUID
	Name     string
	Run      uint64
	Started  time.Time
	Finished time.Time
	Err      error
}

type TaskInfo struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Periodic bool      `json:"periodic"`
	State    string    `json:"state"`
	Runs     uint64    `json:"runs"`
	LastErr  string    `json:"last_err,omitempty"`
}

type ScheduleInfo struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Spec          string    `json:"spec,omitempty"`
	Next          time.Time `json:"next"`
	LastStarted   time.Time `json:"last_started"`
	LastCompleted time.Time `json:"last_completed"`
}

type Snapshot struct {
	Enabled         bool                   `json:"enabled"`
	Started         bool                   `json:"started"`
	Timezone        string                 `json:"timezone"`
	LastPoll        time.Time              `json:"last_poll"`
	PeriodicWorkers int                    `json:"periodic_workers"`
	PeriodicBusy    int                    `json:"periodic_busy"`
	Tasks           []TaskInfo             `json:"tasks"`
	Schedules       []ScheduleInfo         `json:"schedules"`
	Goroutines      []rtsup.GoroutineStats `json:"goroutines,omitempty"`
}
