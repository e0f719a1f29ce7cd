package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"skalli/internal/eventbus"
	rtsup "skalli/internal/runtime/supervisor"
	logx "skalli/pkg/logx"
)

const failureWarnEvery = 5 * time.Second

type Option func(*Service)

// WithClock replaces time.Now for poll bookkeeping and task events.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus
	now func() time.Time

	sup     *rtsup.Supervisor
	pool    *workerPool
	started bool
	stopped bool

	futures   map[uuid.UUID]*future
	schedules map[uuid.UUID]RunnableSchedule
	lastPoll  time.Time

	// Failure log throttling: key is task name.
	warnMu sync.Mutex
	warn   map[string]*rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		now:       time.Now,
		futures:   map[uuid.UUID]*future{},
		schedules: map[uuid.UUID]RunnableSchedule{},
		warn:      map[string]*rate.Limiter{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. Pool size and poll/cleanup periods take effect on
// the next Start; the timezone applies to schedules created afterwards.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	started := s.started
	s.mu.Unlock()

	if started && (old.PollInterval != cfg.PollInterval || old.PeriodicWorkers != cfg.PeriodicWorkers ||
		old.CleanupDelay != cfg.CleanupDelay || old.CleanupInterval != cfg.CleanupInterval) {
		s.log.Info("scheduler timing changed; restart required to apply")
	}
}

// Location returns the configured timezone, falling back to Local.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocationLocked()
}

// Start creates the worker pools and registers the cron poller and the
// cleanup sweep. Start after Stop fails with ErrStopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	cfg := s.cfg.withDefaults()

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.pool = newWorkerPool(cfg.PeriodicWorkers)
	s.started = true
	s.lastPoll = s.now()

	s.submitLocked(uuid.New(), Task{
		Name:   "scheduler.poll",
		Period: cfg.PollInterval,
		Run: func(ctx context.Context) error {
			s.poll()
			return nil
		},
	})
	s.submitLocked(uuid.New(), Task{
		Name:         "scheduler.cleanup",
		InitialDelay: cfg.CleanupDelay,
		Period:       cfg.CleanupInterval,
		Run: func(ctx context.Context) error {
			s.cleanup()
			return nil
		},
	})

	s.log.Info("service started",
		logx.String("tz", s.loadLocationLocked().String()),
		logx.Duration("poll", cfg.PollInterval),
		logx.Int("periodic_workers", cfg.PeriodicWorkers),
		logx.Int("schedules", len(s.schedules)))
	return nil
}

// Stop hard-cancels every live task, forgets all handles and abandons
// in-flight work without waiting for it.
func (s *Service) Stop(ctx context.Context) error {
	_ = ctx
	start := time.Now()

	s.mu.Lock()
	if !s.started {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	futures := s.futures
	s.futures = map[uuid.UUID]*future{}
	s.started = false
	s.stopped = true
	sup := s.sup
	s.mu.Unlock()

	for _, f := range futures {
		f.Cancel(true)
	}
	sup.Cancel()

	s.log.Info("service stopped", logx.Int("cancelled", len(futures)), logx.Duration("took", time.Since(start)))
	return nil
}

// RegisterTask submits t and returns its handle.
func (s *Service) RegisterTask(t Task) (uuid.UUID, error) {
	if t.Run == nil || t.InitialDelay < 0 {
		return uuid.Nil, ErrInvalidTask
	}
	if strings.TrimSpace(t.Name) == "" {
		t.Name = "task"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return uuid.Nil, ErrStopped
	}
	if !s.started {
		return uuid.Nil, ErrNotStarted
	}
	id := uuid.New()
	s.submitLocked(id, t)
	s.log.Debug("task registered",
		logx.String("name", t.Name),
		logx.String("id", id.String()),
		logx.Bool("periodic", t.Periodic()),
		logx.Duration("period", t.Period))
	return id, nil
}

// UnregisterTask hard-cancels and forgets the handle. Unknown ids are ignored.
func (s *Service) UnregisterTask(id uuid.UUID) {
	s.mu.Lock()
	f := s.futures[id]
	delete(s.futures, id)
	s.mu.Unlock()
	if f != nil {
		f.Cancel(true)
	}
}

func (s *Service) IsRegistered(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.futures[id]
	return ok
}

// IsDone reports whether the task completed or was cancelled. Unknown ids are not done.
func (s *Service) IsDone(id uuid.UUID) bool {
	s.mu.Lock()
	f := s.futures[id]
	s.mu.Unlock()
	return f != nil && f.IsDone()
}

// Cancel cancels the task behind id. With hard set a running task's context
// is cancelled; otherwise only runs that have not started are prevented.
// It returns false for unknown, completed or already cancelled tasks.
func (s *Service) Cancel(id uuid.UUID, hard bool) bool {
	s.mu.Lock()
	f := s.futures[id]
	s.mu.Unlock()
	if f == nil {
		return false
	}
	return f.Cancel(hard)
}

// RegisterSchedule adds a schedule to the set evaluated by the cron poller.
func (s *Service) RegisterSchedule(rs RunnableSchedule) uuid.UUID {
	if rs == nil {
		return uuid.Nil
	}
	id := uuid.New()
	s.mu.Lock()
	s.schedules[id] = rs
	s.mu.Unlock()
	s.log.Debug("schedule registered", logx.String("name", rs.Name()), logx.String("id", id.String()))
	return id
}

func (s *Service) UnregisterSchedule(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return false
	}
	delete(s.schedules, id)
	return true
}

// Schedules returns a copy of the registered schedules.
func (s *Service) Schedules() map[uuid.UUID]RunnableSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]RunnableSchedule, len(s.schedules))
	for id, rs := range s.schedules {
		out[id] = rs
	}
	return out
}

func (s *Service) LastStarted(id uuid.UUID) (time.Time, error) {
	rs, err := s.schedule(id)
	if err != nil {
		return time.Time{}, err
	}
	return rs.LastStarted(), nil
}

func (s *Service) LastCompleted(id uuid.UUID) (time.Time, error) {
	rs, err := s.schedule(id)
	if err != nil {
		return time.Time{}, err
	}
	return rs.LastCompleted(), nil
}

func (s *Service) schedule(id uuid.UUID) (RunnableSchedule, error) {
	s.mu.Lock()
	rs, ok := s.schedules[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchedule, id)
	}
	return rs, nil
}

// poll submits every due schedule as a one-shot task. The handle is stored
// under the schedule id, replacing the handle of any earlier run.
func (s *Service) poll() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	last := s.lastPoll
	due := 0
	for id, rs := range s.schedules {
		if !rs.IsDue(last, now) {
			continue
		}
		due++
		s.submitLocked(id, Task{Name: "schedule." + rs.Name(), Run: rs.Run})
	}
	s.lastPoll = now
	if due > 0 {
		s.log.Debug("schedules due", logx.Int("count", due), logx.Time("poll", now))
	}
}

// cleanup forgets handles of completed tasks.
func (s *Service) cleanup() {
	s.mu.Lock()
	removed := 0
	for id, f := range s.futures {
		if f.IsDone() {
			delete(s.futures, id)
			removed++
		}
	}
	left := len(s.futures)
	s.mu.Unlock()
	s.log.Debug("cleanup finished", logx.Int("removed", removed), logx.Int("left", left))
}

// submitLocked starts t under handle id. Call with s.mu held.
func (s *Service) submitLocked(id uuid.UUID, t Task) {
	f := newFuture(s.sup.Context(), id, t)
	s.futures[id] = f
	pool := s.pool
	if t.Periodic() {
		s.sup.Go0("task."+t.Name, func(context.Context) { s.runPeriodic(pool, f, t) })
		return
	}
	s.sup.Go0("task."+t.Name, func(context.Context) { s.runOnce(f, t) })
}

func (s *Service) runOnce(f *future, t Task) {
	defer f.finish()
	if !wait(f, t.InitialDelay) {
		return
	}
	s.execute(f, t)
}

// runPeriodic runs t at a fixed rate until it fails, panics or is cancelled.
// Late runs do not pile up: missed ticks are dropped.
func (s *Service) runPeriodic(pool *workerPool, f *future, t Task) {
	defer f.finish()
	if !wait(f, t.InitialDelay) {
		return
	}
	ticker := time.NewTicker(t.Period)
	defer ticker.Stop()
	for {
		if !pool.acquire(f.ctx, f.done) {
			return
		}
		ran, err := s.execute(f, t)
		pool.release()
		if !ran {
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn("periodic task stopped after failure", logx.String("task", t.Name), logx.Err(err))
			}
			return
		}
		select {
		case <-f.ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
		}
	}
}

// execute performs one run of t. ran is false when the handle was cancelled before start.
func (s *Service) execute(f *future, t Task) (ran bool, err error) {
	run, ok := f.begin()
	if !ok {
		return false, nil
	}
	started := s.now()
	err = safeRun(f.ctx, t.Run)
	finished := s.now()
	f.record(err)

	if err != nil && !errors.Is(err, context.Canceled) {
		s.reportFailure(t.Name, err)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventTaskCompleted, Time: finished, Data: TaskEvent{
			ID:       f.id,
			Name:     t.Name,
			Run:      run,
			Started:  started,
			Finished: finished,
			Err:      err,
		}})
	}
	return true, err
}

func safeRun(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// wait sleeps d unless the handle is cancelled first.
func wait(f *future, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.ctx.Done():
		return false
	case <-f.done:
		return false
	}
}

func (s *Service) reportFailure(name string, err error) {
	s.warnMu.Lock()
	lim := s.warn[name]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(failureWarnEvery), 1)
		s.warn[name] = lim
	}
	s.warnMu.Unlock()

	if !lim.Allow() {
		s.log.Debug("task failed", logx.String("task", name), logx.Err(err))
		return
	}
	s.log.Warn("task failed", logx.String("task", name), logx.Err(err))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Snapshot returns diagnostics for every live handle and schedule.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg.withDefaults()
	out := Snapshot{
		Enabled:         cfg.Enabled,
		Started:         s.started,
		Timezone:        s.loadLocationLocked().String(),
		LastPoll:        s.lastPoll,
		PeriodicWorkers: cfg.PeriodicWorkers,
	}
	futures := make([]*future, 0, len(s.futures))
	for _, f := range s.futures {
		futures = append(futures, f)
	}
	schedules := make(map[uuid.UUID]RunnableSchedule, len(s.schedules))
	for id, rs := range s.schedules {
		schedules[id] = rs
	}
	pool := s.pool
	sup := s.sup
	s.mu.Unlock()

	if pool != nil {
		out.PeriodicBusy = pool.busy()
	}
	if sup != nil {
		out.Goroutines = sup.Stats()
	}

	out.Tasks = make([]TaskInfo, 0, len(futures))
	for _, f := range futures {
		out.Tasks = append(out.Tasks, f.info())
	}
	sort.Slice(out.Tasks, func(i, j int) bool {
		if out.Tasks[i].Name != out.Tasks[j].Name {
			return out.Tasks[i].Name < out.Tasks[j].Name
		}
		return out.Tasks[i].ID.String() < out.Tasks[j].ID.String()
	})

	now := s.now()
	out.Schedules = make([]ScheduleInfo, 0, len(schedules))
	for id, rs := range schedules {
		si := ScheduleInfo{ID: id, Name: rs.Name(), LastStarted: rs.LastStarted(), LastCompleted: rs.LastCompleted()}
		if cs, ok := rs.(*CronSchedule); ok {
			si.Spec = cs.Spec()
			si.Next = cs.Next(now)
		}
		out.Schedules = append(out.Schedules, si)
	}
	sort.Slice(out.Schedules, func(i, j int) bool { return out.Schedules[i].Name < out.Schedules[j].Name })
	return out
}
