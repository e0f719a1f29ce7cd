package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"skalli/internal/cache"
	"skalli/internal/config"
	"skalli/internal/entity"
	"skalli/internal/eventbus"
	"skalli/internal/observability/admin"
	rtsup "skalli/internal/runtime/supervisor"
	"skalli/internal/storage"
	"skalli/internal/tagging"
	"skalli/internal/task/scheduler"
	logx "skalli/pkg/logx"
)

const reindexScheduleName = "tagging.reindex"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	repo    *storage.Repository
	tagging *tagging.Service
	sched   *scheduler.Service
	admin   *admin.Service

	reindexID uuid.UUID
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	strategyName, capacity, loc, err := mapCacheConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache.timezone: %w", err)
	}
	strategy, err := cache.StrategyByName[uuid.UUID](strategyName, loc)
	if err != nil {
		return nil, err
	}
	projects, err := cache.New[uuid.UUID, *entity.Project](capacity, strategy)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened",
		logx.String("driver", sc.Driver),
		logx.String("cache", strings.ToLower(strategyName)),
		logx.Int("cache_capacity", capacity))

	repo := storage.NewRepository(store, projects, bus, log.With(logx.String("comp", "repository")))

	tagSvc := tagging.New(nil, log.With(logx.String("comp", "tagging")))
	tagSvc.RegisterProvider(entity.TypeProject, repo)
	repo.AddListener(tagSvc)

	schedSvc := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	adminSvc := admin.New(adminCfg, admin.Deps{
		Tags:      tagSvc,
		Scheduler: schedSvc,
		Cache:     repo,
	}, log.With(logx.String("comp", "admin")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		repo:    repo,
		tagging: tagSvc,
		sched:   schedSvc,
		admin:   adminSvc,
	}

	if spec := strings.TrimSpace(cfg.Tagging.Reindex); spec != "" {
		rs, err := scheduler.NewCronSchedule(reindexScheduleName, spec, schedSvc.Location(), tagSvc.Initialize)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("tagging.reindex: %w", err)
		}
		a.reindexID = schedSvc.RegisterSchedule(rs)
		log.Info("tag reindex scheduled", logx.String("spec", rs.Spec()))
	}
	return a, nil
}

func (a *App) Repository() *storage.Repository { return a.repo }
func (a *App) Tagging() *tagging.Service       { return a.tagging }
func (a *App) Scheduler() *scheduler.Service   { return a.sched }
func (a *App) Admin() *admin.Service           { return a.admin }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) Config() *config.Config          { return a.cfgm.Get() }

// ReindexID is the schedule id of the periodic tag rebuild (uuid.Nil when
// not configured).
func (a *App) ReindexID() uuid.UUID { return a.reindexID }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapAdminConfig(cfg); err != nil {
			return err
		}
		if spec := strings.TrimSpace(cfg.Tagging.Reindex); spec != "" {
			if _, err := scheduler.ParseSchedule(spec); err != nil {
				return fmt.Errorf("tagging.reindex: %w", err)
			}
		}
		return nil
	})

	if a.sched.Enabled() {
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.log.Info("scheduler disabled")
	}
	if err := a.tagging.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.admin.Enabled() {
		a.admin.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// trace-level: task.completed fires for every poller tick
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				newCfg = coalesce(sub, newCfg)
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// coalesce drains sub and returns the newest pending config.
func coalesce(sub chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// applyConfig applies the hot-reloadable parts of newCfg. Sections that are
// only read at startup are reported as restart-required.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if err := a.logs.Apply(mapLoggingConfig(newCfg)); err != nil {
		a.log.Warn("logging sinks partially applied", logx.Err(err))
	}

	restart := config.RestartRequired(sections)
	if oldCfg != nil && oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled {
		restart = append(restart, "scheduler.enabled")
	}
	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		sc.Enabled = a.sched.Enabled()
		a.sched.Apply(sc)
	}
	if ac, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(a.sup.Context(), ac)
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "admin", 1*time.Second, a.admin.Stop)
	a.step(ctx, "scheduler", 2*time.Second, a.sched.Stop)
	a.step(ctx, "tagging", 2*time.Second, a.tagging.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	a.step(ctx, "storage", 1*time.Second, func(context.Context) error { return a.repo.Close() })

	if d := a.bus.Dropped(); d > 0 {
		a.log.Warn("eventbus dropped events", logx.Uint64("dropped", d))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs a shutdown step with an upper bound so one component can't stall
// the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
	}
}
