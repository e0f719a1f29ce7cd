package app

import (
	"strings"
	"time"

	"skalli/internal/config"
	"skalli/internal/observability/admin"
	"skalli/internal/storage"
	"skalli/internal/task/scheduler"
	logx "skalli/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

func mapCacheConfig(cfg *config.Config) (strategy string, capacity int, loc *time.Location, err error) {
	capacity = cfg.Cache.Capacity
	if capacity <= 0 {
		capacity = config.DefaultCacheCapacity
	}
	loc = time.Local
	if tz := strings.TrimSpace(cfg.Cache.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return "", 0, nil, err
		}
	}
	return cfg.Cache.Strategy, capacity, loc, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	poll, err := config.DurationOr("scheduler.poll_interval", sc.PollInterval, scheduler.DefaultPollInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	delay, err := config.DurationOr("scheduler.cleanup_delay", sc.CleanupDelay, scheduler.DefaultCleanupDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	interval, err := config.DurationOr("scheduler.cleanup_interval", sc.CleanupInterval, scheduler.DefaultCleanupInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:         sc.Enabled,
		Timezone:        sc.Timezone,
		PollInterval:    poll,
		CleanupDelay:    delay,
		CleanupInterval: interval,
		PeriodicWorkers: sc.PeriodicWorkers,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	read, err := config.DurationOr("admin.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	// profile and trace endpoints stream for up to 30s by default
	write, err := config.DurationOr("admin.write_timeout", ac.WriteTimeout, 40*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.DurationOr("admin.idle_timeout", ac.IdleTimeout, 60*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	return admin.Config{
		Enabled:       ac.Enabled,
		Addr:          strings.TrimSpace(ac.Addr),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}
