package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk application config (JSON or YAML).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Cache     CacheConfig     `json:"cache"`
	Tagging   TaggingConfig   `json:"tagging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Admin     AdminConfig     `json:"admin"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/skalli.db", "busy_timeout": "5s" }
//
// Omitting the section keeps everything in memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// CacheConfig controls the bounded entity read cache.
//
// Strategy is "lru" (default) or "groundhog" (cleared at local midnight of
// Timezone).
type CacheConfig struct {
	Strategy string `json:"strategy,omitempty"`
	Capacity int    `json:"capacity,omitempty"` // default 1000
	Timezone string `json:"timezone,omitempty"` // IANA TZ, default Local
}

// TaggingConfig controls the tag aggregation service.
type TaggingConfig struct {
	// Reindex is an optional schedule (cron, "@every 6h", "at:03:00", ...) that
	// rebuilds every tag cache from storage.
	Reindex string `json:"reindex,omitempty"`
}

// SchedulerConfig controls the task/schedule runtime.
//
// All durations are Go duration strings (e.g. "30s", "1m", "12h").
type SchedulerConfig struct {
	Enabled         bool   `json:"enabled"`
	Timezone        string `json:"timezone,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty"`    // default "1m"
	CleanupDelay    string `json:"cleanup_delay,omitempty"`    // default "12h"
	CleanupInterval string `json:"cleanup_interval,omitempty"` // default "12h"
	PeriodicWorkers int    `json:"periodic_workers,omitempty"` // default 10
}

// AdminConfig controls the diagnostics HTTP server.
//
// Binding to a non-loopback address requires Token unless AllowInsecure is set.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

const DefaultCacheCapacity = 1000

// Validate checks values that cannot be expressed by the JSON schema alone.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.Cache.Strategy)) {
	case "", "lru", "groundhog":
	default:
		errs = append(errs, fmt.Errorf("cache.strategy: unknown strategy %q", c.Cache.Strategy))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, errors.New("cache.capacity: must be >= 0"))
	}
	if err := checkTimezone("cache.timezone", c.Cache.Timezone); err != nil {
		errs = append(errs, err)
	}

	if err := checkTimezone("scheduler.timezone", c.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
	}
	for path, raw := range map[string]string{
		"scheduler.poll_interval":    c.Scheduler.PollInterval,
		"scheduler.cleanup_delay":    c.Scheduler.CleanupDelay,
		"scheduler.cleanup_interval": c.Scheduler.CleanupInterval,
		"admin.read_timeout":         c.Admin.ReadTimeout,
		"admin.write_timeout":        c.Admin.WriteTimeout,
		"admin.idle_timeout":         c.Admin.IdleTimeout,
	} {
		if _, err := Duration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Scheduler.PeriodicWorkers < 0 {
		errs = append(errs, errors.New("scheduler.periodic_workers: must be >= 0"))
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				errs = append(errs, errors.New("storage.path: required for "+c.Storage.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := Duration("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkTimezone(path, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
