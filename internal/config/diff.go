package config

import (
	"sort"
	"strings"

	logx "skalli/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Storage paths and the admin token are never
// logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oStore, nStore := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if strings.TrimSpace(oStore.Driver) != strings.TrimSpace(nStore.Driver) ||
		strings.TrimSpace(oStore.Path) != strings.TrimSpace(nStore.Path) ||
		strings.TrimSpace(oStore.BusyTimeout) != strings.TrimSpace(nStore.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nStore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nStore.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nStore.BusyTimeout)),
		)
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.strategy", newCfg.Cache.Strategy),
			logx.Int("cache.capacity", newCfg.Cache.Capacity),
			logx.String("cache.timezone", newCfg.Cache.Timezone),
		)
	}

	if oldCfg.Tagging != newCfg.Tagging {
		changed = append(changed, "tagging")
		attrs = append(attrs, logx.String("tagging.reindex", newCfg.Tagging.Reindex))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.poll_interval", newCfg.Scheduler.PollInterval),
			logx.Int("scheduler.periodic_workers", newCfg.Scheduler.PeriodicWorkers),
		)
	}

	if oldCfg.Admin != newCfg.Admin {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", newCfg.Admin.Addr),
			logx.Bool("admin.token_set", newCfg.Admin.Token != ""),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "cache", "tagging":
			out = append(out, s)
		}
	}
	return out
}

func derefStorage(sc *StorageConfig) StorageConfig {
	if sc == nil {
		return StorageConfig{}
	}
	return *sc
}
