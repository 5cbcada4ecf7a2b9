package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchHotReload watches v's config file and invokes onChange with the
// newly decoded Config whenever a key in HotReloadableKeys actually changed
// value. Structural keys changing in the file are logged and ignored —
// picking them up requires a restart.
func WatchHotReload(v *viper.Viper, logger *slog.Logger, onChange func(Config)) {
	before, _ := Unmarshal(v)

	v.OnConfigChange(func(e fsnotify.Event) {
		after, err := Unmarshal(v)
		if err != nil {
			logger.Error("config: hot reload decode failed", "error", err, "file", e.Name)
			return
		}

		changed := diffHotReloadable(before, after)
		if len(changed) == 0 {
			logger.Debug("config: file changed, no hot-reloadable keys affected", "file", e.Name)
			before = after
			return
		}

		logger.Info("config: hot-reloaded keys", "keys", changed)
		before = after
		onChange(after)
	})
	v.WatchConfig()
}

func diffHotReloadable(before, after Config) []string {
	var changed []string
	if before.LogLevel != after.LogLevel && HotReloadableKeys["log_level"] {
		changed = append(changed, "log_level")
	}
	if before.ResourceCPUHigh != after.ResourceCPUHigh && HotReloadableKeys["resource_cpu_high"] {
		changed = append(changed, "resource_cpu_high")
	}
	if before.ResourceCPULow != after.ResourceCPULow && HotReloadableKeys["resource_cpu_low"] {
		changed = append(changed, "resource_cpu_low")
	}
	if before.ResourceMemHigh != after.ResourceMemHigh && HotReloadableKeys["resource_mem_high"] {
		changed = append(changed, "resource_mem_high")
	}
	if before.ResourceMemLow != after.ResourceMemLow && HotReloadableKeys["resource_mem_low"] {
		changed = append(changed, "resource_mem_low")
	}
	if before.ProgressMinInterval != after.ProgressMinInterval && HotReloadableKeys["progress_min_interval"] {
		changed = append(changed, "progress_min_interval")
	}
	if before.ProgressMinDelta != after.ProgressMinDelta && HotReloadableKeys["progress_min_delta"] {
		changed = append(changed, "progress_min_delta")
	}
	if before.CacheTTL != after.CacheTTL && HotReloadableKeys["cache_ttl"] {
		changed = append(changed, "cache_ttl")
	}
	return changed
}
