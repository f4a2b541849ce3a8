package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: HXINDEX_[SECTION]_[KEY] (e.g., HXINDEX_WATCH_DEBOUNCE).
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.WorkspaceRoot, "HXINDEX_WORKSPACE_ROOT")
	setEnvList(&cfg.Library.Paths, "HXINDEX_LIBRARY_PATHS")
	setEnvList(&cfg.Exclude.Dirs, "HXINDEX_EXCLUDE_DIRS")

	setEnvInt(&cfg.Index.Workers, "HXINDEX_INDEX_WORKERS")
	setEnvInt(&cfg.Cache.ClassTables, "HXINDEX_CACHE_CLASS_TABLES")
	setEnvInt(&cfg.Cache.LibraryLookups, "HXINDEX_CACHE_LIBRARY_LOOKUPS")

	setEnvDuration(&cfg.Watch.Debounce, "HXINDEX_WATCH_DEBOUNCE")
	setEnvFloat64(&cfg.Watch.MaxUpdatesPerSecond, "HXINDEX_WATCH_MAX_UPDATES_PER_SECOND")
	setEnvInt(&cfg.Watch.Burst, "HXINDEX_WATCH_BURST")

	setEnvString(&cfg.Observability.MetricsAddr, "HXINDEX_OBSERVABILITY_METRICS_ADDR")
	setEnvString(&cfg.Observability.OTLPEndpoint, "HXINDEX_OBSERVABILITY_OTLP_ENDPOINT")

	setEnvString(&cfg.Snapshot.Path, "HXINDEX_SNAPSHOT_PATH")
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

// setEnvList splits on the OS path list separator.
func setEnvList(target *[]string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = strings.Split(val, string(os.PathListSeparator))
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}
