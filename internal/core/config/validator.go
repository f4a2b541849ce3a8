package config

import (
	"fmt"
	"hxindex/internal/core/errors"

	"github.com/gobwas/glob"
)

func validate(cfg *Config) error {
	for _, check := range []func(*Config) error{
		validateVersion,
		validateSizes,
		validateWatch,
		validateExcludes,
	} {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validationError(field, format string, args ...any) error {
	return errors.AddContext(errors.New(errors.CodeValidationError, fmt.Sprintf(format, args...)), errors.CtxField, field)
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 || cfg.Version > CurrentVersion {
		return validationError("version", "unsupported config version %d; supported version is %d", cfg.Version, CurrentVersion)
	}
	return nil
}

func validateSizes(cfg *Config) error {
	if cfg.Index.Workers < 0 {
		return validationError("index.workers", "index.workers must be >= 0, got %d", cfg.Index.Workers)
	}
	if cfg.Cache.ClassTables < 0 {
		return validationError("cache.class_tables", "cache.class_tables must be >= 0, got %d", cfg.Cache.ClassTables)
	}
	if cfg.Cache.LibraryLookups < 0 {
		return validationError("cache.library_lookups", "cache.library_lookups must be >= 0, got %d", cfg.Cache.LibraryLookups)
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return validationError("watch.debounce", "watch.debounce must not be negative, got %s", cfg.Watch.Debounce)
	}
	if cfg.Watch.MaxUpdatesPerSecond < 0 {
		return validationError("watch.max_updates_per_second", "watch.max_updates_per_second must not be negative, got %g", cfg.Watch.MaxUpdatesPerSecond)
	}
	if cfg.Watch.Burst < 0 {
		return validationError("watch.burst", "watch.burst must be >= 0, got %d", cfg.Watch.Burst)
	}
	return nil
}

func validateExcludes(cfg *Config) error {
	for i, pattern := range cfg.Exclude.Dirs {
		if _, err := glob.Compile(pattern); err != nil {
			return validationError(fmt.Sprintf("exclude.dirs[%d]", i), "invalid exclude pattern %q: %v", pattern, err)
		}
	}
	return nil
}
