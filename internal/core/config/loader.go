package config

import (
	"hxindex/internal/core/errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file, fills defaults, applies HXINDEX_* overrides and
// validates the result. Relative paths are anchored on the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "config file not found"), errors.CtxPath, path)
		}
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeInternal, "read config"), errors.CtxPath, path)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeParse, "decode config"), errors.CtxPath, path)
	}

	applyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)
	normalize(&cfg)
	anchorPaths(&cfg, filepath.Dir(path))

	if err := validate(&cfg); err != nil {
		return nil, errors.AddContext(err, errors.CtxPath, path)
	}
	return &cfg, nil
}

// LoadOrDefault loads path. When explicit is false a missing file yields
// DefaultConfig with environment overrides applied.
func LoadOrDefault(path string, explicit bool) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if explicit || !errors.IsCode(err, errors.CodeNotFound) {
		return nil, err
	}

	cfg = DefaultConfig()
	ApplyEnvOverrides(cfg)
	normalize(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.WorkspaceRoot = strings.TrimSpace(cfg.WorkspaceRoot)
	cfg.Snapshot.Path = strings.TrimSpace(cfg.Snapshot.Path)
	cfg.Observability.MetricsAddr = strings.TrimSpace(cfg.Observability.MetricsAddr)
	cfg.Observability.OTLPEndpoint = strings.TrimSpace(cfg.Observability.OTLPEndpoint)
	cfg.Library.Paths = trimNonEmpty(cfg.Library.Paths)
	cfg.Exclude.Dirs = trimNonEmpty(cfg.Exclude.Dirs)
}

func anchorPaths(cfg *Config, base string) {
	if cfg.WorkspaceRoot != "" {
		cfg.WorkspaceRoot = ResolveRelative(base, cfg.WorkspaceRoot)
	}
	cfg.Snapshot.Path = ResolveRelative(base, cfg.Snapshot.Path)
	for i, p := range cfg.Library.Paths {
		cfg.Library.Paths[i] = ResolveRelative(base, p)
	}
}

func trimNonEmpty(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
