package config

import (
	"runtime"
	"time"
)

const (
	DefaultFileName      = "hxindex.toml"
	CurrentVersion       = 1
	defaultClassTables   = 256
	defaultLibraryLookup = 64
	defaultDebounce      = 300 * time.Millisecond
	defaultUpdateRate    = 20
	defaultUpdateBurst   = 10
	defaultSnapshotPath  = ".hxindex/snapshots.db"
)

type Config struct {
	Version       int           `toml:"version"`
	WorkspaceRoot string        `toml:"workspace_root"`
	Library       Library       `toml:"library"`
	Exclude       Exclude       `toml:"exclude"`
	Index         Index         `toml:"index"`
	Cache         Cache         `toml:"cache"`
	Watch         Watch         `toml:"watch"`
	Observability Observability `toml:"observability"`
	Snapshot      Snapshot      `toml:"snapshot"`
}

// Library lists extra locations searched for the hx_requests package before
// virtual environments.
type Library struct {
	Paths []string `toml:"paths"`
}

// Exclude holds glob patterns matched against directory base names.
type Exclude struct {
	Dirs []string `toml:"dirs"`
}

type Index struct {
	Workers int `toml:"workers"`
}

type Cache struct {
	ClassTables    int `toml:"class_tables"`
	LibraryLookups int `toml:"library_lookups"`
}

type Watch struct {
	Debounce            time.Duration `toml:"debounce"`
	MaxUpdatesPerSecond float64       `toml:"max_updates_per_second"`
	Burst               int           `toml:"burst"`
}

type Observability struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

type Snapshot struct {
	Path string `toml:"path"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Exclude.Dirs == nil {
		cfg.Exclude.Dirs = []string{".git", "node_modules"}
	}
	if cfg.Index.Workers == 0 {
		cfg.Index.Workers = runtime.NumCPU()
	}
	if cfg.Cache.ClassTables == 0 {
		cfg.Cache.ClassTables = defaultClassTables
	}
	if cfg.Cache.LibraryLookups == 0 {
		cfg.Cache.LibraryLookups = defaultLibraryLookup
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = defaultDebounce
	}
	if cfg.Watch.MaxUpdatesPerSecond == 0 {
		cfg.Watch.MaxUpdatesPerSecond = defaultUpdateRate
	}
	if cfg.Watch.Burst == 0 {
		cfg.Watch.Burst = defaultUpdateBurst
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = defaultSnapshotPath
	}
}
