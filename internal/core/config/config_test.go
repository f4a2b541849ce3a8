package config

import (
	"hxindex/internal/core/errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version = 1
workspace_root = "src"

[library]
paths = ["vendor/site-packages", " "]

[exclude]
dirs = [".git", "build-*"]

[index]
workers = 3

[cache]
class_tables = 10
library_lookups = 5

[watch]
debounce = "1s"
max_updates_per_second = 2.5
burst = 4

[observability]
metrics_addr = "127.0.0.1:9464"

[snapshot]
path = "out/snap.db"
`)
	dir := filepath.Dir(path)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.WorkspaceRoot != filepath.Join(dir, "src") {
		t.Errorf("expected anchored workspace root, got %q", cfg.WorkspaceRoot)
	}
	if len(cfg.Library.Paths) != 1 || cfg.Library.Paths[0] != filepath.Join(dir, "vendor", "site-packages") {
		t.Errorf("unexpected library paths %v", cfg.Library.Paths)
	}
	if len(cfg.Exclude.Dirs) != 2 {
		t.Errorf("unexpected exclude dirs %v", cfg.Exclude.Dirs)
	}
	if cfg.Index.Workers != 3 || cfg.Cache.ClassTables != 10 || cfg.Cache.LibraryLookups != 5 {
		t.Errorf("unexpected sizes %+v %+v", cfg.Index, cfg.Cache)
	}
	if cfg.Watch.Debounce != time.Second || cfg.Watch.MaxUpdatesPerSecond != 2.5 || cfg.Watch.Burst != 4 {
		t.Errorf("unexpected watch settings %+v", cfg.Watch)
	}
	if cfg.Observability.MetricsAddr != "127.0.0.1:9464" {
		t.Errorf("unexpected metrics addr %q", cfg.Observability.MetricsAddr)
	}
	if cfg.Snapshot.Path != filepath.Join(dir, "out", "snap.db") {
		t.Errorf("unexpected snapshot path %q", cfg.Snapshot.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, ``)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Version != CurrentVersion {
		t.Errorf("expected default version, got %d", cfg.Version)
	}
	if cfg.Watch.Debounce != 300*time.Millisecond {
		t.Errorf("expected default debounce 300ms, got %v", cfg.Watch.Debounce)
	}
	if cfg.Index.Workers != runtime.NumCPU() {
		t.Errorf("expected workers to default to NumCPU, got %d", cfg.Index.Workers)
	}
	if len(cfg.Exclude.Dirs) != 2 || cfg.Exclude.Dirs[0] != ".git" {
		t.Errorf("unexpected default excludes %v", cfg.Exclude.Dirs)
	}
	if cfg.Cache.ClassTables != 256 || cfg.Cache.LibraryLookups != 64 {
		t.Errorf("unexpected default caches %+v", cfg.Cache)
	}
}

func TestLoad_EmptyExcludeListStaysEmpty(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[exclude]\ndirs = []\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Exclude.Dirs) != 0 {
		t.Errorf("expected explicit empty excludes, got %v", cfg.Exclude.Dirs)
	}
}

func TestLoadError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}

	_, err = Load(writeConfig(t, "bad = toml = format"))
	if !errors.IsCode(err, errors.CodeParse) {
		t.Errorf("expected PARSE_ERROR for malformed TOML, got %v", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]string{
		"future version":   "version = 7",
		"negative version": "version = -1",
		"negative workers": "[index]\nworkers = -2",
		"negative cache":   "[cache]\nclass_tables = -1",
		"negative lookups": "[cache]\nlibrary_lookups = -1",
		"negative rate":    "[watch]\nmax_updates_per_second = -1.0",
		"negative burst":   "[watch]\nburst = -1",
		"bad glob":         "[exclude]\ndirs = [\"[unclosed\"]",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			if !errors.IsCode(err, errors.CodeValidationError) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), DefaultFileName)

	cfg, err := LoadOrDefault(missing, false)
	if err != nil {
		t.Fatalf("expected defaults for missing implicit file, got %v", err)
	}
	if cfg.Snapshot.Path != defaultSnapshotPath {
		t.Errorf("unexpected default snapshot path %q", cfg.Snapshot.Path)
	}

	if _, err := LoadOrDefault(missing, true); !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for missing explicit file, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HXINDEX_WATCH_DEBOUNCE", "2s")
	t.Setenv("HXINDEX_INDEX_WORKERS", "7")
	t.Setenv("HXINDEX_LIBRARY_PATHS", "/a"+string(os.PathListSeparator)+"/b")
	t.Setenv("HXINDEX_CACHE_CLASS_TABLES", "not-a-number")

	cfg := DefaultConfig()
	ApplyEnvOverrides(cfg)

	if cfg.Watch.Debounce != 2*time.Second {
		t.Errorf("expected debounce override, got %v", cfg.Watch.Debounce)
	}
	if cfg.Index.Workers != 7 {
		t.Errorf("expected workers override, got %d", cfg.Index.Workers)
	}
	if len(cfg.Library.Paths) != 2 || cfg.Library.Paths[1] != "/b" {
		t.Errorf("expected library paths override, got %v", cfg.Library.Paths)
	}
	if cfg.Cache.ClassTables != defaultClassTables {
		t.Errorf("expected unparsable override to be ignored, got %d", cfg.Cache.ClassTables)
	}
}

func TestWorkspaceRoot(t *testing.T) {
	base := t.TempDir()
	project := filepath.Join(base, "project")
	nested := filepath.Join(project, "app", "templates")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, "manage.py"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if got := WorkspaceRoot(nil, "", nested); got != project {
		t.Errorf("expected marker directory %q, got %q", project, got)
	}
	if got := WorkspaceRoot(nil, "other", base); got != filepath.Join(base, "other") {
		t.Errorf("expected explicit argument to win, got %q", got)
	}
	cfg := &Config{WorkspaceRoot: "/configured"}
	if got := WorkspaceRoot(cfg, "", nested); got != filepath.Clean("/configured") {
		t.Errorf("expected configured root, got %q", got)
	}
}

func TestResolveRelative(t *testing.T) {
	if got := ResolveRelative("/base", ""); got != filepath.Clean("/base") {
		t.Errorf("empty value should resolve to base, got %q", got)
	}
	if got := ResolveRelative("/base", "/abs/x"); got != filepath.Clean("/abs/x") {
		t.Errorf("absolute value should stay, got %q", got)
	}
	if got := ResolveRelative("/base", "rel/../x"); got != filepath.Join("/base", "x") {
		t.Errorf("relative value should join, got %q", got)
	}
}
