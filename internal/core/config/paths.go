package config

import (
	"os"
	"path/filepath"
	"strings"
)

var workspaceMarkers = []string{
	DefaultFileName,
	"manage.py",
	"pyproject.toml",
	".git",
}

// WorkspaceRoot picks the root to index: an explicit argument first, then the
// configured workspace_root, then the nearest marked ancestor of cwd.
func WorkspaceRoot(cfg *Config, arg, cwd string) string {
	if arg = strings.TrimSpace(arg); arg != "" {
		return ResolveRelative(cwd, arg)
	}
	if cfg != nil && cfg.WorkspaceRoot != "" {
		return ResolveRelative(cwd, cfg.WorkspaceRoot)
	}
	return DetectWorkspaceRoot(cwd)
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// DetectWorkspaceRoot walks up from start looking for a workspace marker and
// falls back to start itself.
func DetectWorkspaceRoot(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return filepath.Clean(start)
	}
	root := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		root = filepath.Dir(abs)
	}

	for dir := root; ; {
		for _, marker := range workspaceMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return filepath.Clean(dir)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Clean(root)
}
