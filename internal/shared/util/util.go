package util

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// NormalizeFilePath returns the absolute, symlink-resolved form of p. For a
// path that does not exist, the deepest existing ancestor is resolved and the
// missing tail is joined back, so a deleted file keeps the key it was indexed
// under.
func NormalizeFilePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}

	var missing []string
	for dir := abs; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		missing = append(missing, filepath.Base(dir))
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			slices.Reverse(missing)
			return filepath.Join(append([]string{resolved}, missing...)...)
		}
	}
}

func IsDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// IsFile reports whether p exists and is a regular file.
func IsFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// SortedStringKeys returns the map's keys in ascending order.
func SortedStringKeys[T any](m map[string]T) []string {
	return slices.Sorted(maps.Keys(m))
}
