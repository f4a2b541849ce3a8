package index

import (
	"fmt"
	"hxindex/internal/core/errors"
	"hxindex/internal/shared/util"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Convention names that decide which files are indexed.
const (
	SourceFileName = "hx_requests.py"
	SourceDirName  = "hx_requests"
	SourceExt      = ".py"
	TemplateExt    = ".html"
	cacheDirName   = "__pycache__"
)

var templateDirNames = map[string]bool{
	"templates":         true,
	"template_partials": true,
}

// DefaultExcludeDirs are directory base names never descended into.
var DefaultExcludeDirs = []string{".git", "node_modules"}

// Excluder matches directory base names against glob patterns.
type Excluder struct {
	patterns []glob.Glob
}

func NewExcluder(patterns []string) (*Excluder, error) {
	ex := &Excluder{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid exclude pattern %q", p))
		}
		ex.patterns = append(ex.patterns, g)
	}
	return ex, nil
}

func (e *Excluder) Match(name string) bool {
	if e == nil {
		return false
	}
	for _, g := range e.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

var sourceDirNames = map[string]bool{SourceDirName: true}

// Tracked reports whether an incremental update for path is meaningful.
func Tracked(path string) bool {
	ext := filepath.Ext(path)
	return ext == SourceExt || ext == TemplateExt
}

// Classify applies the discovery conventions to a single path below root.
// Paths outside root, or inside a __pycache__ directory, match nothing.
func Classify(root, path string) (source, tmpl bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, false
	}
	dirs := parentDirs(rel)
	if containsAny(dirs, map[string]bool{cacheDirName: true}) {
		return false, false
	}
	switch filepath.Ext(path) {
	case SourceExt:
		return filepath.Base(path) == SourceFileName || containsAny(dirs, sourceDirNames), false
	case TemplateExt:
		return false, containsAny(dirs, templateDirNames)
	}
	return false, false
}

// Discover walks root and returns the convention-matched source and template
// files as sorted, normalized, de-duplicated paths.
//
// Sources are files named hx_requests.py anywhere, plus every .py file below
// a directory named hx_requests. Templates are .html files below a directory
// named templates or template_partials.
func Discover(root string, ex *Excluder) (sources, templates []string) {
	seen := make(map[string]bool)
	add := func(list *[]string, path string) {
		norm := util.NormalizeFilePath(path)
		if seen[norm] {
			return
		}
		seen[norm] = true
		*list = append(*list, norm)
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("discovery skipped path", "path", path, "error", err)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && (d.Name() == cacheDirName || ex.Match(d.Name())) {
				return filepath.SkipDir
			}
			return nil
		}

		switch source, tmpl := Classify(root, path); {
		case source:
			add(&sources, path)
		case tmpl:
			add(&templates, path)
		}
		return nil
	})

	sort.Strings(sources)
	sort.Strings(templates)
	return sources, templates
}

func parentDirs(rel string) []string {
	var dirs []string
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		dirs = append(dirs, filepath.Base(dir))
	}
	return dirs
}

func containsAny(names []string, set map[string]bool) bool {
	for _, n := range names {
		if set[n] {
			return true
		}
	}
	return false
}
