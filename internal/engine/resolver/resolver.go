package resolver

import (
	"hxindex/internal/engine/parser"
	"hxindex/internal/shared/observability"
	"hxindex/internal/shared/util"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LibraryPackage is the directory name of the installed handler library.
const LibraryPackage = "hx_requests"

const (
	DefaultClassTableCache = 256
	DefaultLibraryCache    = 64
	libraryRootCache       = 16
)

var libraryPatterns = []string{
	"lib/python*/site-packages/" + LibraryPackage,
	"Lib/site-packages/" + LibraryPackage,
}

var virtualEnvDirs = []string{".venv", "venv", "env"}

// Options configures a Resolver. Zero values select defaults.
type Options struct {
	LibraryPaths    []string
	ClassTableCache int
	LibraryCache    int
	Parser          *parser.Parser
	// Getenv looks up VIRTUAL_ENV. Defaults to os.Getenv.
	Getenv func(string) string
}

// Reference is the context a base-class name is resolved from.
type Reference struct {
	File    string
	Imports map[string]string
	// Classes is the in-memory class table of File; nil means read it from disk.
	Classes       map[string]int
	WorkspaceRoot string
}

type location struct {
	path string
	line int
}

// Resolver locates the declarations of handler base classes. Each lookup
// tries the referencing file, then the installed library, then the
// workspace module named by the file's imports.
type Resolver struct {
	parser       *parser.Parser
	libraryPaths []string
	getenv       func(string) string

	classTables    *util.LRUCache[string, map[string]int]
	libraryLookups *util.LRUCache[string, *location]
	libraryRoots   *util.LRUCache[string, string]

	mu    sync.Mutex
	roots map[string]struct{}
}

func New(opts Options) *Resolver {
	if opts.ClassTableCache <= 0 {
		opts.ClassTableCache = DefaultClassTableCache
	}
	if opts.LibraryCache <= 0 {
		opts.LibraryCache = DefaultLibraryCache
	}
	if opts.Parser == nil {
		opts.Parser = parser.New()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	return &Resolver{
		parser:         opts.Parser,
		libraryPaths:   opts.LibraryPaths,
		getenv:         opts.Getenv,
		classTables:    util.NewLRUCache[string, map[string]int](opts.ClassTableCache),
		libraryLookups: util.NewLRUCache[string, *location](opts.LibraryCache),
		libraryRoots:   util.NewLRUCache[string, string](libraryRootCache),
		roots:          make(map[string]struct{}),
	}
}

// ResolveAll resolves each name independently, preserving order.
func (r *Resolver) ResolveAll(names []string, ref Reference) []parser.BaseClassInfo {
	out := make([]parser.BaseClassInfo, 0, len(names))
	for _, name := range names {
		out = append(out, r.Resolve(name, ref))
	}
	return out
}

// Resolve returns the declaration site of name. An unresolved name yields
// an info with no location.
func (r *Resolver) Resolve(name string, ref Reference) parser.BaseClassInfo {
	info := parser.BaseClassInfo{Name: name}

	classes := ref.Classes
	if classes == nil && ref.File != "" {
		classes = r.classTable(ref.File)
	}
	if line, ok := classes[name]; ok {
		observability.BaseClassResolutionsTotal.WithLabelValues("same_file").Inc()
		info.FilePath = util.NormalizeFilePath(ref.File)
		info.Line = line
		return info
	}

	if loc := r.findInLibrary(name, ref.WorkspaceRoot); loc != nil {
		observability.BaseClassResolutionsTotal.WithLabelValues("library").Inc()
		info.FilePath, info.Line = loc.path, loc.line
		return info
	}

	if loc := r.findInWorkspace(name, ref); loc != nil {
		observability.BaseClassResolutionsTotal.WithLabelValues("workspace").Inc()
		info.FilePath, info.Line = loc.path, loc.line
		return info
	}

	observability.BaseClassResolutionsTotal.WithLabelValues("unresolved").Inc()
	return info
}

// Invalidate drops cached state derived from path.
func (r *Resolver) Invalidate(path string) {
	path = util.NormalizeFilePath(path)
	r.classTables.Evict(path)

	r.mu.Lock()
	var libRoot string
	for root := range r.roots {
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			libRoot = root
			break
		}
	}
	r.mu.Unlock()
	if libRoot == "" {
		return
	}
	// Lookups are keyed root+NUL+name; only this library's entries go stale.
	prefix := libRoot + "\x00"
	dropped := r.libraryLookups.EvictFunc(func(key string, _ *location) bool {
		return strings.HasPrefix(key, prefix)
	})
	slog.Debug("library lookups invalidated", "path", path, "entries", dropped)
}

// Prime stores an already-parsed class table for path.
func (r *Resolver) Prime(path string, classes map[string]int) {
	if classes == nil {
		classes = map[string]int{}
	}
	r.classTables.Put(util.NormalizeFilePath(path), classes)
}

// Reset clears every cache.
func (r *Resolver) Reset() {
	r.classTables.Clear()
	r.libraryLookups.Clear()
	r.libraryRoots.Clear()
	r.mu.Lock()
	r.roots = make(map[string]struct{})
	r.mu.Unlock()
}

func (r *Resolver) classTable(path string) map[string]int {
	key := util.NormalizeFilePath(path)
	if classes, ok := r.classTables.Get(key); ok {
		observability.ResolverCacheRequestsTotal.WithLabelValues("class_tables", "hit").Inc()
		return classes
	}
	observability.ResolverCacheRequestsTotal.WithLabelValues("class_tables", "miss").Inc()
	classes := r.parser.ParseFile(key).Classes
	r.classTables.Put(key, classes)
	return classes
}

// LibraryRoot returns the handler library package directory visible from
// workspaceRoot, or "" when none is installed.
func (r *Resolver) LibraryRoot(workspaceRoot string) string {
	if root, ok := r.libraryRoots.Get(workspaceRoot); ok {
		return root
	}
	root := r.locateLibrary(workspaceRoot)
	r.libraryRoots.Put(workspaceRoot, root)
	if root != "" {
		r.mu.Lock()
		r.roots[root] = struct{}{}
		r.mu.Unlock()
		slog.Debug("handler library located", "workspace", workspaceRoot, "path", root)
	}
	return root
}

func (r *Resolver) locateLibrary(workspaceRoot string) string {
	for _, p := range r.libraryPaths {
		if filepath.Base(filepath.Clean(p)) == LibraryPackage && util.IsDir(p) {
			return util.NormalizeFilePath(p)
		}
		if pkg := filepath.Join(p, LibraryPackage); util.IsDir(pkg) {
			return util.NormalizeFilePath(pkg)
		}
	}

	var envs []string
	if venv := r.getenv("VIRTUAL_ENV"); venv != "" {
		envs = append(envs, venv)
	}
	if workspaceRoot != "" {
		for _, dir := range virtualEnvDirs {
			envs = append(envs, filepath.Join(workspaceRoot, dir))
		}
	}
	for _, env := range envs {
		for _, pattern := range libraryPatterns {
			matches, err := filepath.Glob(filepath.Join(env, filepath.FromSlash(pattern)))
			if err != nil {
				continue
			}
			sort.Strings(matches)
			for _, m := range matches {
				if util.IsDir(m) {
					return util.NormalizeFilePath(m)
				}
			}
		}
	}
	return ""
}

func (r *Resolver) findInLibrary(name, workspaceRoot string) *location {
	root := r.LibraryRoot(workspaceRoot)
	if root == "" {
		return nil
	}

	key := root + "\x00" + name
	if loc, ok := r.libraryLookups.Get(key); ok {
		observability.ResolverCacheRequestsTotal.WithLabelValues("library_lookups", "hit").Inc()
		return loc
	}
	observability.ResolverCacheRequestsTotal.WithLabelValues("library_lookups", "miss").Inc()

	var found *location
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".py" {
			return nil
		}
		if line, ok := r.classTable(path)[name]; ok {
			found = &location{path: util.NormalizeFilePath(path), line: line}
			return filepath.SkipAll
		}
		return nil
	})

	// Misses are cached too; Invalidate clears them when library files change.
	r.libraryLookups.Put(key, found)
	return found
}

func (r *Resolver) findInWorkspace(name string, ref Reference) *location {
	module, ok := ref.Imports[name]
	if !ok || module == "" {
		return nil
	}
	base, parts := moduleBase(module, ref)
	if base == "" {
		return nil
	}
	for _, candidate := range moduleCandidates(base, parts) {
		if loc := r.findInCandidate(candidate, name); loc != nil {
			return loc
		}
	}
	return nil
}

// moduleBase splits a module into the directory it is anchored on and its
// dotted segments. Absolute modules are anchored on the workspace root and
// relative ones on the referencing file's package.
func moduleBase(module string, ref Reference) (string, []string) {
	rest := strings.TrimLeft(module, ".")
	dots := len(module) - len(rest)

	var base string
	if dots == 0 {
		if ref.WorkspaceRoot == "" {
			return "", nil
		}
		base = ref.WorkspaceRoot
	} else {
		if ref.File == "" {
			return "", nil
		}
		base = filepath.Dir(ref.File)
		for i := 1; i < dots; i++ {
			base = filepath.Dir(base)
		}
	}

	var parts []string
	if rest != "" {
		parts = strings.Split(rest, ".")
	}
	return base, parts
}

func moduleCandidates(base string, parts []string) []string {
	var candidates []string
	if len(parts) == 0 {
		return []string{filepath.Join(base, "__init__.py")}
	}

	modulePath := filepath.Join(append([]string{base}, parts...)...)
	candidates = append(candidates,
		filepath.Join(modulePath, "__init__.py"),
		modulePath+".py",
	)
	if len(parts) > 1 {
		parent := filepath.Join(append([]string{base}, parts[:len(parts)-1]...)...)
		candidates = append(candidates, filepath.Join(parent, parts[len(parts)-1]+".py"))
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func (r *Resolver) findInCandidate(candidate, name string) *location {
	if !util.IsFile(candidate) {
		return nil
	}
	if filepath.Base(candidate) != "__init__.py" {
		if line, ok := r.classTable(candidate)[name]; ok {
			return &location{path: util.NormalizeFilePath(candidate), line: line}
		}
		return nil
	}

	// Package: __init__.py first, then sibling modules in lexical order.
	files := []string{candidate}
	siblings, _ := filepath.Glob(filepath.Join(filepath.Dir(candidate), "*.py"))
	sort.Strings(siblings)
	for _, s := range siblings {
		if s != candidate {
			files = append(files, s)
		}
	}
	for _, f := range files {
		if line, ok := r.classTable(f)[name]; ok {
			return &location{path: util.NormalizeFilePath(f), line: line}
		}
	}
	return nil
}
