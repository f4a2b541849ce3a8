package index

import (
	"context"
	"hxindex/internal/engine/parser"
	"hxindex/internal/engine/resolver"
	"hxindex/internal/engine/template"
	"hxindex/internal/shared/observability"
	"hxindex/internal/shared/util"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// appMarkers are directory names whose parent directory names an app.
var appMarkers = map[string]bool{
	SourceDirName:       true,
	"templates":         true,
	"template_partials": true,
}

// Index holds every handler definition and template usage of a workspace.
// All methods are safe for concurrent use; each one is atomic with respect
// to the others.
type Index struct {
	mu sync.RWMutex

	root     string
	parser   *parser.Parser
	resolver *resolver.Resolver
	excluder *Excluder
	workers  int

	definitions       map[string]parser.Definition   // name -> latest definition
	usages            map[string][]template.Usage    // name -> usages in insertion order
	definitionsByFile map[string][]parser.Definition // path -> definitions parsed from it
	usagesByFile      map[string][]template.Usage    // path -> usages parsed from it
}

type Option func(*Index)

func WithWorkspaceRoot(root string) Option {
	return func(ix *Index) { ix.root = root }
}

func WithParser(p *parser.Parser) Option {
	return func(ix *Index) { ix.parser = p }
}

func WithResolver(r *resolver.Resolver) Option {
	return func(ix *Index) { ix.resolver = r }
}

func WithExcluder(ex *Excluder) Option {
	return func(ix *Index) { ix.excluder = ex }
}

// WithWorkers bounds parallel parsing during BuildFull. Values < 1 select
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(ix *Index) { ix.workers = n }
}

func New(opts ...Option) *Index {
	ix := &Index{
		definitions:       make(map[string]parser.Definition),
		usages:            make(map[string][]template.Usage),
		definitionsByFile: make(map[string][]parser.Definition),
		usagesByFile:      make(map[string][]template.Usage),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.parser == nil {
		ix.parser = parser.New()
	}
	if ix.resolver == nil {
		ix.resolver = resolver.New(resolver.Options{Parser: ix.parser})
	}
	if ix.excluder == nil {
		ix.excluder, _ = NewExcluder(DefaultExcludeDirs)
	}
	if ix.workers < 1 {
		ix.workers = runtime.GOMAXPROCS(0)
	}
	if ix.root != "" {
		ix.root = util.NormalizeFilePath(ix.root)
	}
	return ix
}

// BuildStats summarizes one full build.
type BuildStats struct {
	Root          string        `json:"root" yaml:"root"`
	SourceFiles   int           `json:"source_files" yaml:"source_files"`
	TemplateFiles int           `json:"template_files" yaml:"template_files"`
	Definitions   int           `json:"definitions" yaml:"definitions"`
	Usages        int           `json:"usages" yaml:"usages"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
}

// Stats describes the current index contents.
type Stats struct {
	Root          string `json:"root" yaml:"root"`
	SourceFiles   int    `json:"source_files" yaml:"source_files"`
	TemplateFiles int    `json:"template_files" yaml:"template_files"`
	Definitions   int    `json:"definitions" yaml:"definitions"`
	UsageNames    int    `json:"usage_names" yaml:"usage_names"`
	Usages        int    `json:"usages" yaml:"usages"`
}

func (ix *Index) Root() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.root
}

// SetRoot changes the root used by later builds and import resolution.
func (ix *Index) SetRoot(root string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.root = util.NormalizeFilePath(root)
}

// BuildFull discards all state and re-indexes every convention-matched file
// under root. An empty root selects the current root; with no root at all
// the call logs a warning and leaves the index untouched.
func (ix *Index) BuildFull(ctx context.Context, root string) BuildStats {
	ctx, span := observability.Tracer.Start(ctx, "index.BuildFull")
	defer span.End()

	start := time.Now()
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if root == "" {
		root = ix.root
	}
	if root == "" {
		slog.Warn("no workspace root set, cannot build index")
		return BuildStats{}
	}
	root = util.NormalizeFilePath(root)
	ix.root = root
	span.SetAttributes(attribute.String("root", root))
	slog.Info("building full index", "root", root)

	clear(ix.definitions)
	clear(ix.usages)
	clear(ix.definitionsByFile)
	clear(ix.usagesByFile)
	ix.resolver.Reset()

	sources, templates := Discover(root, ix.excluder)

	parsedSources := make([][]parser.Definition, len(sources))
	parsedTemplates := make([][]template.Usage, len(templates))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, path := range sources {
		g.Go(func() error {
			parsedSources[i] = ix.parseSource(path, nil)
			return nil
		})
	}
	for i, path := range templates {
		g.Go(func() error {
			parsedTemplates[i] = template.ParseFile(path)
			return nil
		})
	}
	_ = g.Wait()

	for i, path := range sources {
		ix.insertDefinitionsLocked(path, parsedSources[i])
	}
	for i, path := range templates {
		ix.insertUsagesLocked(path, parsedTemplates[i])
	}
	ix.publishGaugesLocked()

	stats := BuildStats{
		Root:          root,
		SourceFiles:   len(sources),
		TemplateFiles: len(templates),
		Definitions:   len(ix.definitions),
		Usages:        ix.usageCountLocked(),
		Duration:      time.Since(start),
	}
	observability.BuildDuration.Observe(stats.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("definitions", stats.Definitions),
		attribute.Int("usages", stats.Usages),
	)
	slog.Info("index built",
		"definitions", stats.Definitions,
		"usages", stats.Usages,
		"sources", stats.SourceFiles,
		"templates", stats.TemplateFiles,
		"duration", stats.Duration)
	return stats
}

// UpdateFile re-indexes one file from disk.
func (ix *Index) UpdateFile(path string) {
	ix.update(path, nil)
}

// UpdateFileContent re-indexes one file from in-memory text.
func (ix *Index) UpdateFileContent(path, content string) {
	ix.update(path, &content)
}

func (ix *Index) update(path string, content *string) {
	ext := filepath.Ext(path)
	if ext != SourceExt && ext != TemplateExt {
		observability.IndexUpdatesTotal.WithLabelValues("ignored").Inc()
		return
	}
	path = util.NormalizeFilePath(path)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch ext {
	case SourceExt:
		ix.removeDefinitionsLocked(path)
		ix.resolver.Invalidate(path)
		var src []byte
		if content != nil {
			src = []byte(*content)
		}
		defs := ix.parseSource(path, src)
		if len(defs) == 0 && content == nil && !util.IsFile(path) {
			delete(ix.definitionsByFile, path)
		} else {
			ix.insertDefinitionsLocked(path, defs)
		}
		observability.IndexUpdatesTotal.WithLabelValues("update_source").Inc()
	case TemplateExt:
		ix.removeUsagesLocked(path)
		var usages []template.Usage
		if content != nil {
			usages = template.Parse(*content, path)
		} else {
			usages = template.ParseFile(path)
		}
		if len(usages) == 0 && content == nil && !util.IsFile(path) {
			delete(ix.usagesByFile, path)
		} else {
			ix.insertUsagesLocked(path, usages)
		}
		observability.IndexUpdatesTotal.WithLabelValues("update_template").Inc()
	}
	ix.publishGaugesLocked()
}

// RemoveFile forgets everything indexed from path.
func (ix *Index) RemoveFile(path string) {
	path = util.NormalizeFilePath(path)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.definitionsByFile[path]; ok {
		ix.removeDefinitionsLocked(path)
		delete(ix.definitionsByFile, path)
	}
	if _, ok := ix.usagesByFile[path]; ok {
		ix.removeUsagesLocked(path)
		delete(ix.usagesByFile, path)
	}
	ix.resolver.Invalidate(path)
	observability.IndexUpdatesTotal.WithLabelValues("remove").Inc()
	ix.publishGaugesLocked()
}

// parseSource parses a Python file (from disk when src is nil) and resolves
// the base classes of every definition. It only reads ix.root, so it is safe
// to call from build workers while the caller holds the write lock.
func (ix *Index) parseSource(path string, src []byte) []parser.Definition {
	var file *parser.SourceFile
	if src == nil {
		file = ix.parser.ParseFile(path)
	} else {
		file = ix.parser.ParseSource(path, src)
	}
	ix.resolver.Prime(path, file.Classes)

	ref := resolver.Reference{
		File:          path,
		Imports:       file.Imports,
		Classes:       file.Classes,
		WorkspaceRoot: ix.root,
	}
	for i := range file.Definitions {
		file.Definitions[i].BaseClassInfo = ix.resolver.ResolveAll(file.Definitions[i].BaseClasses, ref)
	}
	return file.Definitions
}

func (ix *Index) insertDefinitionsLocked(path string, defs []parser.Definition) {
	ix.definitionsByFile[path] = defs
	for _, def := range defs {
		ix.definitions[def.Name] = def
	}
}

// removeDefinitionsLocked drops the name entries still owned by path. A name
// since redefined by another file is left alone.
func (ix *Index) removeDefinitionsLocked(path string) {
	for _, old := range ix.definitionsByFile[path] {
		if cur, ok := ix.definitions[old.Name]; ok && cur.FilePath == path {
			delete(ix.definitions, old.Name)
		}
	}
}

func (ix *Index) insertUsagesLocked(path string, usages []template.Usage) {
	ix.usagesByFile[path] = usages
	for _, u := range usages {
		ix.usages[u.Name] = append(ix.usages[u.Name], u)
	}
}

func (ix *Index) removeUsagesLocked(path string) {
	for _, old := range ix.usagesByFile[path] {
		list, ok := ix.usages[old.Name]
		if !ok {
			continue
		}
		kept := list[:0:0]
		for _, u := range list {
			if u.FilePath != path {
				kept = append(kept, u)
			}
		}
		if len(kept) == 0 {
			delete(ix.usages, old.Name)
		} else {
			ix.usages[old.Name] = kept
		}
	}
}

func (ix *Index) usageCountLocked() int {
	n := 0
	for _, list := range ix.usages {
		n += len(list)
	}
	return n
}

func (ix *Index) publishGaugesLocked() {
	observability.IndexedDefinitions.Set(float64(len(ix.definitions)))
	observability.IndexedUsages.Set(float64(ix.usageCountLocked()))
}

// Definition returns the definition currently bound to name.
func (ix *Index) Definition(name string) (parser.Definition, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	def, ok := ix.definitions[name]
	if !ok {
		return parser.Definition{}, false
	}
	return def.Clone(), true
}

// Usages returns the usages of name in insertion order.
func (ix *Index) Usages(name string) []template.Usage {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]template.Usage{}, ix.usages[name]...)
}

// Names returns every defined name, sorted.
func (ix *Index) Names() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return util.SortedStringKeys(ix.definitions)
}

// Definitions returns every definition sorted by name.
func (ix *Index) Definitions() []parser.Definition {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.sortedDefinitionsLocked()
}

func (ix *Index) sortedDefinitionsLocked() []parser.Definition {
	out := make([]parser.Definition, 0, len(ix.definitions))
	for _, name := range util.SortedStringKeys(ix.definitions) {
		out = append(out, ix.definitions[name].Clone())
	}
	return out
}

func (ix *Index) DefinitionsInFile(path string) []parser.Definition {
	path = util.NormalizeFilePath(path)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	defs := ix.definitionsByFile[path]
	out := make([]parser.Definition, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.Clone())
	}
	return out
}

func (ix *Index) UsagesInFile(path string) []template.Usage {
	path = util.NormalizeFilePath(path)
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]template.Usage{}, ix.usagesByFile[path]...)
}

// DefinitionsRankedByRelevance orders definitions from the same app as
// currentFile first, then by name. An empty currentFile sorts by name only.
func (ix *Index) DefinitionsRankedByRelevance(currentFile string) []parser.Definition {
	ix.mu.RLock()
	defs := ix.sortedDefinitionsLocked()
	ix.mu.RUnlock()

	if currentFile == "" {
		return defs
	}
	currentApp, currentOK := AppName(util.NormalizeFilePath(currentFile))
	rank := func(def parser.Definition) int {
		app, ok := AppName(def.FilePath)
		if app == currentApp && ok == currentOK {
			return 0
		}
		return 1
	}
	sort.SliceStable(defs, func(i, j int) bool {
		return rank(defs[i]) < rank(defs[j])
	})
	return defs
}

// AppName returns the path segment in front of the first hx_requests,
// templates or template_partials segment.
func AppName(path string) (string, bool) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if i > 0 && appMarkers[part] {
			return parts[i-1], true
		}
	}
	return "", false
}

// UndefinedUsages returns usages whose name has no definition, sorted by
// file, line and column.
func (ix *Index) UndefinedUsages() []template.Usage {
	ix.mu.RLock()
	var out []template.Usage
	for name, list := range ix.usages {
		if _, ok := ix.definitions[name]; !ok {
			out = append(out, list...)
		}
	}
	ix.mu.RUnlock()
	sortUsages(out)
	return out
}

// AllUsages returns every indexed usage sorted by file, line and column.
func (ix *Index) AllUsages() []template.Usage {
	ix.mu.RLock()
	out := make([]template.Usage, 0, ix.usageCountLocked())
	for _, list := range ix.usagesByFile {
		out = append(out, list...)
	}
	ix.mu.RUnlock()
	sortUsages(out)
	return out
}

func sortUsages(out []template.Usage) {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

// UnusedDefinitions returns definitions no template refers to, sorted by name.
func (ix *Index) UnusedDefinitions() []parser.Definition {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []parser.Definition
	for _, name := range util.SortedStringKeys(ix.definitions) {
		if len(ix.usages[name]) == 0 {
			out = append(out, ix.definitions[name].Clone())
		}
	}
	return out
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		Root:          ix.root,
		SourceFiles:   len(ix.definitionsByFile),
		TemplateFiles: len(ix.usagesByFile),
		Definitions:   len(ix.definitions),
		UsageNames:    len(ix.usages),
		Usages:        ix.usageCountLocked(),
	}
}
