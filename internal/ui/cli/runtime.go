package cli

import (
	"context"
	"encoding/json"
	"hxindex/internal/core/config"
	"hxindex/internal/core/errors"
	"hxindex/internal/engine/index"
	"hxindex/internal/engine/parser"
	"hxindex/internal/engine/resolver"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func (a *app) workspaceRoot(arg string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "get working directory")
	}
	root := config.WorkspaceRoot(a.cfg, arg, cwd)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return "", errors.AddContext(errors.New(errors.CodeNotFound, "workspace root is not a directory"), errors.CtxPath, root)
	}
	return root, nil
}

func (a *app) newIndex(root string) (*index.Index, error) {
	ex, err := index.NewExcluder(a.cfg.Exclude.Dirs)
	if err != nil {
		return nil, err
	}
	p := parser.New()
	r := resolver.New(resolver.Options{
		LibraryPaths:    a.cfg.Library.Paths,
		ClassTableCache: a.cfg.Cache.ClassTables,
		LibraryCache:    a.cfg.Cache.LibraryLookups,
		Parser:          p,
	})
	return index.New(
		index.WithWorkspaceRoot(root),
		index.WithParser(p),
		index.WithResolver(r),
		index.WithExcluder(ex),
		index.WithWorkers(a.cfg.Index.Workers),
	), nil
}

// buildIndex indexes the workspace named by the optional first argument.
func (a *app) buildIndex(ctx context.Context, args []string) (*index.Index, index.BuildStats, error) {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	root, err := a.workspaceRoot(arg)
	if err != nil {
		return nil, index.BuildStats{}, err
	}
	ix, err := a.newIndex(root)
	if err != nil {
		return nil, index.BuildStats{}, err
	}
	stats := ix.BuildFull(ctx, root)
	return ix, stats, nil
}

// render writes v as JSON or YAML, or calls text for the text format.
func (a *app) render(v any, text func(w io.Writer)) error {
	switch a.format {
	case formatJSON:
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(a.stdout)
		return nil
	}
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && !filepath.IsAbs(rel) && rel != ".." &&
		!hasParentPrefix(rel) {
		return rel
	}
	return path
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}
