package cli

import (
	"fmt"
	"hxindex/internal/core/errors"
	"hxindex/internal/engine/index"
	"hxindex/internal/engine/parser"
	"hxindex/internal/engine/template"
	"hxindex/internal/query"
	"hxindex/internal/shared/version"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type checkReport struct {
	Stats     index.BuildStats    `json:"stats" yaml:"stats"`
	Undefined []template.Usage    `json:"undefined" yaml:"undefined"`
	Unused    []parser.Definition `json:"unused" yaml:"unused"`
}

func (a *app) checkCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "check [root]",
		Short: "Report template usages without a handler and handlers no template uses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, stats, err := a.buildIndex(cmd.Context(), args)
			if err != nil {
				return err
			}
			report := checkReport{
				Stats:     stats,
				Undefined: ix.UndefinedUsages(),
				Unused:    ix.UnusedDefinitions(),
			}
			if report.Undefined == nil {
				report.Undefined = []template.Usage{}
			}
			if report.Unused == nil {
				report.Unused = []parser.Definition{}
			}

			err = a.render(report, func(w io.Writer) {
				fmt.Fprintf(w, "Indexed %d definitions and %d usages (%d sources, %d templates)\n",
					stats.Definitions, stats.Usages, stats.SourceFiles, stats.TemplateFiles)
				for _, u := range report.Undefined {
					fmt.Fprintf(w, "undefined: %s:%d:%d %s '%s'\n", relPath(stats.Root, u.FilePath), u.Line, u.Column, u.Tag, u.Name)
				}
				for _, def := range report.Unused {
					fmt.Fprintf(w, "unused: %s:%d %s (%s)\n", relPath(stats.Root, def.FilePath), def.Line, def.Name, def.ClassName)
				}
			})
			if err != nil {
				return err
			}
			if strict && len(report.Undefined) > 0 {
				return &ExitError{Code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit with status 2 when undefined usages exist")
	return cmd
}

func (a *app) queryCommand() *cobra.Command {
	var (
		definition string
		usages     string
		names      bool
		ranked     string
	)
	cmd := &cobra.Command{
		Use:   "query [root]",
		Short: "Query the index by handler name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, stats, err := a.buildIndex(cmd.Context(), args)
			if err != nil {
				return err
			}
			root := stats.Root

			switch {
			case definition != "":
				def, ok := ix.Definition(definition)
				if !ok {
					return errors.AddContext(errors.New(errors.CodeNotFound, "no definition"), errors.CtxSymbol, definition)
				}
				return a.render(def, func(w io.Writer) { writeDefinition(w, root, def) })
			case usages != "":
				list := ix.Usages(usages)
				return a.render(list, func(w io.Writer) {
					for _, u := range list {
						fmt.Fprintf(w, "%s:%d:%d %s\n", relPath(root, u.FilePath), u.Line, u.Column, u.Match)
					}
				})
			case names:
				list := ix.Names()
				if list == nil {
					list = []string{}
				}
				return a.render(list, func(w io.Writer) {
					for _, n := range list {
						fmt.Fprintln(w, n)
					}
				})
			default:
				current, err := filepath.Abs(ranked)
				if err != nil {
					return errors.Wrap(err, errors.CodeValidationError, "resolve --ranked path")
				}
				defs := ix.DefinitionsRankedByRelevance(current)
				return a.render(defs, func(w io.Writer) {
					for _, def := range defs {
						fmt.Fprintf(w, "%s\t%s:%d\n", def.Name, relPath(root, def.FilePath), def.Line)
					}
				})
			}
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&definition, "definition", "", "print the definition bound to NAME")
	flags.StringVar(&usages, "usages", "", "list template usages of NAME")
	flags.BoolVar(&names, "names", false, "list every defined name")
	flags.StringVar(&ranked, "ranked", "", "list definitions ranked for completion in FILE")
	cmd.MarkFlagsMutuallyExclusive("definition", "usages", "names", "ranked")
	cmd.MarkFlagsOneRequired("definition", "usages", "names", "ranked")
	return cmd
}

func writeDefinition(w io.Writer, root string, def parser.Definition) {
	fmt.Fprintf(w, "%s (%s)\n", def.Name, def.ClassName)
	fmt.Fprintf(w, "  file:  %s:%d-%d\n", relPath(root, def.FilePath), def.Line, def.EndLine)
	for _, base := range def.BaseClassInfo {
		if base.Resolved() {
			fmt.Fprintf(w, "  base:  %s (%s:%d)\n", base.Name, base.FilePath, base.Line)
		} else {
			fmt.Fprintf(w, "  base:  %s\n", base.Name)
		}
	}
	if def.GetTemplate != "" {
		fmt.Fprintf(w, "  GET:   %s\n", def.GetTemplate)
	}
	if def.PostTemplate != "" {
		fmt.Fprintf(w, "  POST:  %s\n", def.PostTemplate)
	}
	if def.Docstring != "" {
		fmt.Fprintf(w, "\n%s\n", def.Docstring)
	}
}

const (
	lookupDefinition  = "definition"
	lookupReferences  = "references"
	lookupHover       = "hover"
	lookupCompletions = "completions"
	lookupDiagnostics = "diagnostics"
)

func (a *app) lookupCommand() *cobra.Command {
	var withDeclaration bool
	cmd := &cobra.Command{
		Use:   "lookup KIND FILE[:LINE:COL] [root]",
		Short: "Run an editor query (definition, references, hover, completions, diagnostics) against a file position",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			path, line, column, err := parseTarget(args[1], kind != lookupDiagnostics)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(path)
			if err != nil {
				return errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read lookup file"), errors.CtxPath, path)
			}

			ix, _, err := a.buildIndex(cmd.Context(), args[2:])
			if err != nil {
				return err
			}
			svc := query.NewService(ix)
			ctx := cmd.Context()
			text := string(content)

			switch kind {
			case lookupDefinition:
				loc, err := svc.DefinitionAt(ctx, path, text, line, column)
				if err != nil {
					return err
				}
				return a.render(loc, func(w io.Writer) {
					if loc != nil {
						writeLocation(w, *loc)
					}
				})
			case lookupReferences:
				locs, err := svc.References(ctx, path, text, line, column, withDeclaration)
				if err != nil {
					return err
				}
				if locs == nil {
					locs = []query.Location{}
				}
				return a.render(locs, func(w io.Writer) {
					for _, loc := range locs {
						writeLocation(w, loc)
					}
				})
			case lookupHover:
				h, err := svc.Hover(ctx, path, text, line, column)
				if err != nil {
					return err
				}
				return a.render(h, func(w io.Writer) {
					if h != nil {
						fmt.Fprintln(w, h.Markdown)
					}
				})
			case lookupCompletions:
				items, err := svc.Completions(ctx, path, text, line, column)
				if err != nil {
					return err
				}
				if items == nil {
					items = []query.CompletionItem{}
				}
				return a.render(items, func(w io.Writer) {
					for _, it := range items {
						fmt.Fprintf(w, "%s\t%s\n", it.Label, strings.ReplaceAll(it.Detail, "\n", "; "))
					}
				})
			case lookupDiagnostics:
				diags, err := svc.Diagnostics(ctx, path)
				if err != nil {
					return err
				}
				if diags == nil {
					diags = []query.Diagnostic{}
				}
				return a.render(diags, func(w io.Writer) {
					for _, d := range diags {
						fmt.Fprintf(w, "%s:%d:%d %s %s [%s]\n", d.Path, d.Range.Start.Line, d.Range.Start.Column, d.Severity, d.Message, d.Code)
					}
				})
			}
			return errors.AddContext(errors.New(errors.CodeValidationError, fmt.Sprintf("unknown lookup kind %q", kind)), errors.CtxOperation, kind)
		},
	}
	cmd.Flags().BoolVar(&withDeclaration, "include-declaration", false, "list the declaration before references")
	return cmd
}

// parseTarget splits FILE:LINE:COL from the right so that paths containing
// colons survive. Without needPosition a bare FILE is accepted.
func parseTarget(target string, needPosition bool) (string, int, int, error) {
	invalid := func() (string, int, int, error) {
		return "", 0, 0, errors.AddContext(
			errors.New(errors.CodeValidationError, "expected FILE:LINE:COL"), errors.CtxField, target)
	}

	path, line, column := target, 0, 0
	if i := strings.LastIndex(target, ":"); i > 0 {
		if j := strings.LastIndex(target[:i], ":"); j > 0 {
			l, errL := strconv.Atoi(target[j+1 : i])
			c, errC := strconv.Atoi(target[i+1:])
			if errL == nil && errC == nil {
				path, line, column = target[:j], l, c
			}
		}
	}
	if needPosition && (line < 1 || column < 0) {
		return invalid()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return invalid()
	}
	return abs, line, column, nil
}

func writeLocation(w io.Writer, loc query.Location) {
	fmt.Fprintf(w, "%s:%d:%d-%d:%d\n", loc.Path, loc.Range.Start.Line, loc.Range.Start.Column, loc.Range.End.Line, loc.Range.End.Column)
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.render(map[string]string{"version": version.Version}, func(w io.Writer) {
				fmt.Fprintf(w, "hxindex %s\n", version.Version)
			})
		},
	}
}
