package cli

import (
	"fmt"
	"hxindex/internal/data/snapshot"
	"hxindex/internal/engine/parser"
	"hxindex/internal/engine/template"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type snapshotContents struct {
	RunID       string              `json:"run_id" yaml:"run_id"`
	Definitions []parser.Definition `json:"definitions" yaml:"definitions"`
	Usages      []template.Usage    `json:"usages" yaml:"usages"`
}

func (a *app) snapshotCommand() *cobra.Command {
	var (
		out  string
		list bool
		show string
	)
	cmd := &cobra.Command{
		Use:   "snapshot [root]",
		Short: "Export the index into a SQLite snapshot database, or inspect stored runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if out == "" {
				out = a.cfg.Snapshot.Path
			}
			store, err := snapshot.Open(out)
			if err != nil {
				return err
			}
			defer store.Close()

			switch {
			case list:
				runs, err := store.Runs(ctx)
				if err != nil {
					return err
				}
				return a.render(runs, func(w io.Writer) {
					for _, r := range runs {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d definitions\t%d usages\t%d undefined\t%d unused\n",
							r.ID, r.Timestamp.Format(time.RFC3339), r.Root, r.Definitions, r.Usages, r.UndefinedCount, r.UnusedCount)
					}
				})
			case show != "":
				defs, err := store.LoadDefinitions(ctx, show)
				if err != nil {
					return err
				}
				usages, err := store.LoadUsages(ctx, show)
				if err != nil {
					return err
				}
				contents := snapshotContents{RunID: show, Definitions: defs, Usages: usages}
				return a.render(contents, func(w io.Writer) {
					for _, def := range defs {
						fmt.Fprintf(w, "definition\t%s\t%s:%d\n", def.Name, def.FilePath, def.Line)
					}
					for _, u := range usages {
						fmt.Fprintf(w, "usage\t%s\t%s:%d:%d\n", u.Name, u.FilePath, u.Line, u.Column)
					}
				})
			}

			ix, stats, err := a.buildIndex(ctx, args)
			if err != nil {
				return err
			}
			run, err := store.SaveSnapshot(ctx, snapshot.Snapshot{
				Root:          stats.Root,
				SourceFiles:   stats.SourceFiles,
				TemplateFiles: stats.TemplateFiles,
				Definitions:   ix.Definitions(),
				Usages:        ix.AllUsages(),
			})
			if err != nil {
				return err
			}
			return a.render(run, func(w io.Writer) {
				fmt.Fprintf(w, "saved run %s to %s (%d definitions, %d usages)\n", run.ID, store.Path(), run.Definitions, run.Usages)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&out, "out", "", "snapshot database path (default from config)")
	flags.BoolVar(&list, "list", false, "list stored runs instead of saving one")
	flags.StringVar(&show, "show", "", "print the definitions and usages stored for RUN_ID")
	cmd.MarkFlagsMutuallyExclusive("list", "show")
	return cmd
}
