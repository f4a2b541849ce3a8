package cli

import (
	"context"
	"hxindex/internal/core/watcher"
	"hxindex/internal/engine/index"
	"hxindex/internal/query"
	"hxindex/internal/shared/observability"
	"hxindex/internal/shared/util"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [root]",
		Short: "Keep the index current while files change and log diagnostics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runWatch(ctx, args)
		},
	}
}

func (a *app) runWatch(ctx context.Context, args []string) error {
	shutdownTracing, err := observability.InitTracing(ctx, a.cfg.Observability.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	ix, _, err := a.buildIndex(ctx, args)
	if err != nil {
		return err
	}
	root := ix.Root()

	if addr := a.cfg.Observability.MetricsAddr; addr != "" {
		srv := NewObservabilityServer(addr, ix)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(stopCtx)
		}()
	}

	svc := query.NewService(ix)
	accept := func(path string) bool {
		source, tmpl := index.Classify(root, path)
		return source || tmpl
	}
	w, err := watcher.NewWatcher(a.cfg.Watch.Debounce, a.cfg.Exclude.Dirs, accept, func(paths []string) {
		applyChanges(ctx, ix, svc, paths)
	})
	if err != nil {
		return err
	}
	w.SetLimiter(util.NewLimiter(a.cfg.Watch.MaxUpdatesPerSecond, a.cfg.Watch.Burst))
	defer w.Close()

	if err := w.Watch([]string{root}); err != nil {
		return err
	}
	slog.Info("watching workspace", "root", root, "debounce", a.cfg.Watch.Debounce)

	<-ctx.Done()
	slog.Info("watch stopped")
	return nil
}

// applyChanges feeds changed paths into the index and logs the diagnostics
// of each changed file.
func applyChanges(ctx context.Context, ix *index.Index, svc *query.Service, paths []string) {
	warnings, hints := 0, 0
	for _, path := range paths {
		if util.IsFile(path) {
			ix.UpdateFile(path)
		} else {
			ix.RemoveFile(path)
		}

		diags, err := svc.Diagnostics(ctx, path)
		if err != nil {
			slog.Debug("diagnostics skipped", "path", path, "error", err)
			continue
		}
		for _, d := range diags {
			switch d.Severity {
			case query.SeverityWarning:
				warnings++
				slog.Warn(d.Message, "path", d.Path, "line", d.Range.Start.Line, "column", d.Range.Start.Column)
			case query.SeverityHint:
				hints++
				slog.Debug(d.Message, "path", d.Path, "line", d.Range.Start.Line)
			}
		}
	}

	stats := ix.Stats()
	slog.Info("index updated",
		"files", len(paths),
		"warnings", warnings,
		"hints", hints,
		"definitions", stats.Definitions,
		"usages", stats.Usages,
		"undefined_total", len(ix.UndefinedUsages()))
}
