package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tracksync/tracksync/internal/api"
	"github.com/tracksync/tracksync/internal/filemap"
	"github.com/tracksync/tracksync/internal/live"
	"github.com/tracksync/tracksync/internal/log"
	"github.com/tracksync/tracksync/internal/metrics"
	"github.com/tracksync/tracksync/internal/relocate"
	"github.com/tracksync/tracksync/internal/service"
	"github.com/tracksync/tracksync/internal/store"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API, the job orchestrator and the auto sync trigger",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = log.ContextAttrs(ctx, slog.Group("tracksync",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	tool, err := service.ParseToolConfig("tool")
	if err != nil {
		return fmt.Errorf("parsing tool config: %w", err)
	}
	for _, dir := range []string{config.Paths.ArchivesRoot, config.Paths.MusicRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	db, err := store.Open(ctx, config.Paths.Database, config.Paths.MusicRoot)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.ErrorContext(ctx, "closing database", "error", err)
		}
	}()

	paths := filemap.Paths{Root: config.Paths.ArchivesRoot}
	sup := service.NewSupervisor(tool, paths)
	if path, err := sup.ResolveTool(); err != nil {
		// jobs report it, the API is still useful without the tool
		slog.WarnContext(ctx, "download tool not available", "path", tool.Path, "error", err)
	} else {
		slog.InfoContext(ctx, "download tool found", "path", path)
	}

	collector := metrics.NewCollector()
	hub := live.NewHub()

	// jobs and the relocation stop with the process, not with a request
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	orch, err := service.NewOrchestrator(workCtx, sup, db, db, db, hub, service.WithObserver(collector))
	if err != nil {
		return err
	}
	defer orch.Close()

	trigger, err := service.NewTrigger(orch, db)
	if err != nil {
		return err
	}
	if err := trigger.Start(workCtx); err != nil {
		return err
	}
	defer func() {
		if err := trigger.Close(); err != nil {
			slog.ErrorContext(ctx, "stopping auto sync", "error", err)
		}
	}()

	reloc := relocate.New(orch, db, db, hub, relocate.WithObserver(collector))

	apiServer := api.New(workCtx, api.Config{
		Store:        db,
		Orchestrator: orch,
		Trigger:      trigger,
		Relocator:    reloc,
		Hub:          hub,
		ArchiveRoot:  paths.Root,
		Metrics:      collector.Handler(),
	})
	srv := &http.Server{
		Addr:              config.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)

		// cancels running jobs, they are stored as cancelled
		cancelWork()
		if werr := reloc.Wait(sctx); werr != nil {
			slog.WarnContext(ctx, "library move still running at shutdown", "error", werr)
		}
		apiServer.Wait()
		return err
	})
	return g.Wait()
}
