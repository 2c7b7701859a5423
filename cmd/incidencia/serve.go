package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"incidencia/internal/config"
	"incidencia/internal/erp"
	"incidencia/internal/gtask"
	"incidencia/internal/httpapi"
	"incidencia/internal/incidence"
	"incidencia/internal/jobs"
	"incidencia/internal/media"
	"incidencia/internal/obs"
	"incidencia/internal/session"
	"incidencia/internal/stream"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath(configFlag))
		},
	}
}

func configPath(flag *string) string {
	if flag != nil && *flag != "" {
		return *flag
	}
	return config.DefaultPath()
}

func serve(path string) error {
	obs.Init()

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	store, err := jobs.Open(cfg.Jobs.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var snaps *session.SnapshotStore
	if cfg.Sessions.SnapshotToDisk {
		snaps, err = session.NewSnapshotStore(cfg.Sessions.SnapshotDir)
		if err != nil {
			return err
		}
	}

	identity := gtask.New(cfg)
	relay := media.NewRelay(cfg)
	submitter := incidence.NewSubmitter(cfg, erp.New(cfg), relay)
	events := stream.New()
	runner := jobs.NewRunner(store, submitter, events)
	sessions := session.NewRegistry(cfg, identity, snaps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sessions.StartSweeper(ctx)
	runner.StartPruner(ctx, time.Duration(cfg.Jobs.RetentionDays)*24*time.Hour)

	api := httpapi.New(httpapi.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Submitter: submitter,
		Identity:  identity,
		Relay:     relay,
		Runner:    runner,
		Store:     store,
		Events:    events,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           api.Handler(),
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	obs.Info("gateway starting", map[string]any{"addr": srv.Addr, "version": version})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	obs.Info("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	// accepted background submissions finish before the process exits
	runner.Wait()
	obs.Info("stopped", nil)
	return nil
}
