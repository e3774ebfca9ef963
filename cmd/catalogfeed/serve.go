package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/httpapi"
	"github.com/dshills/catalogfeed/internal/scheduler"
)

const (
	shutdownTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var taskLimit int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled feed tasks and entity sync, with the HTTP API and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(a *app) error {
				return serve(cmd.Context(), a, taskLimit)
			})
		},
	}
	cmd.Flags().IntVar(&taskLimit, "task-limit", 10, "maximum pending feed tasks per scheduled run")
	return cmd
}

func serve(ctx context.Context, a *app, taskLimit int) error {
	sched := scheduler.New(a.logger)
	if err := sched.Add(scheduler.FeedJob(a.cfg.Schedule.FeedCron, a.executor, taskLimit)); err != nil {
		return err
	}
	if err := sched.Add(scheduler.SyncJob(a.cfg.Schedule.SyncCron, a.syncer, a.cfg.Stores)); err != nil {
		return err
	}

	if !a.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.NewHandler(a.executor, a.store, a.observer, a.logger), a.metrics.Handler(), a.logger)
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	sched.Start()
	a.logger.Info("scheduler started",
		zap.String("feed_cron", a.cfg.Schedule.FeedCron),
		zap.String("sync_cron", a.cfg.Schedule.SyncCron))

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errChan:
		serveErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("http shutdown: %w", err))
	}
	return serveErr
}
