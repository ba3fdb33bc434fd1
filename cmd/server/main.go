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

	"github.com/smukkama/weather-station/internal/api"
	"github.com/smukkama/weather-station/internal/app"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/environment"
	"github.com/smukkama/weather-station/internal/extremes"
	"github.com/smukkama/weather-station/internal/logging"
	"github.com/smukkama/weather-station/internal/retention"
	"github.com/smukkama/weather-station/internal/timer"
	"github.com/smukkama/weather-station/pkg/config"
)

const appName = "server"

// Default version is "dev" if not set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting",
		"env", cfg.App.Env,
		"http_addr", cfg.HTTP.Addr,
		"db_driver", cfg.Database.Driver,
		"utc_offset_minutes", cfg.Station.UTCOffsetMinutes,
		"retention_enabled", cfg.Retention.Enabled,
	)

	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := app.NewLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	publishers := app.NewPublishers(ctx, cfg.Kafka, logger)
	defer publishers.Close()

	clock := civil.NewClock(cfg.Station.UTCOffsetMinutes)
	accumulator := extremes.NewAccumulator(store, clock, logger, extremes.WithLocker(locker))
	job := app.NewRetentionJob(store, clock, publishers.Retention, logger)

	scheduler := timer.NewScheduler(1, logger)
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.Retention.Enabled {
		if err := scheduleRetention(scheduler, job, clock, cfg.Retention.RunTime, logger); err != nil {
			return err
		}
	}

	srv := api.NewServer(store, accumulator, job, publishers.Readings, api.Config{
		Clock:          clock,
		TrendWindow:    cfg.Station.TrendWindow,
		TrendThreshold: cfg.Station.TrendThreshold,
		Forecast: environment.ForecastWindows{
			CurrentCount: cfg.Station.ForecastCurrent,
			PastFrom:     cfg.Station.ForecastPastFrom,
			PastTo:       cfg.Station.ForecastPastTo,
		},
		CronSecret: cfg.HTTP.CronSecret,
		RateLimit:  cfg.HTTP.RateLimit,
		RateBurst:  cfg.HTTP.RateBurst,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute, // the cron endpoint waits for a full retention run
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTP.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("http shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// in-flight extremes updates and events finish before the store closes
	accumulator.Wait()
	srv.Wait()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func scheduleRetention(s *timer.Scheduler, job *retention.Job, clock civil.Clock, runTime string, logger *slog.Logger) error {
	at, err := timer.ParseTimeOfDay(runTime)
	if err != nil {
		return err
	}

	err = s.ScheduleDaily("retention", clock, at, nil, func(ctx context.Context) {
		report, ok := job.TryRun(ctx)
		if !ok {
			logger.Warn("skipping scheduled retention, a run is already in progress")
			return
		}
		logger.Info("scheduled retention finished", "result", report.String())
	})
	if err != nil {
		return err
	}

	next, _ := s.NextDue("retention")
	logger.Info("retention scheduled", "run_time", at.String(), "next_run", next)
	return nil
}
