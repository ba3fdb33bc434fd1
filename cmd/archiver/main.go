package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/weather-station/internal/app"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/logging"
	"github.com/smukkama/weather-station/internal/retention"
	"github.com/smukkama/weather-station/internal/timer"
	"github.com/smukkama/weather-station/pkg/config"
)

const appName = "archiver"

var version = "dev"

func main() {
	once := flag.Bool("once", false, "run the retention job once, print the report and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App, version, appName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool, logger *slog.Logger) error {
	store, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publishers := app.NewPublishers(ctx, cfg.Kafka, logger)
	defer publishers.Close()

	clock := civil.NewClock(cfg.Station.UTCOffsetMinutes)
	job := app.NewRetentionJob(store, clock, publishers.Retention, logger)

	if once {
		report := job.Run(ctx)
		if err := printReport(report); err != nil {
			return err
		}
		if !report.Success {
			return errors.New(report.String())
		}
		return nil
	}

	at, err := timer.ParseTimeOfDay(cfg.Retention.RunTime)
	if err != nil {
		return err
	}

	scheduler := timer.NewScheduler(1, logger)
	scheduler.Start()
	defer scheduler.Stop()

	err = scheduler.ScheduleDaily("retention", clock, at, nil, func(ctx context.Context) {
		if report, ok := job.TryRun(ctx); ok {
			logger.Info("retention finished", "result", report.String())
		}
	})
	if err != nil {
		return err
	}

	next, _ := scheduler.NextDue("retention")
	logger.Info("archiver running", "run_time", at.String(), "next_run", next)

	<-ctx.Done()
	logger.Info("shutting down")
	return ctx.Err()
}

func printReport(report retention.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
