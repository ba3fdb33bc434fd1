// Package retention archives old raw readings into hourly stats and then
// purges them, one civil day at a time.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smukkama/weather-station/internal/aggregation"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
)

// Skip reasons
const (
	ReasonNoReadings             = "no_readings"
	ReasonReadingsFetchFailed    = "readings_fetch_failed"
	ReasonHourlyCheckFailed      = "hourly_stats_check_failed"
	ReasonPartialHourlyStats     = "partial_hourly_stats"
	ReasonHourlyInsertFailed     = "hourly_stats_insert_failed"
	ReasonHourlyValidationFailed = "hourly_stats_validation_failed"
	ReasonDeleteFailed           = "weather_readings_delete_failed"
)

// Stages reported on a failed run
const (
	StageFetchOldest = "fetch_oldest_reading"
	StageDayLoop     = "process_dates"
)

// Store is the part of the reading store the job mutates
type Store interface {
	OldestReading(ctx context.Context) (*database.Reading, error)
	CountHourlyStats(ctx context.Context, date string) (int, error)
	InsertHourlyStats(ctx context.Context, stats []database.HourlyStat) error
	DeleteReadingsBetween(ctx context.Context, start, end time.Time) (int64, error)
}

// Aggregator computes the hourly averages of a civil date
type Aggregator interface {
	AveragesByHourForDate(ctx context.Context, date civil.Date) ([]aggregation.HourlyAverage, error)
}

// Publisher receives the report of every run
type Publisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// SkippedDate is a day left untouched, with the reason
type SkippedDate struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// Report is the outcome of one run. Every visited date appears exactly once
// in ProcessedDates or SkippedDates.
type Report struct {
	Success         bool          `json:"success"`
	TargetDate      string        `json:"targetDate"`
	ProcessedDates  []string      `json:"processedDates"`
	SkippedDates    []SkippedDate `json:"skippedDates"`
	DeletedReadings int64         `json:"deletedReadings"`
	Stage           string        `json:"stage,omitempty"`
	Error           string        `json:"error,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Job is the archive-and-purge run
type Job struct {
	store      Store
	aggregator Aggregator
	clock      civil.Clock
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
	running    atomic.Bool
}

// Option configures a Job
type Option func(*Job)

// WithPublisher publishes every report after the run
func WithPublisher(p Publisher) Option {
	return func(j *Job) { j.publisher = p }
}

// WithNow overrides the current time
func WithNow(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

// NewJob creates a new retention job
func NewJob(store Store, aggregator Aggregator, clock civil.Clock, logger *slog.Logger, opts ...Option) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Job{
		store:      store,
		aggregator: aggregator,
		clock:      clock,
		logger:     logger.With("component", "retention"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run archives every day from the oldest reading through yesterday. It
// never returns an error; failures are reported in the Report.
func (j *Job) Run(ctx context.Context) Report {
	now := j.now().UTC()
	target := j.clock.Yesterday(now)
	logger := j.logger.With("run_at", now, "target_date", target.String())

	report := j.run(ctx, logger, target)
	report.Timestamp = now

	logger.Info("retention run finished",
		"success", report.Success,
		"processed", len(report.ProcessedDates),
		"skipped", len(report.SkippedDates),
		"deleted_readings", report.DeletedReadings,
	)

	if j.publisher != nil {
		if err := j.publisher.PublishJSON(ctx, target.String(), report); err != nil {
			logger.Warn("failed to publish retention report", "error", err)
		}
	}
	return report
}

// TryRun is Run unless another run of this Job is in progress, in which
// case it returns false without touching the store
func (j *Job) TryRun(ctx context.Context) (Report, bool) {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("retention run already in progress")
		return Report{}, false
	}
	defer j.running.Store(false)
	return j.Run(ctx), true
}

func (j *Job) run(ctx context.Context, logger *slog.Logger, target civil.Date) (report Report) {
	report = Report{
		Success:        true,
		TargetDate:     target.String(),
		ProcessedDates: []string{},
		SkippedDates:   []SkippedDate{},
	}

	stage := StageFetchOldest
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic in retention run", "stage", stage, "panic", rec)
			report.Success = false
			report.Stage = stage
			report.Error = "Internal server error"
		}
	}()

	oldest, err := j.store.OldestReading(ctx)
	if err != nil {
		logger.Error("failed to fetch oldest reading", "error", err)
		report.Success = false
		report.Stage = StageFetchOldest
		report.Error = "Failed to fetch oldest reading"
		return report
	}
	if oldest == nil {
		logger.Info("no readings found, nothing to process")
		return report
	}

	start := j.clock.DateOf(oldest.RecordedAt)
	if start.After(target) {
		logger.Info("oldest reading is newer than target, nothing to process", "oldest_date", start.String())
		return report
	}

	stage = StageDayLoop
	for d := start; !d.After(target); d = d.AddDays(1) {
		outcome := j.processDate(ctx, logger.With("date", d.String()), d)
		report.DeletedReadings += outcome.deleted
		if outcome.reason != "" {
			report.SkippedDates = append(report.SkippedDates, SkippedDate{Date: d.String(), Reason: outcome.reason})
			continue
		}
		report.ProcessedDates = append(report.ProcessedDates, d.String())
	}
	return report
}

type dayOutcome struct {
	reason  string // empty when the day was archived and purged
	deleted int64
}

func (j *Job) processDate(ctx context.Context, logger *slog.Logger, d civil.Date) dayOutcome {
	date := d.String()

	averages, err := j.aggregator.AveragesByHourForDate(ctx, d)
	if err != nil {
		logger.Error("failed to compute hourly averages", "error", err)
		return dayOutcome{reason: ReasonReadingsFetchFailed}
	}
	logger.Info("hourly averages computed", "hours_with_data", len(averages))
	if len(averages) == 0 {
		return dayOutcome{reason: ReasonNoReadings}
	}
	expected := len(averages)

	existing, err := j.store.CountHourlyStats(ctx, date)
	if err != nil {
		logger.Error("failed to check hourly stats", "error", err)
		return dayOutcome{reason: ReasonHourlyCheckFailed}
	}

	switch {
	case existing >= expected:
		logger.Info("hourly stats already stored, skipping insert", "existing", existing, "expected", expected)
	case existing > 0:
		logger.Error("partial hourly stats detected, leaving readings in place", "existing", existing, "expected", expected)
		return dayOutcome{reason: ReasonPartialHourlyStats}
	default:
		if reason := j.insertHourly(ctx, logger, date, averages); reason != "" {
			return dayOutcome{reason: reason}
		}
	}

	start, end := j.clock.UTCRange(d)
	deleted, err := j.store.DeleteReadingsBetween(ctx, start, end)
	if err != nil {
		logger.Error("failed to delete readings", "error", err)
		return dayOutcome{reason: ReasonDeleteFailed}
	}
	logger.Info("readings deleted", "deleted", deleted, "from", start, "to", end)
	return dayOutcome{deleted: deleted}
}

func (j *Job) insertHourly(ctx context.Context, logger *slog.Logger, date string, averages []aggregation.HourlyAverage) string {
	recordedAt := j.now().UTC()
	rows := make([]database.HourlyStat, 0, len(averages))
	for _, a := range averages {
		rows = append(rows, database.HourlyStat{
			Date:           date,
			Hour:           a.Hour,
			Count:          a.Count,
			AvgTemperature: a.AvgTemperature,
			AvgHumidity:    a.AvgHumidity,
			RecordedAt:     recordedAt,
		})
	}

	logger.Info("inserting hourly stats", "rows", len(rows))
	if err := j.store.InsertHourlyStats(ctx, rows); err != nil {
		logger.Error("failed to insert hourly stats", "error", err)
		return ReasonHourlyInsertFailed
	}

	found, err := j.store.CountHourlyStats(ctx, date)
	if err != nil || found < len(rows) {
		logger.Error("failed to validate hourly stats", "error", err, "expected", len(rows), "found", found)
		return ReasonHourlyValidationFailed
	}
	logger.Info("hourly stats validated", "expected", len(rows), "found", found)
	return ""
}

// String summarizes a report for logs and CLI output
func (r Report) String() string {
	if !r.Success {
		return fmt.Sprintf("retention failed at %s: %s", r.Stage, r.Error)
	}
	return fmt.Sprintf("retention through %s: %d processed, %d skipped, %d readings deleted",
		r.TargetDate, len(r.ProcessedDates), len(r.SkippedDates), r.DeletedReadings)
}
