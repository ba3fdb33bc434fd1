package retention

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-station/internal/aggregation"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
)

var clock = civil.NewClock(-180)

// local 2026-01-09 09:00, so the target date is 2026-01-08
var runAt = time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newJob(store *database.MemoryStore, opts ...Option) *Job {
	opts = append([]Option{WithNow(func() time.Time { return runAt })}, opts...)
	agg := aggregation.NewHourlyAggregator(store, clock, quietLogger())
	return NewJob(store, agg, clock, quietLogger(), opts...)
}

func seed(t *testing.T, store *database.MemoryStore, at time.Time, temp float64) {
	t.Helper()
	r := database.Reading{Temperature: temp, Humidity: 50, RecordedAt: at}
	require.NoError(t, store.InsertReading(context.Background(), &r))
}

// local hour h on the given January day
func localJan(day, hour, minute int) time.Time {
	return time.Date(2026, 1, day, hour+3, minute, 0, 0, time.UTC)
}

func countHourly(t *testing.T, store *database.MemoryStore, date string) int {
	t.Helper()
	n, err := store.CountHourlyStats(context.Background(), date)
	require.NoError(t, err)
	return n
}

func TestRun_ArchivesAndPurges(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(6, 10, 0), 20)
	seed(t, store, localJan(6, 10, 20), 21)
	seed(t, store, localJan(6, 10, 40), 22)
	seed(t, store, localJan(6, 14, 0), 25)
	// last minute of the target day, then the first instant of today
	seed(t, store, localJan(8, 23, 59), 18)
	seed(t, store, time.Date(2026, 1, 9, 3, 0, 0, 0, time.UTC), 17)

	report := newJob(store).Run(context.Background())

	assert.True(t, report.Success)
	assert.Equal(t, "2026-01-08", report.TargetDate)
	assert.Equal(t, []string{"2026-01-06", "2026-01-08"}, report.ProcessedDates)
	assert.Equal(t, []SkippedDate{{Date: "2026-01-07", Reason: ReasonNoReadings}}, report.SkippedDates)
	assert.Equal(t, int64(5), report.DeletedReadings)
	assert.Equal(t, runAt, report.Timestamp)

	stats, err := store.HourlyStatsForDate(context.Background(), "2026-01-06")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 10, stats[0].Hour)
	assert.Equal(t, 3, stats[0].Count)
	assert.Equal(t, 21.0, stats[0].AvgTemperature)
	assert.Equal(t, 14, stats[1].Hour)
	assert.Equal(t, 1, countHourly(t, store, "2026-01-08"))

	// today's reading survives
	assert.Equal(t, 1, store.ReadingCount())
}

func TestRun_Idempotent(t *testing.T) {
	store := database.NewMemoryStore()
	// 2026-01-05 carries a partial archive and keeps its readings, so the
	// second run still walks over the already processed days
	seed(t, store, localJan(5, 8, 0), 19)
	seed(t, store, localJan(5, 9, 0), 19)
	require.NoError(t, store.InsertHourlyStats(context.Background(), []database.HourlyStat{
		{Date: "2026-01-05", Hour: 8, Count: 1, AvgTemperature: 19, AvgHumidity: 50},
	}))
	seed(t, store, localJan(6, 10, 0), 20)
	seed(t, store, localJan(7, 10, 0), 20)

	first := newJob(store).Run(context.Background())
	assert.Equal(t, []string{"2026-01-06", "2026-01-07"}, first.ProcessedDates)

	second := newJob(store).Run(context.Background())
	assert.True(t, second.Success)
	assert.Empty(t, second.ProcessedDates)
	assert.Equal(t, []SkippedDate{
		{Date: "2026-01-05", Reason: ReasonPartialHourlyStats},
		{Date: "2026-01-06", Reason: ReasonNoReadings},
		{Date: "2026-01-07", Reason: ReasonNoReadings},
		{Date: "2026-01-08", Reason: ReasonNoReadings},
	}, second.SkippedDates)
	assert.Equal(t, 1, countHourly(t, store, "2026-01-06"))
}

func TestRun_PartialStatsPreserved(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(6, 10, 0), 20)
	seed(t, store, localJan(6, 11, 0), 21)
	require.NoError(t, store.InsertHourlyStats(context.Background(), []database.HourlyStat{
		{Date: "2026-01-06", Hour: 10, Count: 1, AvgTemperature: 20, AvgHumidity: 50},
	}))

	report := newJob(store).Run(context.Background())

	assert.Contains(t, report.SkippedDates, SkippedDate{Date: "2026-01-06", Reason: ReasonPartialHourlyStats})
	assert.NotContains(t, report.ProcessedDates, "2026-01-06")
	assert.Equal(t, 2, store.ReadingCount())
	assert.Equal(t, 1, countHourly(t, store, "2026-01-06"))
}

func TestRun_CompleteStatsGoStraightToPurge(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(6, 10, 0), 20)
	require.NoError(t, store.InsertHourlyStats(context.Background(), []database.HourlyStat{
		{Date: "2026-01-06", Hour: 10, Count: 1, AvgTemperature: 20, AvgHumidity: 50},
	}))
	store.FailOn = func(op database.Op, _ string) error {
		if op == database.OpInsertHourlyStats {
			t.Fatal("insert must not be attempted")
		}
		return nil
	}

	report := newJob(store).Run(context.Background())
	assert.Equal(t, []string{"2026-01-06"}, report.ProcessedDates)
	assert.Equal(t, 0, store.ReadingCount())
}

func TestRun_InsertFailure(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(6, 10, 0), 20)
	seed(t, store, localJan(7, 10, 0), 20)
	store.FailOn = func(op database.Op, arg string) error {
		if op == database.OpInsertHourlyStats && arg == "2026-01-06" {
			return database.ErrInjected
		}
		return nil
	}

	report := newJob(store).Run(context.Background())

	assert.True(t, report.Success)
	assert.Equal(t, []SkippedDate{
		{Date: "2026-01-06", Reason: ReasonHourlyInsertFailed},
		{Date: "2026-01-08", Reason: ReasonNoReadings},
	}, report.SkippedDates)
	assert.Equal(t, []string{"2026-01-07"}, report.ProcessedDates)
	assert.Equal(t, 1, store.ReadingCount())
}

func TestRun_ValidationFailure(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(8, 10, 0), 20)
	seed(t, store, localJan(8, 11, 0), 20)
	store.DropHourlyRows = 1

	report := newJob(store).Run(context.Background())

	assert.Equal(t, []SkippedDate{{Date: "2026-01-08", Reason: ReasonHourlyValidationFailed}}, report.SkippedDates)
	assert.Empty(t, report.ProcessedDates)
	assert.Equal(t, 2, store.ReadingCount())
}

func TestRun_CheckFailure(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(8, 10, 0), 20)
	store.FailOn = func(op database.Op, _ string) error {
		if op == database.OpCountHourlyStats {
			return database.ErrInjected
		}
		return nil
	}

	report := newJob(store).Run(context.Background())
	assert.Equal(t, []SkippedDate{{Date: "2026-01-08", Reason: ReasonHourlyCheckFailed}}, report.SkippedDates)
	assert.Equal(t, 1, store.ReadingCount())
}

func TestRun_ReadingsFetchFailure(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(8, 10, 0), 20)
	store.FailOn = func(op database.Op, _ string) error {
		if op == database.OpReadingsBetween {
			return database.ErrInjected
		}
		return nil
	}

	report := newJob(store).Run(context.Background())
	assert.True(t, report.Success)
	assert.Equal(t, []SkippedDate{{Date: "2026-01-08", Reason: ReasonReadingsFetchFailed}}, report.SkippedDates)
}

func TestRun_DeleteFailureResumesNextRun(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(7, 10, 0), 20)
	seed(t, store, localJan(7, 12, 0), 22)

	store.FailOn = func(op database.Op, _ string) error {
		if op == database.OpDeleteReadingsBetween {
			return database.ErrInjected
		}
		return nil
	}
	first := newJob(store).Run(context.Background())
	assert.Contains(t, first.SkippedDates, SkippedDate{Date: "2026-01-07", Reason: ReasonDeleteFailed})
	assert.Equal(t, 2, countHourly(t, store, "2026-01-07"))
	assert.Equal(t, 2, store.ReadingCount())

	store.FailOn = nil
	second := newJob(store).Run(context.Background())
	assert.Equal(t, []string{"2026-01-07"}, second.ProcessedDates)
	assert.Equal(t, 2, countHourly(t, store, "2026-01-07"))
	assert.Equal(t, 0, store.ReadingCount())
}

func TestRun_NothingToArchive(t *testing.T) {
	store := database.NewMemoryStore()
	report := newJob(store).Run(context.Background())
	assert.True(t, report.Success)
	assert.Empty(t, report.ProcessedDates)
	assert.Empty(t, report.SkippedDates)

	seed(t, store, time.Date(2026, 1, 9, 3, 0, 0, 0, time.UTC), 20)
	report = newJob(store).Run(context.Background())
	assert.True(t, report.Success)
	assert.Empty(t, report.ProcessedDates)
	assert.Empty(t, report.SkippedDates)
	assert.Equal(t, 1, store.ReadingCount())
}

func TestRun_OuterFailure(t *testing.T) {
	store := database.NewMemoryStore()
	store.FailOn = func(op database.Op, _ string) error {
		if op == database.OpOldestReading {
			return database.ErrInjected
		}
		return nil
	}

	report := newJob(store).Run(context.Background())
	assert.False(t, report.Success)
	assert.Equal(t, StageFetchOldest, report.Stage)
	assert.Equal(t, "Failed to fetch oldest reading", report.Error)
	assert.NotContains(t, report.Error, "injected")
}

type panickingAggregator struct{}

func (panickingAggregator) AveragesByHourForDate(context.Context, civil.Date) ([]aggregation.HourlyAverage, error) {
	panic("boom")
}

func TestRun_PanicBecomesFailureReport(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(8, 10, 0), 20)
	job := NewJob(store, panickingAggregator{}, clock, quietLogger(), WithNow(func() time.Time { return runAt }))

	var report Report
	require.NotPanics(t, func() { report = job.Run(context.Background()) })
	assert.False(t, report.Success)
	assert.Equal(t, StageDayLoop, report.Stage)
	assert.Equal(t, 1, store.ReadingCount())
}

type recordingPublisher struct {
	keys    []string
	reports []any
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, v any) error {
	p.keys = append(p.keys, key)
	p.reports = append(p.reports, v)
	return nil
}

func TestRun_PublishesReport(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(8, 10, 0), 20)
	pub := &recordingPublisher{}

	report := newJob(store, WithPublisher(pub)).Run(context.Background())

	require.Len(t, pub.reports, 1)
	assert.Equal(t, "2026-01-08", pub.keys[0])
	assert.Equal(t, report, pub.reports[0])
}

func TestReportString(t *testing.T) {
	ok := Report{Success: true, TargetDate: "2026-01-08", ProcessedDates: []string{"2026-01-08"}, DeletedReadings: 3}
	assert.Equal(t, "retention through 2026-01-08: 1 processed, 0 skipped, 3 readings deleted", ok.String())

	failed := Report{Stage: StageFetchOldest, Error: "Failed to fetch oldest reading"}
	assert.Contains(t, failed.String(), StageFetchOldest)
}

type blockingAggregator struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAggregator) AveragesByHourForDate(context.Context, civil.Date) ([]aggregation.HourlyAverage, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil, nil
}

func TestTryRun_RejectsOverlap(t *testing.T) {
	store := database.NewMemoryStore()
	seed(t, store, localJan(8, 10, 0), 20)

	agg := &blockingAggregator{entered: make(chan struct{}), release: make(chan struct{})}
	job := NewJob(store, agg, clock, quietLogger(), WithNow(func() time.Time { return runAt }))

	done := make(chan Report, 1)
	go func() {
		report, ok := job.TryRun(context.Background())
		assert.True(t, ok)
		done <- report
	}()
	<-agg.entered

	_, ok := job.TryRun(context.Background())
	assert.False(t, ok)

	close(agg.release)
	report := <-done
	assert.True(t, report.Success)
	assert.Equal(t, []SkippedDate{{Date: "2026-01-08", Reason: ReasonNoReadings}}, report.SkippedDates)

	// the guard is released once the run finishes
	_, ok = job.TryRun(context.Background())
	assert.True(t, ok)
}
