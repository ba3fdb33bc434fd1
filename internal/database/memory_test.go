package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func insertAt(t *testing.T, s *MemoryStore, at time.Time, temp float64) Reading {
	t.Helper()
	r := Reading{Temperature: temp, Humidity: 50, RecordedAt: at}
	require.NoError(t, s.InsertReading(context.Background(), &r))
	return r
}

func TestMemoryStore_ReadingRanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 6, 3, 0, 0, 0, time.UTC)

	insertAt(t, s, base.Add(-time.Second), 1)
	first := insertAt(t, s, base, 2)
	insertAt(t, s, base.Add(23*time.Hour), 3)
	insertAt(t, s, base.Add(24*time.Hour), 4)

	assert.NotEmpty(t, first.ID)

	got, err := s.ReadingsBetween(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[0].Temperature)
	assert.Equal(t, 3.0, got[1].Temperature)

	latest, err := s.LatestReadings(ctx, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, []float64{4, 3, 2}, []float64{latest[0].Temperature, latest[1].Temperature, latest[2].Temperature})

	oldest, err := s.OldestReading(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, oldest.Temperature)

	n, err := s.DeleteReadingsBetween(ctx, base, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, s.ReadingCount())
}

func TestMemoryStore_OldestReadingEmpty(t *testing.T) {
	r, err := NewMemoryStore().OldestReading(context.Background())
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestMemoryStore_ExtremesGuardedUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t1 := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	require.NoError(t, s.InsertDailyExtremes(ctx, "2026-01-06", ExtremesUpdate{
		TempMax: f64(25), TempMin: f64(25), HumidityMax: f64(60), HumidityMin: f64(60),
		RecordedAt: t1, UpdatedAt: t1,
	}))

	err := s.InsertDailyExtremes(ctx, "2026-01-06", ExtremesUpdate{TempMax: f64(1), RecordedAt: t2})
	assert.ErrorIs(t, err, ErrExtremesExist)

	// a stale max must not regress the stored one
	require.NoError(t, s.UpdateDailyExtremes(ctx, "2026-01-06", ExtremesUpdate{
		TempMax: f64(24), TempMin: f64(20), RecordedAt: t2, UpdatedAt: t2,
	}))

	e, err := s.GetDailyExtremes(ctx, "2026-01-06")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 25.0, *e.TempMax)
	assert.Equal(t, t1, *e.TempMaxTime)
	assert.Equal(t, 20.0, *e.TempMin)
	assert.Equal(t, t2, *e.TempMinTime)
	assert.Equal(t, 60.0, *e.HumidityMax)

	missing, err := s.GetDailyExtremes(ctx, "2026-01-07")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryStore_RecentDailyExtremes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, d := range []string{"2026-01-03", "2026-01-05", "2026-01-04"} {
		require.NoError(t, s.InsertDailyExtremes(ctx, d, ExtremesUpdate{TempMax: f64(1)}))
	}

	got, err := s.RecentDailyExtremes(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-01-05", got[0].Date)
	assert.Equal(t, "2026-01-04", got[1].Date)
}

func TestMemoryStore_HourlyStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	batch := []HourlyStat{
		{Date: "2026-01-06", Hour: 9, Count: 2},
		{Date: "2026-01-06", Hour: 10, Count: 3},
	}

	require.NoError(t, s.InsertHourlyStats(ctx, batch))
	n, err := s.CountHourlyStats(ctx, "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// duplicates fail the whole batch
	err = s.InsertHourlyStats(ctx, []HourlyStat{
		{Date: "2026-01-06", Hour: 11, Count: 1},
		{Date: "2026-01-06", Hour: 10, Count: 1},
	})
	assert.Error(t, err)
	n, _ = s.CountHourlyStats(ctx, "2026-01-06")
	assert.Equal(t, 2, n)

	stats, err := s.HourlyStatsForDate(ctx, "2026-01-06")
	require.NoError(t, err)
	assert.Equal(t, 9, stats[0].Hour)
	assert.Equal(t, 10, stats[1].Hour)
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.FailOn = func(op Op, arg string) error {
		if op == OpCountHourlyStats && arg == "2026-01-06" {
			return ErrInjected
		}
		return nil
	}

	_, err := s.CountHourlyStats(ctx, "2026-01-06")
	assert.True(t, errors.Is(err, ErrInjected))

	_, err = s.CountHourlyStats(ctx, "2026-01-07")
	assert.NoError(t, err)
}

func TestMemoryStore_APIKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateAPIKey(ctx, "device-1"))

	ok, err := s.ValidateAPIKey(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, ok)

	k, _ := s.APIKey("device-1")
	assert.NotNil(t, k.LastUsedAt)

	ok, _ = s.ValidateAPIKey(ctx, "unknown")
	assert.False(t, ok)

	s.DeactivateAPIKey("device-1")
	ok, _ = s.ValidateAPIKey(ctx, "device-1")
	assert.False(t, ok)
}
