package extremes

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
)

var clock = civil.NewClock(-180)

func reading(at time.Time, temp, hum float64) database.Reading {
	return database.Reading{ID: at.Format(time.RFC3339Nano), Temperature: temp, Humidity: hum, RecordedAt: at}
}

func newTestAccumulator(store Store) *Accumulator {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewAccumulator(store, clock, logger)
}

func TestApply_FirstReadingInitializesAllFields(t *testing.T) {
	store := database.NewMemoryStore()
	acc := newTestAccumulator(store)
	at := time.Date(2026, 1, 6, 13, 0, 0, 0, time.UTC)

	changed, err := acc.Apply(context.Background(), reading(at, 24.5, 61))
	require.NoError(t, err)
	assert.True(t, changed)

	e, err := store.GetDailyExtremes(context.Background(), "2026-01-06")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 24.5, *e.TempMax)
	assert.Equal(t, 24.5, *e.TempMin)
	assert.Equal(t, 61.0, *e.HumidityMax)
	assert.Equal(t, 61.0, *e.HumidityMin)
	assert.Equal(t, at, *e.TempMaxTime)
	assert.Equal(t, at, *e.HumidityMinTime)
}

func TestApply_UsesCivilDate(t *testing.T) {
	store := database.NewMemoryStore()
	acc := newTestAccumulator(store)

	// 02:30 UTC is still the previous local day at UTC-3
	_, err := acc.Apply(context.Background(), reading(time.Date(2026, 1, 7, 2, 30, 0, 0, time.UTC), 20, 50))
	require.NoError(t, err)

	e, _ := store.GetDailyExtremes(context.Background(), "2026-01-06")
	assert.NotNil(t, e)
	e, _ = store.GetDailyExtremes(context.Background(), "2026-01-07")
	assert.Nil(t, e)
}

func TestApply_TiesKeepFirstWriter(t *testing.T) {
	store := database.NewMemoryStore()
	acc := newTestAccumulator(store)
	ctx := context.Background()
	t1 := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(10 * time.Minute)

	_, err := acc.Apply(ctx, reading(t1, 25, 60))
	require.NoError(t, err)
	changed, err := acc.Apply(ctx, reading(t2, 25, 60))
	require.NoError(t, err)
	assert.False(t, changed)

	e, _ := store.GetDailyExtremes(ctx, "2026-01-06")
	assert.Equal(t, t1, *e.TempMaxTime)
	assert.Equal(t, t1, *e.TempMinTime)
}

func TestApply_PartialUpdate(t *testing.T) {
	store := database.NewMemoryStore()
	acc := newTestAccumulator(store)
	ctx := context.Background()
	t1 := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	_, err := acc.Apply(ctx, reading(t1, 25, 60))
	require.NoError(t, err)
	changed, err := acc.Apply(ctx, reading(t2, 27, 60))
	require.NoError(t, err)
	assert.True(t, changed)

	e, _ := store.GetDailyExtremes(ctx, "2026-01-06")
	assert.Equal(t, 27.0, *e.TempMax)
	assert.Equal(t, t2, *e.TempMaxTime)
	assert.Equal(t, 25.0, *e.TempMin)
	assert.Equal(t, t1, *e.TempMinTime)
	assert.Equal(t, t1, *e.HumidityMaxTime)
}

func TestApply_MonotonicInAnyOrder(t *testing.T) {
	base := time.Date(2026, 1, 6, 4, 0, 0, 0, time.UTC)
	var readings []database.Reading
	for i := 0; i < 50; i++ {
		readings = append(readings, reading(base.Add(time.Duration(i)*time.Minute), float64(i%17)-3.5, float64(i%29)+20))
	}

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 5; round++ {
		rng.Shuffle(len(readings), func(i, j int) { readings[i], readings[j] = readings[j], readings[i] })

		store := database.NewMemoryStore()
		acc := newTestAccumulator(store)
		for _, r := range readings {
			acc.ApplyAsync(r)
		}
		acc.Wait()

		e, err := store.GetDailyExtremes(context.Background(), "2026-01-06")
		require.NoError(t, err)
		require.NotNil(t, e)

		var maxTimeMatches bool
		for _, r := range readings {
			assert.GreaterOrEqual(t, *e.TempMax, r.Temperature)
			assert.LessOrEqual(t, *e.TempMin, r.Temperature)
			assert.GreaterOrEqual(t, *e.HumidityMax, r.Humidity)
			assert.LessOrEqual(t, *e.HumidityMin, r.Humidity)
			if r.RecordedAt.Equal(*e.TempMaxTime) && r.Temperature == *e.TempMax {
				maxTimeMatches = true
			}
		}
		assert.True(t, maxTimeMatches)
		assert.LessOrEqual(t, *e.TempMin, *e.TempMax)
	}
}

// raceStore reports no row on the first Get, then behaves like the wrapped
// store, modeling a concurrent insert by another process.
type raceStore struct {
	*database.MemoryStore
	once sync.Once
}

func (s *raceStore) GetDailyExtremes(ctx context.Context, date string) (*database.DailyExtremes, error) {
	var hide bool
	s.once.Do(func() { hide = true })
	if hide {
		return nil, nil
	}
	return s.MemoryStore.GetDailyExtremes(ctx, date)
}

func TestApply_InsertRaceFallsBackToUpdate(t *testing.T) {
	mem := database.NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 1, 6, 11, 0, 0, 0, time.UTC)
	hi, lo := 30.0, 10.0
	require.NoError(t, mem.InsertDailyExtremes(ctx, "2026-01-06", database.ExtremesUpdate{
		TempMax: &hi, TempMin: &lo, HumidityMax: &hi, HumidityMin: &lo, RecordedAt: t0, UpdatedAt: t0,
	}))

	acc := newTestAccumulator(&raceStore{MemoryStore: mem})
	changed, err := acc.Apply(ctx, reading(t0.Add(time.Hour), 35, 20))
	require.NoError(t, err)
	assert.True(t, changed)

	e, _ := mem.GetDailyExtremes(ctx, "2026-01-06")
	assert.Equal(t, 35.0, *e.TempMax)
	assert.Equal(t, 10.0, *e.TempMin)
	assert.Equal(t, 30.0, *e.HumidityMax)
}

func TestApplyAsync_SwallowsErrors(t *testing.T) {
	store := database.NewMemoryStore()
	store.FailOn = func(op database.Op, arg string) error {
		if op == database.OpGetDailyExtremes {
			return database.ErrInjected
		}
		return nil
	}
	var buf bytes.Buffer
	acc := NewAccumulator(store, clock, slog.New(slog.NewTextHandler(&buf, nil)))

	acc.ApplyAsync(reading(time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC), 20, 50), "request_id", "req-1")
	acc.Wait()

	assert.Contains(t, buf.String(), "failed to update daily extremes")
	assert.Contains(t, buf.String(), "req-1")
}

func TestDiff(t *testing.T) {
	u := Diff(nil, reading(time.Now(), 1, 2))
	assert.NotNil(t, u.TempMax)
	assert.NotNil(t, u.TempMin)
	assert.NotNil(t, u.HumidityMax)
	assert.NotNil(t, u.HumidityMin)

	zero := 0.0
	current := &database.DailyExtremes{TempMax: &zero, TempMin: &zero, HumidityMax: &zero, HumidityMin: &zero}
	u = Diff(current, reading(time.Now(), 0, 0))
	assert.True(t, u.Empty())
}
