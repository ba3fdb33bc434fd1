// Package extremes maintains the per-day min/max of temperature and humidity
// as readings stream in.
package extremes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
	"github.com/smukkama/weather-station/internal/locking"
)

// Store is the part of the reading store the accumulator needs
type Store interface {
	GetDailyExtremes(ctx context.Context, date string) (*database.DailyExtremes, error)
	InsertDailyExtremes(ctx context.Context, date string, u database.ExtremesUpdate) error
	UpdateDailyExtremes(ctx context.Context, date string, u database.ExtremesUpdate) error
}

// Accumulator folds readings into the DailyExtremes row of their civil date
type Accumulator struct {
	store   Store
	clock   civil.Clock
	locker  locking.Locker
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	wg sync.WaitGroup
}

// Option configures an Accumulator
type Option func(*Accumulator)

// WithLocker replaces the default in-process keyed mutex
func WithLocker(l locking.Locker) Option {
	return func(a *Accumulator) { a.locker = l }
}

// WithTimeout bounds each asynchronous update
func WithTimeout(d time.Duration) Option {
	return func(a *Accumulator) { a.timeout = d }
}

// WithNow overrides the clock used for updated_at
func WithNow(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// NewAccumulator creates a new accumulator
func NewAccumulator(store Store, clock civil.Clock, logger *slog.Logger, opts ...Option) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Accumulator{
		store:   store,
		clock:   clock,
		locker:  locking.NewKeyedMutex(),
		logger:  logger.With("component", "extremes"),
		timeout: 10 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Diff returns the fields of current that r improves on. A nil current
// yields all four fields. Ties are not improvements.
func Diff(current *database.DailyExtremes, r database.Reading) database.ExtremesUpdate {
	var u database.ExtremesUpdate
	temp, hum := r.Temperature, r.Humidity

	if current == nil || current.TempMax == nil || temp > *current.TempMax {
		u.TempMax = &temp
	}
	if current == nil || current.TempMin == nil || temp < *current.TempMin {
		u.TempMin = &temp
	}
	if current == nil || current.HumidityMax == nil || hum > *current.HumidityMax {
		u.HumidityMax = &hum
	}
	if current == nil || current.HumidityMin == nil || hum < *current.HumidityMin {
		u.HumidityMin = &hum
	}
	return u
}

// Apply updates the extremes of the reading's civil date. It reports
// whether any field changed.
func (a *Accumulator) Apply(ctx context.Context, r database.Reading) (bool, error) {
	date := a.clock.DateOf(r.RecordedAt).String()

	unlock, err := a.locker.Lock(ctx, "daily_extremes:"+date)
	if err != nil {
		return false, fmt.Errorf("failed to lock extremes for %s: %w", date, err)
	}
	defer unlock()

	current, err := a.store.GetDailyExtremes(ctx, date)
	if err != nil {
		return false, fmt.Errorf("failed to fetch extremes for %s: %w", date, err)
	}

	u := Diff(current, r)
	if u.Empty() {
		return false, nil
	}
	u.RecordedAt = r.RecordedAt
	u.UpdatedAt = a.now().UTC()

	if current == nil {
		err = a.store.InsertDailyExtremes(ctx, date, u)
		if errors.Is(err, database.ErrExtremesExist) {
			// another process created the row first; the guarded update
			// still keeps only improvements
			err = a.store.UpdateDailyExtremes(ctx, date, u)
		}
	} else {
		err = a.store.UpdateDailyExtremes(ctx, date, u)
	}
	if err != nil {
		return false, fmt.Errorf("failed to write extremes for %s: %w", date, err)
	}
	return true, nil
}

// ApplyAsync runs Apply in the background. Failures are logged only.
func (a *Accumulator) ApplyAsync(r database.Reading, attrs ...any) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger := a.logger.With(attrs...)

		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic updating daily extremes", "reading_id", r.ID, "panic", rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		changed, err := a.Apply(ctx, r)
		if err != nil {
			logger.Error("failed to update daily extremes", "reading_id", r.ID, "error", err)
			return
		}
		logger.Debug("daily extremes checked", "reading_id", r.ID, "changed", changed)
	}()
}

// Wait blocks until all pending asynchronous updates finish
func (a *Accumulator) Wait() {
	a.wg.Wait()
}
