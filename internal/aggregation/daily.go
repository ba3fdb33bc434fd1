package aggregation

import (
	"context"
	"fmt"

	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
)

// History limits
const (
	DefaultHistoryDays = 7
	MaxHistoryDays     = 30
)

// ExtremesSource is the part of the reading store that serves daily extremes
type ExtremesSource interface {
	GetDailyExtremes(ctx context.Context, date string) (*database.DailyExtremes, error)
	RecentDailyExtremes(ctx context.Context, limit int) ([]database.DailyExtremes, error)
}

// DailyHistory serves the accumulated per-day extremes
type DailyHistory struct {
	store ExtremesSource
}

// NewDailyHistory creates a new daily history reader
func NewDailyHistory(store ExtremesSource) *DailyHistory {
	return &DailyHistory{store: store}
}

// ClampDays bounds a requested history length to [1, MaxHistoryDays]
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > MaxHistoryDays {
		return MaxHistoryDays
	}
	return days
}

// ForDate returns the extremes of date, or nil when no reading was seen
func (d *DailyHistory) ForDate(ctx context.Context, date civil.Date) (*database.DailyExtremes, error) {
	e, err := d.store.GetDailyExtremes(ctx, date.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch extremes for %s: %w", date, err)
	}
	return e, nil
}

// Recent returns the extremes of the latest days, newest first
func (d *DailyHistory) Recent(ctx context.Context, days int) ([]database.DailyExtremes, error) {
	history, err := d.store.RecentDailyExtremes(ctx, ClampDays(days))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch extremes history: %w", err)
	}
	if history == nil {
		history = []database.DailyExtremes{}
	}
	return history, nil
}
