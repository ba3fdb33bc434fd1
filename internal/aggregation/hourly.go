// Package aggregation reduces raw readings to per-hour averages and short
// term trends.
package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
)

// ReadingSource is the part of the reading store the aggregators read from
type ReadingSource interface {
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]database.Reading, error)
	LatestReadings(ctx context.Context, limit int) ([]database.Reading, error)
}

// HourlyAverage is the mean of all readings in one local hour
type HourlyAverage struct {
	Hour           int     `json:"hour"`
	Count          int     `json:"count"`
	AvgTemperature float64 `json:"avgTemperature"`
	AvgHumidity    float64 `json:"avgHumidity"`
}

// HourlyAggregator groups the readings of a civil date by local hour
type HourlyAggregator struct {
	store  ReadingSource
	clock  civil.Clock
	logger *slog.Logger
}

// NewHourlyAggregator creates a new hourly aggregator
func NewHourlyAggregator(store ReadingSource, clock civil.Clock, logger *slog.Logger) *HourlyAggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HourlyAggregator{store: store, clock: clock, logger: logger.With("component", "hourly_aggregator")}
}

// ReadingsForDate returns every reading of the civil date, oldest first
func (h *HourlyAggregator) ReadingsForDate(ctx context.Context, date civil.Date) ([]database.Reading, error) {
	start, end := h.clock.UTCRange(date)
	readings, err := h.store.ReadingsBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch readings for %s: %w", date, err)
	}
	return readings, nil
}

// AveragesByHourForDate returns one entry per local hour that has data,
// ordered by hour. A date without readings yields an empty slice.
func (h *HourlyAggregator) AveragesByHourForDate(ctx context.Context, date civil.Date) ([]HourlyAverage, error) {
	readings, err := h.ReadingsForDate(ctx, date)
	if err != nil {
		return nil, err
	}

	averages := AverageByHour(h.clock, readings)
	h.logger.Debug("hourly averages computed",
		"date", date.String(),
		"readings", len(readings),
		"hours_with_data", len(averages),
	)
	return averages, nil
}

// AverageByHour groups readings by their local hour under clock
func AverageByHour(clock civil.Clock, readings []database.Reading) []HourlyAverage {
	var (
		counts   [24]int
		tempSums [24]float64
		humSums  [24]float64
	)
	for _, r := range readings {
		hour := clock.HourOf(r.RecordedAt)
		counts[hour]++
		tempSums[hour] += r.Temperature
		humSums[hour] += r.Humidity
	}

	averages := []HourlyAverage{}
	for hour := 0; hour < 24; hour++ {
		if counts[hour] == 0 {
			continue
		}
		n := float64(counts[hour])
		averages = append(averages, HourlyAverage{
			Hour:           hour,
			Count:          counts[hour],
			AvgTemperature: round2(tempSums[hour] / n),
			AvgHumidity:    round2(humSums[hour] / n),
		})
	}
	return averages
}

// round2 rounds to two decimals with halves going up, so -0.125 becomes -0.12
func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
