package aggregation

import (
	"context"
	"fmt"
	"math"
)

// Trend defaults
const (
	DefaultTrendWindow    = 2
	DefaultTrendThreshold = 0.2
)

// Trend messages
const (
	msgInsufficientData = "No hay suficientes datos"
	labelTemperature    = "Temperatura"
	labelHumidity       = "Humedad"
)

// FieldTrend is the change of one metric between two windows
type FieldTrend struct {
	Differential float64 `json:"differential"`
	Message      string  `json:"message"`
}

// TrendResult holds the trend of temperature and humidity
type TrendResult struct {
	TempTrend FieldTrend `json:"tempTrend"`
	HumTrend  FieldTrend `json:"humTrend"`
}

// TrendEstimator compares the latest readings with the ones before them
type TrendEstimator struct {
	store ReadingSource
}

// NewTrendEstimator creates a new trend estimator
func NewTrendEstimator(store ReadingSource) *TrendEstimator {
	return &TrendEstimator{store: store}
}

// NormalizeWindow floors windowSize and clamps it to at least 1
func NormalizeWindow(windowSize float64) int {
	if math.IsNaN(windowSize) {
		return DefaultTrendWindow
	}
	w := math.Floor(windowSize)
	if w < 1 {
		return 1
	}
	if w > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(w)
}

// Estimate averages the latest windowSize readings and the windowSize
// readings before them. With fewer than 2*windowSize readings both
// differentials are 0.
func (t *TrendEstimator) Estimate(ctx context.Context, windowSize int, threshold float64) (TrendResult, error) {
	if windowSize < 1 {
		windowSize = 1
	}
	limit := windowSize * 2

	readings, err := t.store.LatestReadings(ctx, limit)
	if err != nil {
		return TrendResult{}, fmt.Errorf("failed to fetch readings for trend: %w", err)
	}

	if len(readings) < limit {
		return TrendResult{
			TempTrend: FieldTrend{Differential: 0, Message: msgInsufficientData},
			HumTrend:  FieldTrend{Differential: 0, Message: msgInsufficientData},
		}, nil
	}

	latest, previous := readings[:windowSize], readings[windowSize:limit]

	var latestTemp, latestHum, prevTemp, prevHum float64
	for _, r := range latest {
		latestTemp += r.Temperature
		latestHum += r.Humidity
	}
	for _, r := range previous {
		prevTemp += r.Temperature
		prevHum += r.Humidity
	}
	n := float64(windowSize)

	tempDiff := round2(latestTemp/n - prevTemp/n)
	humDiff := round2(latestHum/n - prevHum/n)

	return TrendResult{
		TempTrend: FieldTrend{Differential: tempDiff, Message: trendMessage(tempDiff, threshold, labelTemperature)},
		HumTrend:  FieldTrend{Differential: humDiff, Message: trendMessage(humDiff, threshold, labelHumidity)},
	}, nil
}

func trendMessage(diff, threshold float64, label string) string {
	switch {
	case math.Abs(diff) <= threshold:
		return label + " estable"
	case diff > 0:
		return label + " en aumento"
	default:
		return label + " en descenso"
	}
}
