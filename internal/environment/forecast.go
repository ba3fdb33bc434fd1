package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/weather-station/internal/database"
)

// Forecast statuses
const (
	StatusImprovingFast = "Mejora rápidamente"
	StatusImprovingSlow = "Mejora lenta"
	StatusUnstable      = "Inestable"
	StatusWorseningSlow = "Desmejora lenta"
	StatusStable        = "Estable"
)

// PressureForecast is the expected weather change from the pressure trend
type PressureForecast struct {
	DeltaPressure float64 `json:"deltaPressure"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
}

// PressureAverage returns the mean pressure of the readings that carry one,
// rounded to two decimals, or nil when none does
func PressureAverage(readings []database.Reading) *float64 {
	var sum float64
	var n int
	for _, r := range readings {
		if r.Pressure == nil {
			continue
		}
		sum += *r.Pressure
		n++
	}
	if n == 0 {
		return nil
	}
	avg := roundTo(sum/float64(n), 100)
	return &avg
}

// Forecast classifies the change between two pressure averages in hPa.
// It returns nil when either average is missing.
func Forecast(currentAvg, pastAvg *float64) *PressureForecast {
	if currentAvg == nil || pastAvg == nil {
		return nil
	}
	delta := roundTo(*currentAvg-*pastAvg, 10)

	f := &PressureForecast{DeltaPressure: delta}
	switch {
	case delta > 2:
		f.Status = StatusImprovingFast
		f.Message = "El clima mejorará rápidamente, con cielos despejados y aire más seco."
	case delta > 0.5:
		f.Status = StatusImprovingSlow
		f.Message = "Presión en ascenso, se espera una mejora gradual del clima para las próximas horas."
	case delta < -2:
		f.Status = StatusUnstable
		f.Message = "Clima inestable en las próximas horas con tormentas o frentes de mal tiempo."
	case delta < -0.5:
		f.Status = StatusWorseningSlow
		f.Message = "Probable cambio de clima en las próximas horas con aumento de nubosidad."
	default:
		f.Status = StatusStable
		f.Message = "Clima estable para las próximas horas."
	}
	return f
}

// ReadingSource is the part of the reading store the forecaster reads from
type ReadingSource interface {
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]database.Reading, error)
	LatestReadings(ctx context.Context, limit int) ([]database.Reading, error)
}

// ForecastWindows selects the readings compared by the forecaster
type ForecastWindows struct {
	CurrentCount int           // latest K readings
	PastFrom     time.Duration // past window starts this long ago
	PastTo       time.Duration // and ends this long ago
}

// DefaultForecastWindows compares the latest 4 readings with those 6h to 3h ago
var DefaultForecastWindows = ForecastWindows{
	CurrentCount: 4,
	PastFrom:     6 * time.Hour,
	PastTo:       3 * time.Hour,
}

// Forecaster computes the pressure forecast from stored readings
type Forecaster struct {
	store   ReadingSource
	windows ForecastWindows
}

// NewForecaster creates a forecaster. Zero fields of windows take the defaults.
func NewForecaster(store ReadingSource, windows ForecastWindows) *Forecaster {
	if windows.CurrentCount <= 0 {
		windows.CurrentCount = DefaultForecastWindows.CurrentCount
	}
	if windows.PastFrom <= 0 {
		windows.PastFrom = DefaultForecastWindows.PastFrom
	}
	if windows.PastTo <= 0 {
		windows.PastTo = DefaultForecastWindows.PastTo
	}
	if windows.PastTo > windows.PastFrom {
		windows.PastFrom, windows.PastTo = windows.PastTo, windows.PastFrom
	}
	return &Forecaster{store: store, windows: windows}
}

// Current returns the forecast as of now, or nil when either window has no
// pressure data
func (f *Forecaster) Current(ctx context.Context, now time.Time) (*PressureForecast, error) {
	current, err := f.store.LatestReadings(ctx, f.windows.CurrentCount)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current pressure window: %w", err)
	}
	past, err := f.store.ReadingsBetween(ctx, now.Add(-f.windows.PastFrom), now.Add(-f.windows.PastTo))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch past pressure window: %w", err)
	}
	return Forecast(PressureAverage(current), PressureAverage(past)), nil
}
