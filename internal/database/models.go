package database

import (
	"time"
)

// Reading represents one device measurement
type Reading struct {
	ID          string    `json:"id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    *float64  `json:"pressure"`
	Altitude    *float64  `json:"altitude"`
	RecordedAt  time.Time `json:"recorded_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyExtremes represents the min/max values of one civil date
type DailyExtremes struct {
	Date            string     `json:"date"`
	TempMax         *float64   `json:"temp_max"`
	TempMaxTime     *time.Time `json:"temp_max_time"`
	TempMin         *float64   `json:"temp_min"`
	TempMinTime     *time.Time `json:"temp_min_time"`
	HumidityMax     *float64   `json:"humidity_max"`
	HumidityMaxTime *time.Time `json:"humidity_max_time"`
	HumidityMin     *float64   `json:"humidity_min"`
	HumidityMinTime *time.Time `json:"humidity_min_time"`
	PrecipTotal     *float64   `json:"precip_total"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ExtremesUpdate carries the fields that changed. Nil fields are left as
// they are.
type ExtremesUpdate struct {
	TempMax     *float64
	TempMin     *float64
	HumidityMax *float64
	HumidityMin *float64
	RecordedAt  time.Time // time stamped on every non-nil field
	UpdatedAt   time.Time
}

// Empty reports whether the update carries no field
func (u ExtremesUpdate) Empty() bool {
	return u.TempMax == nil && u.TempMin == nil && u.HumidityMax == nil && u.HumidityMin == nil
}

// HourlyStat represents the archived averages of one local hour
type HourlyStat struct {
	Date           string    `json:"date"`
	Hour           int       `json:"hour"`
	Count          int       `json:"count"`
	AvgTemperature float64   `json:"avg_temperature"`
	AvgHumidity    float64   `json:"avg_humidity"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// APIKey represents a device credential
type APIKey struct {
	Key        string
	IsActive   bool
	LastUsedAt *time.Time
}
