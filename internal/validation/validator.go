// Package validation checks device payloads before they are stored.
package validation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smukkama/weather-station/internal/protocol"
)

// Accepted ranges
const (
	TempMin     = -50.0
	TempMax     = 60.0
	HumidityMin = 0.0
	HumidityMax = 100.0
	PressureMin = 300.0
	PressureMax = 1100.0
)

// Result lists every violated rule
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateShape reports whether fields has a numeric temperature and
// humidity, optional numeric pressure and altitude, and an optional string
// timestamp.
func ValidateShape(fields map[string]any) bool {
	if fields == nil {
		return false
	}
	if !isNumber(fields[protocol.FieldTemperature]) {
		return false
	}
	if !isNumber(fields[protocol.FieldHumidity]) {
		return false
	}
	for _, key := range []string{protocol.FieldPressure, protocol.FieldPressureAtm, protocol.FieldAltitude} {
		if v, ok := fields[key]; ok && v != nil && !isNumber(v) {
			return false
		}
	}
	if v, ok := fields[protocol.FieldTimestamp]; ok && v != nil {
		if _, isString := v.(string); !isString {
			return false
		}
	}
	return true
}

func isNumber(v any) bool {
	f, ok := v.(float64)
	return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ValidateRanges checks the physical ranges of a payload
func ValidateRanges(p protocol.IngestPayload) Result {
	var errs []string

	if p.Temperature < TempMin || p.Temperature > TempMax {
		errs = append(errs, fmt.Sprintf("Temperature %g°C is outside valid range (%g°C to %g°C)",
			p.Temperature, TempMin, TempMax))
	}
	if p.Humidity < HumidityMin || p.Humidity > HumidityMax {
		errs = append(errs, fmt.Sprintf("Humidity %g%% is outside valid range (%g%% to %g%%)",
			p.Humidity, HumidityMin, HumidityMax))
	}
	if p.Pressure != nil && (*p.Pressure < PressureMin || *p.Pressure > PressureMax) {
		errs = append(errs, fmt.Sprintf("Pressure %g hPa is outside valid range (%g hPa to %g hPa)",
			*p.Pressure, PressureMin, PressureMax))
	}
	if p.Timestamp != nil {
		if _, err := ParseTimestamp(*p.Timestamp); err != nil {
			errs = append(errs, fmt.Sprintf("Timestamp %q is not a valid ISO 8601 date-time", *p.Timestamp))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// timestampLayouts are the ISO 8601 date-times devices send. A value with
// no zone is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05Z0700",
}

// ParseTimestamp accepts an ISO 8601 date-time with an optional fraction and
// an optional Z, ±hh:mm or ±hhmm offset
func ParseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		t, perr := time.Parse(layout, s)
		if perr == nil {
			return t.UTC(), nil
		}
		err = perr
	}
	return time.Time{}, err
}

// ExtractAPIKey supports "Bearer <key>" or the bare key. It returns "" when
// the header carries no key.
func ExtractAPIKey(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	if len(parts) == 1 && !strings.EqualFold(parts[0], "bearer") {
		return parts[0]
	}
	return ""
}
