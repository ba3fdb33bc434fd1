package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Field names accepted in the device payload
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldPressure    = "pressure"
	FieldPressureAtm = "pressure_atm"
	FieldAltitude    = "altitude"
	FieldTimestamp   = "timestamp"
)

// ErrNotObject is returned when the body is valid JSON but not an object
var ErrNotObject = errors.New("payload must be a JSON object")

// IngestPayload is a device reading after shape validation
type IngestPayload struct {
	Temperature float64
	Humidity    float64
	Pressure    *float64
	Altitude    *float64
	Timestamp   *string
}

// DecodeIngestBody parses a request body into its raw fields. Numbers are
// kept as float64 so the shape check can inspect their JSON types.
func DecodeIngestBody(data []byte) (map[string]any, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	if dec.More() {
		return nil, errors.New("invalid JSON: trailing data after object")
	}
	return fields, nil
}

// PressureField returns the pressure value under either accepted key.
// "pressure" wins when both are present.
func PressureField(fields map[string]any) (any, bool) {
	if v, ok := fields[FieldPressure]; ok && v != nil {
		return v, true
	}
	if v, ok := fields[FieldPressureAtm]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// PayloadFromFields builds an IngestPayload from fields that already passed
// the shape check. Fields of the wrong type are ignored.
func PayloadFromFields(fields map[string]any) IngestPayload {
	p := IngestPayload{}
	p.Temperature, _ = fields[FieldTemperature].(float64)
	p.Humidity, _ = fields[FieldHumidity].(float64)

	if v, ok := PressureField(fields); ok {
		if f, ok := v.(float64); ok {
			p.Pressure = &f
		}
	}
	if f, ok := fields[FieldAltitude].(float64); ok {
		p.Altitude = &f
	}
	if s, ok := fields[FieldTimestamp].(string); ok {
		p.Timestamp = &s
	}
	return p
}
