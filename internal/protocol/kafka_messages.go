package protocol

import (
	"encoding/json"
	"time"
)

// ReadingEvent is published for every stored reading
type ReadingEvent struct {
	ID          string    `json:"id"`
	Date        string    `json:"date"` // civil date of RecordedAt
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Altitude    *float64  `json:"altitude,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
	ReceivedAt  time.Time `json:"received_at"`
}

// EncodeReadingEvent encodes a ReadingEvent to JSON
func EncodeReadingEvent(evt *ReadingEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// DecodeReadingEvent decodes JSON to ReadingEvent
func DecodeReadingEvent(data []byte) (*ReadingEvent, error) {
	var evt ReadingEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
