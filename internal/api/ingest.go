package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/smukkama/weather-station/internal/database"
	"github.com/smukkama/weather-station/internal/protocol"
	"github.com/smukkama/weather-station/internal/validation"
)

const (
	maxIngestBody  = 64 << 10
	publishTimeout = 5 * time.Second

	msgInvalidPayload = "Invalid payload format. Required: {temperature: number, humidity: number}"
)

type ingestedReading struct {
	ID          string    `json:"id"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type ingestResponse struct {
	Success bool            `json:"success"`
	Reading ingestedReading `json:"reading"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestID(ctx)
	logger := s.logger.With("request_id", requestID)

	key := validation.ExtractAPIKey(r.Header.Get("Authorization"))
	if key == "" {
		logger.Info("missing API key")
		WriteError(w, http.StatusUnauthorized, "Missing API key. Use Authorization header.")
		return
	}
	ok, err := s.store.ValidateAPIKey(ctx, key)
	if err != nil {
		logger.Error("failed to validate API key", "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !ok {
		logger.Info("invalid API key")
		WriteError(w, http.StatusForbidden, "Invalid or inactive API key")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		logger.Info("failed to read body", "error", err)
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	fields, err := protocol.DecodeIngestBody(body)
	if errors.Is(err, protocol.ErrNotObject) {
		WriteError(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}
	if err != nil {
		logger.Info("failed to parse body", "error", err)
		WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if !validation.ValidateShape(fields) {
		logger.Info("invalid payload format")
		WriteError(w, http.StatusBadRequest, msgInvalidPayload)
		return
	}

	payload := protocol.PayloadFromFields(fields)
	if result := validation.ValidateRanges(payload); !result.Valid {
		logger.Info("values out of range", "errors", result.Errors)
		writeErrorDetails(w, http.StatusBadRequest, "Values out of range", result.Errors)
		return
	}

	receivedAt := s.now()
	recordedAt := receivedAt
	if payload.Timestamp != nil {
		// already checked by ValidateRanges
		recordedAt, _ = validation.ParseTimestamp(*payload.Timestamp)
	}

	reading := database.Reading{
		Temperature: payload.Temperature,
		Humidity:    payload.Humidity,
		Pressure:    payload.Pressure,
		Altitude:    payload.Altitude,
		RecordedAt:  recordedAt.UTC(),
	}
	if err := s.store.InsertReading(ctx, &reading); err != nil {
		logger.Error("failed to insert reading", "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to save reading")
		return
	}
	logger.Info("reading stored", "reading_id", reading.ID, "recorded_at", reading.RecordedAt)

	s.extremes.ApplyAsync(reading, "request_id", requestID)
	s.publishReading(reading, receivedAt, requestID)

	WriteJSON(w, http.StatusOK, ingestResponse{
		Success: true,
		Reading: ingestedReading{
			ID:          reading.ID,
			Temperature: reading.Temperature,
			Humidity:    reading.Humidity,
			RecordedAt:  reading.RecordedAt,
		},
	})
}

// publishReading emits the reading event in the background
func (s *Server) publishReading(reading database.Reading, receivedAt time.Time, requestID string) {
	date := s.cfg.Clock.DateOf(reading.RecordedAt).String()
	evt := &protocol.ReadingEvent{
		ID:          reading.ID,
		Date:        date,
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		Pressure:    reading.Pressure,
		Altitude:    reading.Altitude,
		RecordedAt:  reading.RecordedAt,
		ReceivedAt:  receivedAt,
	}

	s.publishes.Add(1)
	go func() {
		defer s.publishes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishJSON(ctx, date, evt); err != nil {
			s.logger.Warn("failed to publish reading event", "request_id", requestID, "reading_id", reading.ID, "error", err)
		}
	}()
}
