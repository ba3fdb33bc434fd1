package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/smukkama/weather-station/internal/aggregation"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
	"github.com/smukkama/weather-station/internal/environment"
)

type weatherDataResponse struct {
	Success          bool                          `json:"success"`
	LatestReading    *database.Reading             `json:"latestReading"`
	TodayExtremes    *database.DailyExtremes       `json:"todayExtremes"`
	HeatIndex        *environment.HeatIndexResult  `json:"heatIndex"`
	PressureForecast *environment.PressureForecast `json:"pressureForecast"`
	Timestamp        time.Time                     `json:"timestamp"`
}

type readingsResponse struct {
	Success   bool               `json:"success"`
	Date      string             `json:"date"`
	Count     int                `json:"count"`
	Readings  []database.Reading `json:"readings"`
	Timestamp time.Time          `json:"timestamp"`
}

type hourlyResponse struct {
	Success        bool                        `json:"success"`
	Date           string                      `json:"date"`
	HoursWithData  int                         `json:"hoursWithData"`
	HourlyAverages []aggregation.HourlyAverage `json:"hourlyAverages"`
	Timestamp      time.Time                   `json:"timestamp"`
}

type trendResponse struct {
	Success    bool                   `json:"success"`
	WindowSize int                    `json:"windowSize"`
	Threshold  float64                `json:"threshold"`
	TempTrend  aggregation.FieldTrend `json:"tempTrend"`
	HumTrend   aggregation.FieldTrend `json:"humTrend"`
	Timestamp  time.Time              `json:"timestamp"`
}

type historyResponse struct {
	Success        bool                     `json:"success"`
	WeatherHistory []database.DailyExtremes `json:"weatherHistory"`
	Limit          int                      `json:"limit"`
	Timestamp      time.Time                `json:"timestamp"`
}

func (s *Server) handleWeatherData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()

	latest, err := s.store.LatestReadings(ctx, 1)
	if err != nil {
		s.logger.Error("failed to fetch latest reading", "request_id", RequestID(ctx), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to fetch weather data")
		return
	}
	extremes, err := s.history.ForDate(ctx, s.cfg.Clock.Today(now))
	if err != nil {
		s.logger.Error("failed to fetch today's extremes", "request_id", RequestID(ctx), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to fetch weather data")
		return
	}
	forecast, err := s.forecaster.Current(ctx, now)
	if err != nil {
		s.logger.Error("failed to compute pressure forecast", "request_id", RequestID(ctx), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to fetch weather data")
		return
	}

	resp := weatherDataResponse{
		Success:          true,
		TodayExtremes:    extremes,
		PressureForecast: forecast,
		Timestamp:        now,
	}
	if len(latest) > 0 {
		resp.LatestReading = &latest[0]
		hi := environment.HeatIndex(latest[0].Temperature, latest[0].Humidity)
		resp.HeatIndex = &hi
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTodayReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()
	today := s.cfg.Clock.Today(now)

	readings, err := s.hourly.ReadingsForDate(ctx, today)
	if err != nil {
		s.logger.Error("failed to fetch today readings", "request_id", RequestID(ctx), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to fetch today readings")
		return
	}
	if readings == nil {
		readings = []database.Reading{}
	}
	WriteJSON(w, http.StatusOK, readingsResponse{
		Success:   true,
		Date:      today.String(),
		Count:     len(readings),
		Readings:  readings,
		Timestamp: now,
	})
}

func (s *Server) handleTodayHourly(w http.ResponseWriter, r *http.Request) {
	s.writeHourly(w, r, s.cfg.Clock.Today(s.now()))
}

func (s *Server) handleDayHourly(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		WriteError(w, http.StatusBadRequest, "Missing date parameter. Expected format: YYYY-MM-DD")
		return
	}
	if !civil.MatchesDateFormat(raw) {
		WriteError(w, http.StatusBadRequest, "Invalid date format. Expected format: YYYY-MM-DD")
		return
	}
	date, err := civil.ParseDate(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid date. Expected format: YYYY-MM-DD")
		return
	}
	s.writeHourly(w, r, date)
}

func (s *Server) writeHourly(w http.ResponseWriter, r *http.Request, date civil.Date) {
	ctx := r.Context()
	averages, err := s.hourly.AveragesByHourForDate(ctx, date)
	if err != nil {
		s.logger.Error("failed to fetch hourly averages", "request_id", RequestID(ctx), "date", date.String(), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to fetch hourly averages")
		return
	}
	WriteJSON(w, http.StatusOK, hourlyResponse{
		Success:        true,
		Date:           date.String(),
		HoursWithData:  len(averages),
		HourlyAverages: averages,
		Timestamp:      s.now(),
	})
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	window := s.cfg.TrendWindow
	if raw := query.Get("windowSize"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) {
			WriteError(w, http.StatusBadRequest, "Invalid windowSize parameter")
			return
		}
		window = aggregation.NormalizeWindow(v)
	}

	threshold := s.cfg.TrendThreshold
	if raw := query.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			WriteError(w, http.StatusBadRequest, "Invalid threshold parameter")
			return
		}
		threshold = v
	}

	trend, err := s.trend.Estimate(ctx, window, threshold)
	if err != nil {
		s.logger.Error("failed to compute trend", "request_id", RequestID(ctx), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to compute trend")
		return
	}
	WriteJSON(w, http.StatusOK, trendResponse{
		Success:    true,
		WindowSize: window,
		Threshold:  threshold,
		TempTrend:  trend.TempTrend,
		HumTrend:   trend.HumTrend,
		Timestamp:  s.now(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	days := aggregation.DefaultHistoryDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			days = v
		}
	}
	limit := aggregation.ClampDays(days)

	history, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("failed to fetch weather history", "request_id", RequestID(ctx), "error", err)
		WriteError(w, http.StatusInternalServerError, "Failed to fetch weather history")
		return
	}
	WriteJSON(w, http.StatusOK, historyResponse{
		Success:        true,
		WeatherHistory: history,
		Limit:          limit,
		Timestamp:      s.now(),
	})
}
