// Package api serves the ingestion, dashboard and cron HTTP endpoints.
package api

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/smukkama/weather-station/internal/aggregation"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
	"github.com/smukkama/weather-station/internal/environment"
	"github.com/smukkama/weather-station/internal/queue"
	"github.com/smukkama/weather-station/internal/retention"
)

// Store is the part of the reading store the handlers use
type Store interface {
	PingContext(ctx context.Context) error
	ValidateAPIKey(ctx context.Context, key string) (bool, error)
	InsertReading(ctx context.Context, r *database.Reading) error
	ReadingsBetween(ctx context.Context, start, end time.Time) ([]database.Reading, error)
	LatestReadings(ctx context.Context, limit int) ([]database.Reading, error)
	GetDailyExtremes(ctx context.Context, date string) (*database.DailyExtremes, error)
	RecentDailyExtremes(ctx context.Context, limit int) ([]database.DailyExtremes, error)
}

// ExtremesUpdater folds a stored reading into its day's extremes without
// blocking the caller
type ExtremesUpdater interface {
	ApplyAsync(r database.Reading, attrs ...any)
}

// RetentionRunner runs the archive-and-purge job unless one is in progress
type RetentionRunner interface {
	TryRun(ctx context.Context) (retention.Report, bool)
}

// Config tunes the handlers
type Config struct {
	Clock          civil.Clock
	TrendWindow    int
	TrendThreshold float64 // 0 flags any change as a trend
	Forecast       environment.ForecastWindows
	CronSecret     string
	RateLimit      float64 // ingestion requests per second, 0 disables
	RateBurst      int
	Now            func() time.Time
}

// Server holds the collaborators of the HTTP handlers
type Server struct {
	store      Store
	extremes   ExtremesUpdater
	retention  RetentionRunner
	publisher  queue.Publisher
	hourly     *aggregation.HourlyAggregator
	trend      *aggregation.TrendEstimator
	history    *aggregation.DailyHistory
	forecaster *environment.Forecaster
	limiter    *rate.Limiter
	cfg        Config
	logger     *slog.Logger

	publishes sync.WaitGroup
}

// NewServer wires the handlers. A nil publisher disables reading events.
func NewServer(store Store, extremes ExtremesUpdater, job RetentionRunner, publisher queue.Publisher, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TrendWindow < 1 {
		cfg.TrendWindow = aggregation.DefaultTrendWindow
	}
	if cfg.TrendThreshold < 0 || math.IsNaN(cfg.TrendThreshold) {
		cfg.TrendThreshold = aggregation.DefaultTrendThreshold
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger = logger.With("component", "api")
	return &Server{
		store:      store,
		extremes:   extremes,
		retention:  job,
		publisher:  publisher,
		hourly:     aggregation.NewHourlyAggregator(store, cfg.Clock, logger),
		trend:      aggregation.NewTrendEstimator(store),
		history:    aggregation.NewDailyHistory(store),
		forecaster: environment.NewForecaster(store, cfg.Forecast),
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// Handler returns the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/weather", rateLimited(s.limiter, s.logger, s.handleIngest))

	mux.HandleFunc("GET /api/weather-data", s.handleWeatherData)
	mux.HandleFunc("GET /api/todays-stats/all-measurements", s.handleTodayReadings)
	mux.HandleFunc("GET /api/todays-stats/measurements-per-hours", s.handleTodayHourly)
	mux.HandleFunc("GET /api/todays-stats/trend", s.handleTrend)
	mux.HandleFunc("GET /api/day-stats/measurements-per-hours", s.handleDayHourly)
	mux.HandleFunc("GET /api/weather-history", s.handleHistory)

	cron := cronAuthorized(s.cfg.CronSecret, s.handleCleanReadings)
	mux.HandleFunc("GET /api/cron/clean-readings", cron)
	mux.HandleFunc("POST /api/cron/clean-readings", cron)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return s.withRequestLog(s.withRecovery(mux))
}

// Wait blocks until pending reading events are published
func (s *Server) Wait() {
	s.publishes.Wait()
}

func (s *Server) now() time.Time {
	return s.cfg.Now().UTC()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.PingContext(r.Context()); err != nil {
		s.logger.Error("failed to check database connectivity", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
