package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Station   StationConfig
	Retention RetentionConfig
}

type AppConfig struct {
	Env      string
	LogLevel slog.Level
}

type HTTPConfig struct {
	Addr            string
	RateLimit       float64 // ingestion requests per second, 0 disables
	RateBurst       int
	CronSecret      string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // postgres or memory
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SeedAPIKey      string // registered as an active device key at startup
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig is optional; an empty Addr keeps extremes locking in-process
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// KafkaConfig is optional; no brokers disables event publishing
type KafkaConfig struct {
	Brokers        []string
	TopicReadings  string
	TopicRetention string
	NumPartitions  int
	CreateTopics   bool
}

type StationConfig struct {
	UTCOffsetMinutes int
	TrendWindow      int
	TrendThreshold   float64
	ForecastCurrent  int
	ForecastPastFrom time.Duration
	ForecastPastTo   time.Duration
}

type RetentionConfig struct {
	Enabled bool
	RunTime string // local HH:MM
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")
	switch env {
	case "dev", "prod":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", env)
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		App: AppConfig{
			Env:      env,
			LogLevel: level,
		},
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":8080"),
			RateLimit:       getEnvAsFloat("HTTP_RATE_LIMIT", 5),
			RateBurst:       getEnvAsInt("HTTP_RATE_BURST", 10),
			CronSecret:      getEnv("CRON_SECRET", ""),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "weather_user"),
			Password:        getEnv("DB_PASSWORD", "weather_pass"),
			DBName:          getEnv("DB_NAME", "weather_db"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			SeedAPIKey:      getEnv("DEVICE_API_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("REDIS_LOCK_TTL", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnvAsList("KAFKA_BROKERS"),
			TopicReadings:  getEnv("KAFKA_TOPIC_READINGS", "weather.readings"),
			TopicRetention: getEnv("KAFKA_TOPIC_RETENTION", "weather.retention"),
			NumPartitions:  getEnvAsInt("KAFKA_NUM_PARTITIONS", 3),
			CreateTopics:   getEnvAsBool("KAFKA_CREATE_TOPICS", true),
		},
		Station: StationConfig{
			UTCOffsetMinutes: getEnvAsInt("STATION_UTC_OFFSET_MINUTES", -180),
			TrendWindow:      getEnvAsInt("TREND_WINDOW_SIZE", 2),
			TrendThreshold:   getEnvAsFloat("TREND_THRESHOLD", 0.2),
			ForecastCurrent:  getEnvAsInt("FORECAST_CURRENT_READINGS", 4),
			ForecastPastFrom: getEnvAsDuration("FORECAST_PAST_FROM", 6*time.Hour),
			ForecastPastTo:   getEnvAsDuration("FORECAST_PAST_TO", 3*time.Hour),
		},
		Retention: RetentionConfig{
			Enabled: getEnvAsBool("RETENTION_ENABLED", true),
			RunTime: getEnv("RETENTION_RUN_TIME", "00:05"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that have no sensible fallback
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q (allowed: postgres, memory)", c.Database.Driver)
	}
	if _, err := time.Parse("15:04", c.Retention.RunTime); err != nil {
		return fmt.Errorf("invalid RETENTION_RUN_TIME %q (expected HH:MM)", c.Retention.RunTime)
	}
	if c.Station.UTCOffsetMinutes < -14*60 || c.Station.UTCOffsetMinutes > 14*60 {
		return fmt.Errorf("invalid STATION_UTC_OFFSET_MINUTES %d", c.Station.UTCOffsetMinutes)
	}
	if c.Station.TrendWindow < 1 {
		return fmt.Errorf("invalid TREND_WINDOW_SIZE %d (must be at least 1)", c.Station.TrendWindow)
	}
	if t := c.Station.TrendThreshold; t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("invalid TREND_THRESHOLD %g (must be zero or positive)", t)
	}
	if c.Station.ForecastPastTo >= c.Station.ForecastPastFrom {
		return fmt.Errorf("FORECAST_PAST_TO (%s) must be shorter than FORECAST_PAST_FROM (%s)",
			c.Station.ForecastPastTo, c.Station.ForecastPastFrom)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
