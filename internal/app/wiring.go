// Package app assembles the stores, brokers and jobs shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/weather-station/internal/aggregation"
	"github.com/smukkama/weather-station/internal/api"
	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
	"github.com/smukkama/weather-station/internal/extremes"
	"github.com/smukkama/weather-station/internal/locking"
	"github.com/smukkama/weather-station/internal/queue"
	"github.com/smukkama/weather-station/internal/retention"
	"github.com/smukkama/weather-station/pkg/config"
)

// Store is everything the binaries need from the reading store. Both
// database.DB and database.MemoryStore implement it.
type Store interface {
	api.Store
	retention.Store
	extremes.Store
	CreateAPIKey(ctx context.Context, key string) error
}

var (
	_ Store = (*database.DB)(nil)
	_ Store = (*database.MemoryStore)(nil)
)

// OpenStore connects to the configured store and prepares its schema. The
// returned func closes it.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, func() error, error) {
	var (
		store   Store
		closeFn = func() error { return nil }
	)

	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		store = database.NewMemoryStore()
	case "postgres":
		db, err := database.Connect(ctx, cfg.ConnectionString(), database.PoolConfig{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		store, closeFn = db, db.Close
		logger.Info("connected to database", "host", cfg.Host, "name", cfg.DBName)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if cfg.SeedAPIKey != "" {
		if err := store.CreateAPIKey(ctx, cfg.SeedAPIKey); err != nil {
			closeFn()
			return nil, nil, err
		}
		logger.Info("device API key registered")
	}
	return store, closeFn, nil
}

// NewLocker returns a Redis-backed locker when an address is configured and
// an in-process one otherwise
func NewLocker(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (locking.Locker, func() error, error) {
	if cfg.Addr == "" {
		return locking.NewKeyedMutex(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info("connected to redis", "addr", cfg.Addr)
	return locking.NewRedisLocker(client, "weather", cfg.LockTTL, logger), client.Close, nil
}

// Publishers holds one publisher per topic
type Publishers struct {
	Readings  queue.Publisher
	Retention queue.Publisher
}

// Close closes both publishers
func (p Publishers) Close() error {
	err := p.Readings.Close()
	if rerr := p.Retention.Close(); err == nil {
		err = rerr
	}
	return err
}

// NewPublishers creates the topics if asked to and returns their
// producers. Without brokers both publishers discard everything.
func NewPublishers(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) Publishers {
	if len(cfg.Brokers) == 0 {
		logger.Info("no kafka brokers configured, events are not published")
		return Publishers{Readings: queue.NopPublisher{}, Retention: queue.NopPublisher{}}
	}

	if cfg.CreateTopics {
		for _, t := range []struct {
			name       string
			partitions int
		}{
			{cfg.TopicReadings, cfg.NumPartitions},
			{cfg.TopicRetention, 1}, // single partition keeps reports ordered
		} {
			if err := queue.CreateTopic(ctx, cfg.Brokers, t.name, t.partitions, 1, logger); err != nil {
				logger.Warn("topic creation failed", "topic", t.name, "error", err)
			}
		}
	}

	return Publishers{
		Readings:  queue.NewPublisher(cfg.Brokers, cfg.TopicReadings),
		Retention: queue.NewPublisher(cfg.Brokers, cfg.TopicRetention),
	}
}

// NewRetentionJob builds the archive-and-purge job over store
func NewRetentionJob(store Store, clock civil.Clock, publisher queue.Publisher, logger *slog.Logger) *retention.Job {
	hourly := aggregation.NewHourlyAggregator(store, clock, logger)
	return retention.NewJob(store, hourly, clock, logger, retention.WithPublisher(publisher))
}
