package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-station/internal/civil"
	"github.com/smukkama/weather-station/internal/database"
	"github.com/smukkama/weather-station/internal/locking"
	"github.com/smukkama/weather-station/internal/queue"
	"github.com/smukkama/weather-station/pkg/config"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpenStore_Memory(t *testing.T) {
	ctx := context.Background()
	store, closeFn, err := OpenStore(ctx, config.DatabaseConfig{Driver: "memory", SeedAPIKey: "k1"}, discard)
	require.NoError(t, err)
	defer closeFn()

	ok, err := store.ValidateAPIKey(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "sqlite"}, discard)
	assert.Error(t, err)
}

func TestNewLocker_DefaultsToInProcess(t *testing.T) {
	l, closeFn, err := NewLocker(context.Background(), config.RedisConfig{}, discard)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &locking.KeyedMutex{}, l)
}

func TestNewPublishers_WithoutBrokers(t *testing.T) {
	p := NewPublishers(context.Background(), config.KafkaConfig{}, discard)
	assert.IsType(t, queue.NopPublisher{}, p.Readings)
	assert.IsType(t, queue.NopPublisher{}, p.Retention)
	assert.NoError(t, p.Close())
}

func TestNewRetentionJob(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	r := database.Reading{Temperature: 20, Humidity: 50, RecordedAt: time.Now().Add(-72 * time.Hour)}
	require.NoError(t, store.InsertReading(ctx, &r))

	job := NewRetentionJob(store, civil.NewClock(-180), queue.NopPublisher{}, discard)
	report, ok := job.TryRun(ctx)
	require.True(t, ok)
	assert.True(t, report.Success)
	assert.Len(t, report.ProcessedDates, 1)
	assert.Equal(t, 0, store.ReadingCount())
}
