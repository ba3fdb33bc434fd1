package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrExtremesExist is returned when an extremes row for the date was
// inserted concurrently
var ErrExtremesExist = errors.New("daily extremes already exist for date")

// pq error code for unique_violation
const uniqueViolation = "23505"

// DB wraps the database connection
type DB struct {
	*sql.DB
	logger *slog.Logger
}

// PoolConfig holds connection pool settings
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect establishes a connection to the database
func Connect(ctx context.Context, connectionString string, pool PoolConfig, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &DB{DB: db, logger: logger.With("component", "database")}, nil
}

// RunMigrations executes all embedded SQL migration files in order
func (db *DB) RunMigrations(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		db.logger.Info("running migration", "file", filename)

		content, err := migrationFiles.ReadFile("migrations/" + filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	db.logger.Info("all migrations completed", "count", len(sqlFiles))
	return nil
}

const readingColumns = `id, temperature, humidity, pressure, altitude, recorded_at, created_at`

func scanReading(row interface{ Scan(...any) error }) (*Reading, error) {
	var r Reading
	var pressure, altitude sql.NullFloat64
	if err := row.Scan(&r.ID, &r.Temperature, &r.Humidity, &pressure, &altitude, &r.RecordedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Pressure = nullFloat(pressure)
	r.Altitude = nullFloat(altitude)
	r.RecordedAt = r.RecordedAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// InsertReading stores a reading. ID and CreatedAt are filled in when empty.
func (db *DB) InsertReading(ctx context.Context, r *Reading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	query := `
		INSERT INTO weather_readings (id, temperature, humidity, pressure, altitude, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := db.QueryRowContext(ctx, query,
		r.ID, r.Temperature, r.Humidity, r.Pressure, r.Altitude, r.RecordedAt,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return nil
}

func (db *DB) queryReadings(ctx context.Context, query string, args ...any) ([]Reading, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, *r)
	}
	return readings, rows.Err()
}

// ReadingsBetween returns readings with start <= recorded_at < end, oldest first
func (db *DB) ReadingsBetween(ctx context.Context, start, end time.Time) ([]Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM weather_readings
		WHERE recorded_at >= $1 AND recorded_at < $2
		ORDER BY recorded_at ASC
	`
	readings, err := db.queryReadings(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

// LatestReadings returns up to limit readings, newest first
func (db *DB) LatestReadings(ctx context.Context, limit int) ([]Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM weather_readings
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	readings, err := db.queryReadings(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	return readings, nil
}

// OldestReading returns the earliest reading, or nil when the table is empty
func (db *DB) OldestReading(ctx context.Context) (*Reading, error) {
	query := `
		SELECT ` + readingColumns + `
		FROM weather_readings
		ORDER BY recorded_at ASC
		LIMIT 1
	`
	r, err := scanReading(db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query oldest reading: %w", err)
	}
	return r, nil
}

// DeleteReadingsBetween removes readings with start <= recorded_at < end
func (db *DB) DeleteReadingsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM weather_readings WHERE recorded_at >= $1 AND recorded_at < $2`,
		start, end,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete readings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted readings: %w", err)
	}
	return n, nil
}

const extremesColumns = `date::text, temp_max, temp_max_time, temp_min, temp_min_time,
	humidity_max, humidity_max_time, humidity_min, humidity_min_time, precip_total, updated_at`

func scanExtremes(row interface{ Scan(...any) error }) (*DailyExtremes, error) {
	var e DailyExtremes
	var tMax, tMin, hMax, hMin, precip sql.NullFloat64
	var tMaxAt, tMinAt, hMaxAt, hMinAt sql.NullTime
	err := row.Scan(&e.Date, &tMax, &tMaxAt, &tMin, &tMinAt, &hMax, &hMaxAt, &hMin, &hMinAt, &precip, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.TempMax, e.TempMaxTime = nullFloat(tMax), nullTime(tMaxAt)
	e.TempMin, e.TempMinTime = nullFloat(tMin), nullTime(tMinAt)
	e.HumidityMax, e.HumidityMaxTime = nullFloat(hMax), nullTime(hMaxAt)
	e.HumidityMin, e.HumidityMinTime = nullFloat(hMin), nullTime(hMinAt)
	e.PrecipTotal = nullFloat(precip)
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

// GetDailyExtremes returns the extremes row for date, or nil when absent
func (db *DB) GetDailyExtremes(ctx context.Context, date string) (*DailyExtremes, error) {
	query := `SELECT ` + extremesColumns + ` FROM daily_extremes WHERE date = $1`
	e, err := scanExtremes(db.QueryRowContext(ctx, query, date))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query daily extremes: %w", err)
	}
	return e, nil
}

// InsertDailyExtremes creates the extremes row for a date. It returns
// ErrExtremesExist when the row is already there.
func (db *DB) InsertDailyExtremes(ctx context.Context, date string, u ExtremesUpdate) error {
	query := `
		INSERT INTO daily_extremes (
			date, temp_max, temp_max_time, temp_min, temp_min_time,
			humidity_max, humidity_max_time, humidity_min, humidity_min_time, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := db.ExecContext(ctx, query,
		date,
		u.TempMax, stampFor(u.TempMax, u.RecordedAt),
		u.TempMin, stampFor(u.TempMin, u.RecordedAt),
		u.HumidityMax, stampFor(u.HumidityMax, u.RecordedAt),
		u.HumidityMin, stampFor(u.HumidityMin, u.RecordedAt),
		u.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrExtremesExist
		}
		return fmt.Errorf("failed to insert daily extremes: %w", err)
	}
	return nil
}

func stampFor(v *float64, t time.Time) *time.Time {
	if v == nil {
		return nil
	}
	return &t
}

// UpdateDailyExtremes writes only the non-nil fields of u. Each field is
// replaced only if it still improves on the stored value, so concurrent
// writers cannot regress an extreme.
func (db *DB) UpdateDailyExtremes(ctx context.Context, date string, u ExtremesUpdate) error {
	query := `
		UPDATE daily_extremes SET
			temp_max_time = CASE WHEN $2::float8 IS NOT NULL AND (temp_max IS NULL OR $2 > temp_max) THEN $6 ELSE temp_max_time END,
			temp_max = CASE WHEN $2::float8 IS NOT NULL AND (temp_max IS NULL OR $2 > temp_max) THEN $2 ELSE temp_max END,
			temp_min_time = CASE WHEN $3::float8 IS NOT NULL AND (temp_min IS NULL OR $3 < temp_min) THEN $6 ELSE temp_min_time END,
			temp_min = CASE WHEN $3::float8 IS NOT NULL AND (temp_min IS NULL OR $3 < temp_min) THEN $3 ELSE temp_min END,
			humidity_max_time = CASE WHEN $4::float8 IS NOT NULL AND (humidity_max IS NULL OR $4 > humidity_max) THEN $6 ELSE humidity_max_time END,
			humidity_max = CASE WHEN $4::float8 IS NOT NULL AND (humidity_max IS NULL OR $4 > humidity_max) THEN $4 ELSE humidity_max END,
			humidity_min_time = CASE WHEN $5::float8 IS NOT NULL AND (humidity_min IS NULL OR $5 < humidity_min) THEN $6 ELSE humidity_min_time END,
			humidity_min = CASE WHEN $5::float8 IS NOT NULL AND (humidity_min IS NULL OR $5 < humidity_min) THEN $5 ELSE humidity_min END,
			updated_at = $7
		WHERE date = $1
	`
	_, err := db.ExecContext(ctx, query,
		date, u.TempMax, u.TempMin, u.HumidityMax, u.HumidityMin, u.RecordedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update daily extremes: %w", err)
	}
	return nil
}

// RecentDailyExtremes returns up to limit extremes rows, newest date first
func (db *DB) RecentDailyExtremes(ctx context.Context, limit int) ([]DailyExtremes, error) {
	query := `SELECT ` + extremesColumns + ` FROM daily_extremes ORDER BY date DESC LIMIT $1`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query extremes history: %w", err)
	}
	defer rows.Close()

	var history []DailyExtremes
	for rows.Next() {
		e, err := scanExtremes(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extremes: %w", err)
		}
		history = append(history, *e)
	}
	return history, rows.Err()
}

// CountHourlyStats returns how many hourly rows exist for date
func (db *DB) CountHourlyStats(ctx context.Context, date string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hourly_stats WHERE date = $1`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count hourly stats: %w", err)
	}
	return n, nil
}

// InsertHourlyStats inserts all rows in one transaction
func (db *DB) InsertHourlyStats(ctx context.Context, stats []HourlyStat) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hourly_stats (date, hour, count, avg_temperature, avg_humidity, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range stats {
		if _, err := stmt.ExecContext(ctx, s.Date, s.Hour, s.Count, s.AvgTemperature, s.AvgHumidity, s.RecordedAt); err != nil {
			return fmt.Errorf("failed to insert hourly stat %s %02d: %w", s.Date, s.Hour, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// HourlyStatsForDate returns the archived rows of a date ordered by hour
func (db *DB) HourlyStatsForDate(ctx context.Context, date string) ([]HourlyStat, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT date::text, hour, count, avg_temperature::float8, avg_humidity::float8, recorded_at
		FROM hourly_stats
		WHERE date = $1
		ORDER BY hour
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly stats: %w", err)
	}
	defer rows.Close()

	var stats []HourlyStat
	for rows.Next() {
		var s HourlyStat
		if err := rows.Scan(&s.Date, &s.Hour, &s.Count, &s.AvgTemperature, &s.AvgHumidity, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan hourly stat: %w", err)
		}
		s.RecordedAt = s.RecordedAt.UTC()
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// ValidateAPIKey reports whether key is active and touches its last_used_at
func (db *DB) ValidateAPIKey(ctx context.Context, key string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE key = $1 AND is_active = true`,
		key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to validate api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to validate api key: %w", err)
	}
	return n > 0, nil
}

// CreateAPIKey registers an active key
func (db *DB) CreateAPIKey(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO api_keys (key, is_active) VALUES ($1, true) ON CONFLICT (key) DO UPDATE SET is_active = true`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}
