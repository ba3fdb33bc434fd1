package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInjected is the default error returned by failure hooks
var ErrInjected = errors.New("injected store failure")

// Op names an operation of MemoryStore for failure injection
type Op string

const (
	OpInsertReading         Op = "insert_reading"
	OpReadingsBetween       Op = "readings_between"
	OpLatestReadings        Op = "latest_readings"
	OpOldestReading         Op = "oldest_reading"
	OpDeleteReadingsBetween Op = "delete_readings_between"
	OpGetDailyExtremes      Op = "get_daily_extremes"
	OpInsertDailyExtremes   Op = "insert_daily_extremes"
	OpUpdateDailyExtremes   Op = "update_daily_extremes"
	OpRecentDailyExtremes   Op = "recent_daily_extremes"
	OpCountHourlyStats      Op = "count_hourly_stats"
	OpInsertHourlyStats     Op = "insert_hourly_stats"
	OpValidateAPIKey        Op = "validate_api_key"
)

// MemoryStore is an in-process store with the same semantics as DB. It
// backs DB_DRIVER=memory and the package tests of its callers.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []Reading
	extremes map[string]DailyExtremes
	hourly   map[string]map[int]HourlyStat
	apiKeys  map[string]*APIKey

	// FailOn returns a non-nil error to make op fail. arg is the date or
	// key the call is scoped to, when there is one.
	FailOn func(op Op, arg string) error
	// DropHourlyRows silently discards that many rows of every
	// InsertHourlyStats batch, modeling a partial write.
	DropHourlyRows int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		extremes: make(map[string]DailyExtremes),
		hourly:   make(map[string]map[int]HourlyStat),
		apiKeys:  make(map[string]*APIKey),
	}
}

func (m *MemoryStore) fail(op Op, arg string) error {
	if m.FailOn == nil {
		return nil
	}
	if err := m.FailOn(op, arg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PingContext always succeeds
func (m *MemoryStore) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// InsertReading stores a copy of r
func (m *MemoryStore) InsertReading(ctx context.Context, r *Reading) error {
	if err := m.fail(OpInsertReading, ""); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.RecordedAt = r.RecordedAt.UTC()
	r.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, *r)
	return nil
}

func (m *MemoryStore) sortedReadings() []Reading {
	out := make([]Reading, len(m.readings))
	copy(out, m.readings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

// ReadingsBetween returns readings with start <= recorded_at < end, oldest first
func (m *MemoryStore) ReadingsBetween(ctx context.Context, start, end time.Time) ([]Reading, error) {
	if err := m.fail(OpReadingsBetween, ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Reading
	for _, r := range m.sortedReadings() {
		if inRange(r.RecordedAt, start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// LatestReadings returns up to limit readings, newest first
func (m *MemoryStore) LatestReadings(ctx context.Context, limit int) ([]Reading, error) {
	if err := m.fail(OpLatestReadings, ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedReadings()
	var out []Reading
	for i := len(sorted) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, sorted[i])
	}
	return out, nil
}

// OldestReading returns the earliest reading, or nil when empty
func (m *MemoryStore) OldestReading(ctx context.Context) (*Reading, error) {
	if err := m.fail(OpOldestReading, ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedReadings()
	if len(sorted) == 0 {
		return nil, nil
	}
	r := sorted[0]
	return &r, nil
}

// DeleteReadingsBetween removes readings with start <= recorded_at < end
func (m *MemoryStore) DeleteReadingsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	if err := m.fail(OpDeleteReadingsBetween, start.UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.readings[:0]
	var deleted int64
	for _, r := range m.readings {
		if inRange(r.RecordedAt, start, end) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.readings = kept
	return deleted, nil
}

// ReadingCount returns the number of stored readings
func (m *MemoryStore) ReadingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings)
}

// GetDailyExtremes returns the row for date, or nil when absent
func (m *MemoryStore) GetDailyExtremes(ctx context.Context, date string) (*DailyExtremes, error) {
	if err := m.fail(OpGetDailyExtremes, date); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.extremes[date]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// InsertDailyExtremes creates the row for date or returns ErrExtremesExist
func (m *MemoryStore) InsertDailyExtremes(ctx context.Context, date string, u ExtremesUpdate) error {
	if err := m.fail(OpInsertDailyExtremes, date); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.extremes[date]; ok {
		return ErrExtremesExist
	}
	e := DailyExtremes{Date: date}
	applyUpdate(&e, u)
	m.extremes[date] = e
	return nil
}

// UpdateDailyExtremes applies the same guarded per-field update as DB
func (m *MemoryStore) UpdateDailyExtremes(ctx context.Context, date string, u ExtremesUpdate) error {
	if err := m.fail(OpUpdateDailyExtremes, date); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.extremes[date]
	if !ok {
		return nil
	}
	applyUpdate(&e, u)
	m.extremes[date] = e
	return nil
}

func applyUpdate(e *DailyExtremes, u ExtremesUpdate) {
	at := u.RecordedAt.UTC()
	if u.TempMax != nil && (e.TempMax == nil || *u.TempMax > *e.TempMax) {
		e.TempMax, e.TempMaxTime = ptr(*u.TempMax), ptr(at)
	}
	if u.TempMin != nil && (e.TempMin == nil || *u.TempMin < *e.TempMin) {
		e.TempMin, e.TempMinTime = ptr(*u.TempMin), ptr(at)
	}
	if u.HumidityMax != nil && (e.HumidityMax == nil || *u.HumidityMax > *e.HumidityMax) {
		e.HumidityMax, e.HumidityMaxTime = ptr(*u.HumidityMax), ptr(at)
	}
	if u.HumidityMin != nil && (e.HumidityMin == nil || *u.HumidityMin < *e.HumidityMin) {
		e.HumidityMin, e.HumidityMinTime = ptr(*u.HumidityMin), ptr(at)
	}
	e.UpdatedAt = u.UpdatedAt.UTC()
}

func ptr[T any](v T) *T { return &v }

// RecentDailyExtremes returns up to limit rows, newest date first
func (m *MemoryStore) RecentDailyExtremes(ctx context.Context, limit int) ([]DailyExtremes, error) {
	if err := m.fail(OpRecentDailyExtremes, ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	dates := make([]string, 0, len(m.extremes))
	for d := range m.extremes {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > limit {
		dates = dates[:limit]
	}

	out := make([]DailyExtremes, 0, len(dates))
	for _, d := range dates {
		out = append(out, m.extremes[d])
	}
	return out, nil
}

// CountHourlyStats returns how many hourly rows exist for date
func (m *MemoryStore) CountHourlyStats(ctx context.Context, date string) (int, error) {
	if err := m.fail(OpCountHourlyStats, date); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hourly[date]), nil
}

// InsertHourlyStats inserts the batch atomically; a duplicate (date, hour)
// fails the whole batch
func (m *MemoryStore) InsertHourlyStats(ctx context.Context, stats []HourlyStat) error {
	arg := ""
	if len(stats) > 0 {
		arg = stats[0].Date
	}
	if err := m.fail(OpInsertHourlyStats, arg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range stats {
		if _, dup := m.hourly[s.Date][s.Hour]; dup {
			return fmt.Errorf("duplicate hourly stat %s %02d", s.Date, s.Hour)
		}
	}

	keep := len(stats) - m.DropHourlyRows
	for i, s := range stats {
		if i >= keep {
			break
		}
		if m.hourly[s.Date] == nil {
			m.hourly[s.Date] = make(map[int]HourlyStat)
		}
		m.hourly[s.Date][s.Hour] = s
	}
	return nil
}

// HourlyStatsForDate returns the archived rows of a date ordered by hour
func (m *MemoryStore) HourlyStatsForDate(ctx context.Context, date string) ([]HourlyStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]HourlyStat, 0, len(m.hourly[date]))
	for _, s := range m.hourly[date] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hour < out[j].Hour })
	return out, nil
}

// ValidateAPIKey reports whether key is active and touches its last use
func (m *MemoryStore) ValidateAPIKey(ctx context.Context, key string) (bool, error) {
	if err := m.fail(OpValidateAPIKey, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.apiKeys[key]
	if !ok || !k.IsActive {
		return false, nil
	}
	k.LastUsedAt = ptr(time.Now().UTC())
	return true, nil
}

// CreateAPIKey registers an active key
func (m *MemoryStore) CreateAPIKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[key] = &APIKey{Key: key, IsActive: true}
	return nil
}

// DeactivateAPIKey marks key inactive
func (m *MemoryStore) DeactivateAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.apiKeys[key]; ok {
		k.IsActive = false
	}
}

// APIKey returns a copy of the stored key
func (m *MemoryStore) APIKey(key string) (APIKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[key]
	if !ok {
		return APIKey{}, false
	}
	return *k, true
}
