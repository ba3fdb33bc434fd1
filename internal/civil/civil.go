// Package civil maps absolute instants onto the calendar of a station that
// lives at a fixed UTC offset.
//
// The offset is a constant: there is no daylight-saving handling and no
// dependency on the platform timezone database. A station in a locale that
// observes DST will see hours shift by one around the transition; that is a
// known limitation of this package, not a bug to work around elsewhere.
package civil

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidDate is returned when a string is not a valid YYYY-MM-DD date
var ErrInvalidDate = errors.New("invalid date, expected format YYYY-MM-DD")

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date is a calendar date with no time-of-day and no location
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses a strict YYYY-MM-DD string and rejects impossible dates
// such as 2026-02-30.
func ParseDate(s string) (Date, error) {
	if !datePattern.MatchString(s) {
		return Date{}, ErrInvalidDate
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// MatchesDateFormat reports whether s looks like YYYY-MM-DD without checking
// that the date exists.
func MatchesDateFormat(s string) bool {
	return datePattern.MatchString(s)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// midnightUTC is the date's midnight interpreted as UTC. Used only for
// calendar arithmetic.
func (d Date) midnightUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (n may be negative)
func (d Date) AddDays(n int) Date {
	t := d.midnightUTC().AddDate(0, 0, n)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or
// after other.
func (d Date) Compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return cmpInt(d.Year, other.Year)
	case d.Month != other.Month:
		return cmpInt(int(d.Month), int(other.Month))
	default:
		return cmpInt(d.Day, other.Day)
	}
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }
func (d Date) IsZero() bool           { return d == Date{} }

// MarshalText encodes the date as YYYY-MM-DD
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a YYYY-MM-DD date
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Clock converts instants to civil dates and hours at a fixed offset
type Clock struct {
	offset time.Duration
}

// NewClock creates a clock for the given offset from UTC in minutes,
// e.g. -180 for UTC-3.
func NewClock(offsetMinutes int) Clock {
	return Clock{offset: time.Duration(offsetMinutes) * time.Minute}
}

// OffsetMinutes returns the configured offset from UTC
func (c Clock) OffsetMinutes() int {
	return int(c.offset / time.Minute)
}

// local shifts t so that its UTC fields read as the station's wall clock
func (c Clock) local(t time.Time) time.Time {
	return t.UTC().Add(c.offset)
}

// DateOf returns the civil date containing the instant
func (c Clock) DateOf(t time.Time) Date {
	l := c.local(t)
	return Date{Year: l.Year(), Month: l.Month(), Day: l.Day()}
}

// HourOf returns the local hour of day, 0..23
func (c Clock) HourOf(t time.Time) int {
	return c.local(t).Hour()
}

// UTCRange returns the half-open interval [start, end) of instants whose
// civil date is d. end is always start + 24h.
func (c Clock) UTCRange(d Date) (start, end time.Time) {
	start = d.midnightUTC().Add(-c.offset)
	return start, start.Add(24 * time.Hour)
}

// Today returns the civil date at now
func (c Clock) Today(now time.Time) Date {
	return c.DateOf(now)
}

// Yesterday returns the civil date before the one containing now
func (c Clock) Yesterday(now time.Time) Date {
	return c.DateOf(now).AddDays(-1)
}
