// Package dates turns the date-like values found in policy records into
// canonical calendar dates.
package dates

import (
	"encoding/json"
	"fmt"
	"time"
)

// Unknown is the string form of a date that could not be determined.
const Unknown = "unknown"

const canonicalLayout = "2006-01-02"

// CanonicalDate is a civil year/month/day value. The zero value is unknown.
type CanonicalDate struct {
	year  int
	month time.Month
	day   int
	known bool
}

// New builds a CanonicalDate, normalizing out-of-range parts the way time.Date does.
func New(year int, month time.Month, day int) CanonicalDate {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime takes the calendar date of t in t's own location.
func FromTime(t time.Time) CanonicalDate {
	y, m, d := t.Date()
	return CanonicalDate{year: y, month: m, day: d, known: true}
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) CanonicalDate {
	if loc == nil {
		loc = time.UTC
	}
	return FromTime(now.In(loc))
}

// ParseCanonical parses a strict YYYY-MM-DD string. "unknown" and blank yield
// the unknown date without error.
func ParseCanonical(s string) (CanonicalDate, error) {
	if s == "" || s == Unknown {
		return CanonicalDate{}, nil
	}
	t, err := time.Parse(canonicalLayout, s)
	if err != nil {
		return CanonicalDate{}, fmt.Errorf("parse canonical date %q: %w", s, err)
	}
	return FromTime(t), nil
}

func (d CanonicalDate) IsKnown() bool { return d.known }

func (d CanonicalDate) Year() int { return d.year }

func (d CanonicalDate) Month() time.Month { return d.month }

func (d CanonicalDate) Day() int { return d.day }

// String returns YYYY-MM-DD or "unknown".
func (d CanonicalDate) String() string {
	if !d.known {
		return Unknown
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.year, int(d.month), d.day)
}

// Time returns midnight of the date in loc. Unknown dates return the zero time.
func (d CanonicalDate) Time(loc *time.Location) time.Time {
	if !d.known {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

// AddMonths moves the date by n months. When the target month is shorter the
// day is clamped to its last day, so 2024-01-31 + 1 month is 2024-02-29.
func (d CanonicalDate) AddMonths(n int) CanonicalDate {
	if !d.known {
		return d
	}
	first := time.Date(d.year, d.month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := d.day
	if day > last {
		day = last
	}
	return CanonicalDate{year: first.Year(), month: first.Month(), day: day, known: true}
}

// AddDays moves the date by n days.
func (d CanonicalDate) AddDays(n int) CanonicalDate {
	if !d.known {
		return d
	}
	return FromTime(d.Time(time.UTC).AddDate(0, 0, n))
}

func (d CanonicalDate) compare(other CanonicalDate) int {
	switch {
	case d.year != other.year:
		return cmpInt(d.year, other.year)
	case d.month != other.month:
		return cmpInt(int(d.month), int(other.month))
	default:
		return cmpInt(d.day, other.day)
	}
}

// Before reports whether d is strictly before other. Unknown dates are never
// before or after anything.
func (d CanonicalDate) Before(other CanonicalDate) bool {
	return d.known && other.known && d.compare(other) < 0
}

// After reports whether d is strictly after other.
func (d CanonicalDate) After(other CanonicalDate) bool {
	return d.known && other.known && d.compare(other) > 0
}

// Equal reports whether both dates are known and name the same day.
func (d CanonicalDate) Equal(other CanonicalDate) bool {
	return d.known && other.known && d.compare(other) == 0
}

func (d CanonicalDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *CanonicalDate) UnmarshalText(text []byte) error {
	parsed, err := ParseCanonical(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d CanonicalDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *CanonicalDate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode canonical date: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
