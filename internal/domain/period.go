// Package domain contains the core value types shared by every module:
// periods, panel rows, prediction records, regime records and the derived
// stress/portfolio series. The domain layer is pure - no infrastructure
// dependencies.
package domain

import (
	"fmt"
	"time"
)

// Frequency is the observation frequency of a time series. It drives the
// annualization factors used by the portfolio statistics.
type Frequency string

const (
	// FrequencyMonthly - one observation per calendar month
	FrequencyMonthly Frequency = "monthly"
	// FrequencyDaily - one observation per calendar day
	FrequencyDaily Frequency = "daily"
)

// PeriodsPerYear returns the annualization factor for the frequency.
func (f Frequency) PeriodsPerYear() float64 {
	if f == FrequencyDaily {
		return 252
	}
	return 12
}

// Period is an ordered, comparable period key. Monthly periods are encoded as
// year*12 + (month-1), daily periods as days since the Unix epoch. The integer
// encoding round-trips through SQLite as INTEGER, which keeps period ordering
// intact in persisted tables (string keys would not sort chronologically).
type Period int64

// MonthPeriod builds a monthly Period from a calendar year and month.
func MonthPeriod(year int, month time.Month) Period {
	return Period(int64(year)*12 + int64(month) - 1)
}

// DayPeriod builds a daily Period from a calendar date (UTC midnight).
func DayPeriod(t time.Time) Period {
	return Period(t.UTC().Truncate(24*time.Hour).Unix() / 86400)
}

// ParseMonth parses a "2006-01" formatted month into a monthly Period.
func ParseMonth(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthPeriod(t.Year(), t.Month()), nil
}

// ParseDay parses a "2006-01-02" formatted date into a daily Period.
func ParseDay(s string) (Period, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return DayPeriod(t), nil
}

// ParsePeriod parses a period label for the given frequency.
func ParsePeriod(s string, f Frequency) (Period, error) {
	if f == FrequencyDaily {
		return ParseDay(s)
	}
	return ParseMonth(s)
}

// Year returns the calendar year of a monthly Period.
func (p Period) Year() int {
	return int(p / 12)
}

// Month returns the calendar month of a monthly Period.
func (p Period) Month() time.Month {
	return time.Month(p%12 + 1)
}

// FormatMonth renders a monthly Period as "2006-01".
func (p Period) FormatMonth() string {
	return fmt.Sprintf("%04d-%02d", p.Year(), int(p.Month()))
}

// FormatDay renders a daily Period as "2006-01-02".
func (p Period) FormatDay() string {
	return time.Unix(int64(p)*86400, 0).UTC().Format("2006-01-02")
}

// Label renders the period for the given frequency.
func (p Period) Label(f Frequency) string {
	if f == FrequencyDaily {
		return p.FormatDay()
	}
	return p.FormatMonth()
}

// Before reports whether p precedes other.
func (p Period) Before(other Period) bool {
	return p < other
}
