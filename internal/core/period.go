package core

import (
	"errors"
	"fmt"
	"time"
)

const periodKeyLayout = "2006-01"

const (
	PeriodDay    Period = "day"
	PeriodWeek   Period = "week"
	PeriodMonth  Period = "month"
	PeriodAll    Period = "all"
	PeriodCustom Period = "custom"
)

var ErrInvalidPeriod = errors.New("invalid period")

type (
	// PeriodKey identifies a calendar month, "YYYY-MM". It is the primary
	// key of a budget aggregate.
	PeriodKey string

	// Period names a query window relative to a reference time.
	Period string

	// DateRange is half-open: From <= t < To. A zero bound is unbounded.
	DateRange struct {
		From time.Time
		To   time.Time
	}
)

// PeriodKeyFor returns the period key of t, evaluated in UTC.
func PeriodKeyFor(t time.Time) PeriodKey {
	return PeriodKey(t.UTC().Format(periodKeyLayout))
}

func ParsePeriodKey(s string) (PeriodKey, error) {
	if _, err := time.Parse(periodKeyLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return PeriodKey(s), nil
}

func (p PeriodKey) Validate() error {
	_, err := ParsePeriodKey(string(p))
	return err
}

func (p PeriodKey) start() time.Time {
	t, err := time.Parse(periodKeyLayout, string(p))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Range returns the half-open bounds of the month.
func (p PeriodKey) Range() DateRange {
	s := p.start()
	return DateRange{From: s, To: s.AddDate(0, 1, 0)}
}

// Days returns the number of days in the month.
func (p PeriodKey) Days() int {
	r := p.Range()
	return int(r.To.Sub(r.From).Hours() / 24)
}

func (p PeriodKey) Previous() PeriodKey {
	return PeriodKeyFor(p.start().AddDate(0, -1, 0))
}

func (p PeriodKey) Next() PeriodKey {
	return PeriodKeyFor(p.start().AddDate(0, 1, 0))
}

func (p PeriodKey) String() string { return string(p) }

// Contains reports whether t falls in the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Days returns the number of whole days covered, or 0 for an unbounded range.
func (r DateRange) Days() int {
	if r.From.IsZero() || r.To.IsZero() {
		return 0
	}
	d := int(r.To.Sub(r.From).Hours() / 24)
	if d < 1 {
		d = 1
	}
	return d
}

func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return fmt.Errorf("%w: range end must be after start", ErrInvalidPeriod)
	}
	return nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResolveRange turns a named period into concrete bounds around now.
// Weeks start on Monday. PeriodCustom requires custom to be non-nil.
func ResolveRange(p Period, now time.Time, custom *DateRange) (DateRange, error) {
	if custom != nil {
		if err := custom.Validate(); err != nil {
			return DateRange{}, err
		}
		return DateRange{From: custom.From.UTC(), To: custom.To.UTC()}, nil
	}
	day := StartOfDay(now)
	switch p {
	case PeriodDay:
		return DateRange{From: day, To: day.AddDate(0, 0, 1)}, nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return DateRange{From: start, To: start.AddDate(0, 0, 7)}, nil
	case PeriodMonth, "":
		return PeriodKeyFor(now).Range(), nil
	case PeriodAll:
		return DateRange{}, nil
	case PeriodCustom:
		return DateRange{}, fmt.Errorf("%w: custom period needs explicit bounds", ErrInvalidPeriod)
	default:
		return DateRange{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(p))
	}
}
