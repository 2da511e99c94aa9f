// Package recurrence expands weekly and bi-weekly booking series rules into
// concrete UTC occurrences. Expansion is pure and restartable: the same rule
// always yields the same UTC instants for the same occurrence indices, so the
// weekly extension job can recompute instead of remembering.
package recurrence

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrBadTimezone = errors.New("recurrence: unknown timezone")
	ErrBadInterval = errors.New("recurrence: interval must be 1 or 2 weeks")
	ErrBadDuration = errors.New("recurrence: duration must be positive")
)

// Rule describes a recurring series: a local wall-clock anchor, a fixed
// weekday, and a 1- or 2-week stride.
type Rule struct {
	Timezone      string
	StartLocal    time.Time // wall-clock anchor; only its date and time-of-day matter
	DurationMin   int
	IntervalWeeks int
	Weekday       time.Weekday
}

// Occurrence is one expanded instance of a rule. Index is zero-based and
// counted from the rule anchor, independent of any query window.
type Occurrence struct {
	Index    int
	StartUTC time.Time
	EndUTC   time.Time
}

func (r Rule) Validate() error {
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("%w: %q", ErrBadTimezone, r.Timezone)
	}
	if r.IntervalWeeks != 1 && r.IntervalWeeks != 2 {
		return fmt.Errorf("%w: got %d", ErrBadInterval, r.IntervalWeeks)
	}
	if r.DurationMin <= 0 {
		return fmt.Errorf("%w: got %d", ErrBadDuration, r.DurationMin)
	}
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("recurrence: invalid weekday %d", r.Weekday)
	}
	return nil
}

// LocalAnchor returns occurrence 0's local start: the rule's time-of-day on
// the first day on or after StartLocal's date that falls on the rule weekday.
func LocalAnchor(r Rule) (time.Time, error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimezone, r.Timezone)
	}
	anchor := time.Date(
		r.StartLocal.Year(), r.StartLocal.Month(), r.StartLocal.Day(),
		r.StartLocal.Hour(), r.StartLocal.Minute(), 0, 0, loc,
	)
	for anchor.Weekday() != r.Weekday {
		anchor = anchor.AddDate(0, 0, 1)
	}
	return anchor, nil
}
