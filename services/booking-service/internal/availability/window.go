package availability

import (
	"errors"
	"fmt"
	"time"
)

var ErrBadWindow = errors.New("availability: window end must be after start")

// TimeOfDay is a wall-clock HH:MM within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) before(other TimeOfDay) bool {
	if t.Hour != other.Hour {
		return t.Hour < other.Hour
	}
	return t.Minute < other.Minute
}

// ParseTimeOfDay accepts "HH:MM" (longer strings such as "09:00:00" are
// truncated, matching how Postgres renders time columns).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) > 5 {
		s = s[:5]
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("availability: invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// Window is a local wall-clock range within one day, From < To.
type Window struct {
	From TimeOfDay
	To   TimeOfDay
}

// ParseWindow builds a Window from two "HH:MM" strings and rejects
// inverted or empty ranges up front.
func ParseWindow(from, to string) (Window, error) {
	f, err := ParseTimeOfDay(from)
	if err != nil {
		return Window{}, err
	}
	t, err := ParseTimeOfDay(to)
	if err != nil {
		return Window{}, err
	}
	if !f.before(t) {
		return Window{}, fmt.Errorf("%w: %s-%s", ErrBadWindow, f, t)
	}
	return Window{From: f, To: t}, nil
}

// Resolve converts the window on the given local calendar date into absolute
// UTC instants. The conversion consults the zone's rules for that specific
// date, so the elapsed UTC duration of the same wall-clock window differs by
// the DST shift on transition days. Consecutive dates always yield strictly
// increasing, non-overlapping UTC windows.
func (w Window) Resolve(year int, month time.Month, day int, loc *time.Location) (Interval, error) {
	if !w.From.before(w.To) {
		return Interval{}, fmt.Errorf("%w: %s-%s", ErrBadWindow, w.From, w.To)
	}
	start := time.Date(year, month, day, w.From.Hour, w.From.Minute, 0, 0, loc)
	end := time.Date(year, month, day, w.To.Hour, w.To.Minute, 0, 0, loc)
	iv := Interval{Start: start.UTC(), End: end.UTC()}
	if !iv.Valid() {
		// A zone gap can swallow a very short window (e.g. 02:00-02:30 on a
		// spring-forward day); treat it as unavailable rather than inverted.
		return Interval{}, fmt.Errorf("%w: %s-%s collapses on %04d-%02d-%02d in %s",
			ErrBadWindow, w.From, w.To, year, month, day, loc)
	}
	return iv, nil
}
