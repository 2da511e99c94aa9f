package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

var ErrInvalidMonth = errors.New("availability: month must be YYYY-MM")

const monthLayout = "2006-01"

// Store is the persistence-side collaborator consumed by the planner.
type Store interface {
	// BookedIntervals returns UTC intervals of non-cancelled bookings
	// overlapping [start, end).
	BookedIntervals(ctx context.Context, practitionerID string, start, end time.Time) ([]Interval, error)
	// SystemEventIDs returns the calendar event IDs this system created for
	// the practitioner, used to drop external mirrors of our own bookings.
	SystemEventIDs(ctx context.Context, practitionerID string) ([]string, error)
	// WeeklyRules returns the practitioner's configured availability rules,
	// possibly none.
	WeeklyRules(ctx context.Context, practitionerID string) ([]Rule, error)
}

// Calendar is the external calendar collaborator. Its failure is survivable:
// the planner degrades to booking-only busy data.
type Calendar interface {
	BusyEventsInRange(ctx context.Context, practitionerID string, start, end time.Time) ([]ExternalEvent, error)
}

// Planner computes a month of bookable slots for a practitioner.
type Planner struct {
	store    Store
	calendar Calendar
	logger   *slog.Logger
}

func NewPlanner(store Store, calendar Calendar, logger *slog.Logger) *Planner {
	return &Planner{store: store, calendar: calendar, logger: logger}
}

// MonthOptions tune one computation. Zero values fall back to defaults.
type MonthOptions struct {
	Timezone string        // IANA zone; defaults to UTC
	Fallback *Window       // global window applied when the practitioner has zero rules
	Duration time.Duration // slot length; defaults to DefaultSlotDuration
}

const DefaultSlotDuration = 60 * time.Minute

// MonthSlots maps local day keys (YYYY-MM-DD in the practitioner's zone) to
// that day's open slots.
type MonthSlots struct {
	SlotsByDay    map[string][]Interval
	DaysWithSlots []string
}

// MonthlySlots resolves the month's bookable slots. It issues exactly one
// range query per busy source for the whole month, buckets busy time by local
// calendar day, and walks each day's rule windows. An external calendar
// failure is logged and absorbed: the result is computed from persisted
// bookings only rather than failing the request.
func (p *Planner) MonthlySlots(ctx context.Context, practitionerID, month string, opts MonthOptions) (MonthSlots, error) {
	monthStartLocal, err := time.Parse(monthLayout, month)
	if err != nil {
		return MonthSlots{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	tz := opts.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return MonthSlots{}, fmt.Errorf("availability: unknown timezone %q: %w", tz, err)
	}
	duration := opts.Duration
	if duration <= 0 {
		duration = DefaultSlotDuration
	}

	year, m := monthStartLocal.Year(), monthStartLocal.Month()
	monthStart := time.Date(year, m, 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)

	rules, err := p.store.WeeklyRules(ctx, practitionerID)
	if err != nil {
		return MonthSlots{}, fmt.Errorf("availability: load rules: %w", err)
	}
	ruleSet := NewRuleSet(rules, opts.Fallback)
	if ruleSet.Empty() {
		return MonthSlots{}, ErrNoAvailability
	}

	// One bulk fetch per source for the whole month. Per-day fetches would
	// multiply round-trips and risk boundary mismatches between days.
	booked, err := p.store.BookedIntervals(ctx, practitionerID, monthStart.UTC(), monthEnd.UTC())
	if err != nil {
		return MonthSlots{}, fmt.Errorf("availability: load bookings: %w", err)
	}

	external := p.fetchExternal(ctx, practitionerID, monthStart.UTC(), monthEnd.UTC())

	busy := BusyFromBookings(booked)
	busy = append(busy, external...)
	buckets := BucketByLocalDay(busy, loc)

	result := MonthSlots{SlotsByDay: make(map[string][]Interval)}
	for day := monthStart; day.Before(monthEnd); day = day.AddDate(0, 0, 1) {
		key := day.Format(dayKeyLayout)
		result.SlotsByDay[key] = nil

		// Split-shift windows are resolved and filtered independently; they
		// may be non-adjacent.
		for _, window := range ruleSet.WindowsOn(day.Weekday()) {
			resolved, err := window.Resolve(day.Year(), day.Month(), day.Day(), loc)
			if err != nil {
				p.logger.Warn("skipping unresolvable availability window",
					"practitioner_id", practitionerID, "day", key, "err", err)
				continue
			}
			dayBusy := filterOverlapping(buckets[key], resolved)
			result.SlotsByDay[key] = append(result.SlotsByDay[key], SlotsInWindow(resolved, duration, dayBusy)...)
		}

		if len(result.SlotsByDay[key]) > 0 {
			result.DaysWithSlots = append(result.DaysWithSlots, key)
		}
	}
	sort.Strings(result.DaysWithSlots)
	return result, nil
}

// fetchExternal returns deduplicated external busy intervals, or none when
// the calendar collaborator fails (degraded mode: accuracy over outage).
func (p *Planner) fetchExternal(ctx context.Context, practitionerID string, start, end time.Time) []Busy {
	if p.calendar == nil {
		return nil
	}
	events, err := p.calendar.BusyEventsInRange(ctx, practitionerID, start, end)
	if err != nil {
		p.logger.Warn("external calendar unavailable; computing slots from bookings only",
			"practitioner_id", practitionerID, "err", err)
		return nil
	}
	ids, err := p.store.SystemEventIDs(ctx, practitionerID)
	if err != nil {
		p.logger.Warn("system event id lookup failed; external mirrors may double-count",
			"practitioner_id", practitionerID, "err", err)
		ids = nil
	}
	owned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		owned[id] = struct{}{}
	}
	return DedupExternal(events, owned)
}

func filterOverlapping(busy []Busy, window Interval) []Busy {
	var out []Busy
	for _, b := range busy {
		if b.Overlaps(window) {
			out = append(out, b)
		}
	}
	return out
}
