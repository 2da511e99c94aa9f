package availability

import "time"

// BusySource distinguishes where a busy interval came from.
type BusySource string

const (
	SourceBooking  BusySource = "booking"
	SourceExternal BusySource = "external"
)

// Busy is a time range that excludes slot generation. ExternalID is set only
// for externally synced calendar events.
type Busy struct {
	Interval
	Source     BusySource
	ExternalID string
}

// ExternalEvent is a busy event fetched from the practitioner's synced
// calendar.
type ExternalEvent struct {
	Interval
	ID string
}

// DedupExternal converts external events to busy intervals, dropping events
// whose ID belongs to a calendar event this system created. Those events
// mirror bookings that are already counted from the persistence side; keeping
// both would attribute the same appointment twice.
func DedupExternal(events []ExternalEvent, systemOwned map[string]struct{}) []Busy {
	var out []Busy
	for _, ev := range events {
		if !ev.Valid() {
			continue
		}
		if _, owned := systemOwned[ev.ID]; owned {
			continue
		}
		out = append(out, Busy{Interval: ev.Interval, Source: SourceExternal, ExternalID: ev.ID})
	}
	return out
}

// BusyFromBookings wraps persisted booking intervals as busy time.
func BusyFromBookings(bookings []Interval) []Busy {
	var out []Busy
	for _, iv := range bookings {
		if !iv.Valid() {
			continue
		}
		out = append(out, Busy{Interval: iv, Source: SourceBooking})
	}
	return out
}

const dayKeyLayout = "2006-01-02"

// DayKey renders t's calendar date in loc, the map key used for per-day
// bucketing and for the monthly slot response.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayKeyLayout)
}

// BucketByLocalDay assigns each busy interval to every local calendar day it
// touches. An event running past local midnight lands in both days' buckets,
// since the monthly orchestrator iterates local days. The interval itself is
// not split; overlap against a day's resolved window filters precisely later.
func BucketByLocalDay(items []Busy, loc *time.Location) map[string][]Busy {
	buckets := make(map[string][]Busy)
	for _, b := range items {
		if !b.Valid() {
			continue
		}
		day := b.Start.In(loc)
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
		// End is exclusive, so an event ending exactly at local midnight does
		// not touch the next day.
		last := b.End.Add(-time.Nanosecond).In(loc)
		lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc)
		for !day.After(lastDay) {
			key := day.Format(dayKeyLayout)
			buckets[key] = append(buckets[key], b)
			day = day.AddDate(0, 0, 1)
		}
	}
	return buckets
}
