package model

import "time"

const (
	SeriesActive = "active"
	SeriesEnded  = "ended"
)

// Series is a recurring booking rule owned by a practitioner. Occurrences are
// materialized as tagged bookings by the weekly extension job; the series row
// itself only changes on cancellation.
type Series struct {
	ID                    string
	PractitionerID        string
	ClientName            string
	ClientEmail           string
	Timezone              string
	StartLocal            time.Time // wall-clock anchor, date + HH:MM
	DurationMin           int
	IntervalWeeks         int
	Weekday               time.Weekday
	Status                string
	CalendarMasterEventID string
	NextRunAt             time.Time
	CreatedAt             time.Time
}
