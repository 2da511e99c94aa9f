package model

import "time"

// Booking statuses. A booking is created pending_payment, confirmed once the
// payment completes, and cancelled terminally.
const (
	StatusPendingPayment = "pending_payment"
	StatusConfirmed      = "confirmed"
	StatusCancelled      = "cancelled"
)

type Booking struct {
	ID              string
	PractitionerID  string
	ClientName      string
	ClientEmail     string
	StartTime       time.Time
	EndTime         time.Time
	Status          string
	PriceCents      int64
	Currency        string
	CalendarEventID string
	SeriesID        string // empty for one-off bookings
	OccurrenceIndex *int   // set iff SeriesID is set
	CancelledAt     *time.Time
	CancelReason    string
	CreatedAt       time.Time
}
