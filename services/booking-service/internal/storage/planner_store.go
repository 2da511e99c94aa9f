package storage

import (
	"context"
	"time"

	"github.com/davidriudor/citaflow/services/booking-service/internal/availability"
)

// PlannerStore presents the booking and practitioner repositories to the
// availability planner as one collaborator.
type PlannerStore struct {
	Bookings      *BookingRepository
	Practitioners *PractitionerRepository
}

func (s PlannerStore) BookedIntervals(ctx context.Context, practitionerID string, start, end time.Time) ([]availability.Interval, error) {
	return s.Bookings.BookedIntervals(ctx, practitionerID, start, end)
}

func (s PlannerStore) SystemEventIDs(ctx context.Context, practitionerID string) ([]string, error) {
	return s.Bookings.SystemEventIDs(ctx, practitionerID)
}

func (s PlannerStore) WeeklyRules(ctx context.Context, practitionerID string) ([]availability.Rule, error) {
	return s.Practitioners.WeeklyRules(ctx, practitionerID)
}
