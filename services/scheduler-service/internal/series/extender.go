package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davidriudor/citaflow/libs/recurrence"
)

// ErrAlreadyExtended reports that another run materialized the target
// occurrence first. Callers treat it as success.
var ErrAlreadyExtended = errors.New("series: occurrence already materialized")

// ErrOutsideWindow reports a rule that yields no occurrence inside its own
// interval window, which only happens on misconfigured rules.
var ErrOutsideWindow = errors.New("series: rule yields no occurrence in its window")

// Booker creates one occurrence booking. Implementations return
// ErrAlreadyExtended when the (series, index) pair is already taken.
type Booker interface {
	BookOccurrence(ctx context.Context, req BookingRequest) (string, error)
}

// BookingRequest is one materialization order for the booking service.
type BookingRequest struct {
	PractitionerID  string
	ClientName      string
	ClientEmail     string
	SeriesID        string
	OccurrenceIndex int
	StartUTC        time.Time
}

// IndexSource reads the highest occurrence index already booked.
type IndexSource interface {
	MaxOccurrenceIndex(ctx context.Context, seriesID string) (int, error)
}

// Extender appends exactly one occurrence to a series per call. It always
// derives the next index from current bookings, so reruns and concurrent
// runs converge instead of duplicating.
type Extender struct {
	indexes IndexSource
	booker  Booker
	logger  *slog.Logger
}

func NewExtender(indexes IndexSource, booker Booker, logger *slog.Logger) *Extender {
	return &Extender{indexes: indexes, booker: booker, logger: logger}
}

// ExtendByOne materializes occurrence max+1 for the series. A duplicate
// index reported by the booking layer means another run won the race; that
// is a successful outcome, not an error.
func (e *Extender) ExtendByOne(ctx context.Context, s Series) (int, error) {
	maxIdx, err := e.indexes.MaxOccurrenceIndex(ctx, s.ID)
	if err != nil {
		return 0, fmt.Errorf("read max occurrence index: %w", err)
	}
	nextIndex := maxIdx + 1

	rule := recurrence.Rule{
		Timezone:      s.Timezone,
		StartLocal:    s.StartLocal,
		DurationMin:   s.DurationMin,
		IntervalWeeks: s.IntervalWeeks,
		Weekday:       s.Weekday,
	}
	winStart, winEnd, err := recurrence.WindowForIndex(rule, nextIndex)
	if err != nil {
		return 0, fmt.Errorf("resolve window for index %d: %w", nextIndex, err)
	}
	occs, err := recurrence.Generate(rule, winStart, winEnd, 1)
	if err != nil {
		return 0, fmt.Errorf("expand occurrence %d: %w", nextIndex, err)
	}
	if len(occs) == 0 {
		return 0, fmt.Errorf("%w: series %s index %d", ErrOutsideWindow, s.ID, nextIndex)
	}
	occ := occs[0]
	if occ.Index != nextIndex {
		return 0, fmt.Errorf("expansion drift: wanted index %d, got %d", nextIndex, occ.Index)
	}

	_, err = e.booker.BookOccurrence(ctx, BookingRequest{
		PractitionerID:  s.PractitionerID,
		ClientName:      s.ClientName,
		ClientEmail:     s.ClientEmail,
		SeriesID:        s.ID,
		OccurrenceIndex: nextIndex,
		StartUTC:        occ.StartUTC,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExtended) {
			e.logger.Info("occurrence already materialized elsewhere",
				"series_id", s.ID, "occurrence_index", nextIndex)
			return nextIndex, nil
		}
		return 0, fmt.Errorf("book occurrence %d: %w", nextIndex, err)
	}

	e.logger.Info("series extended",
		"series_id", s.ID, "occurrence_index", nextIndex, "start_utc", occ.StartUTC)
	return nextIndex, nil
}
