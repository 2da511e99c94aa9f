package series

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeBookings struct {
	indices map[string][]int
	failErr error
}

func (f *fakeBookings) MaxOccurrenceIndex(_ context.Context, seriesID string) (int, error) {
	max := -1
	for _, idx := range f.indices[seriesID] {
		if idx > max {
			max = idx
		}
	}
	return max, nil
}

func (f *fakeBookings) BookOccurrence(_ context.Context, req BookingRequest) (string, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	for _, idx := range f.indices[req.SeriesID] {
		if idx == req.OccurrenceIndex {
			return "", ErrAlreadyExtended
		}
	}
	f.indices[req.SeriesID] = append(f.indices[req.SeriesID], req.OccurrenceIndex)
	return "booking-" + req.SeriesID, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mondaySeries() Series {
	return Series{
		ID:             "s1",
		PractitionerID: "p1",
		ClientName:     "Marta",
		ClientEmail:    "marta@example.com",
		Timezone:       "Europe/Madrid",
		StartLocal:     time.Date(2026, 3, 23, 10, 0, 0, 0, time.UTC),
		DurationMin:    30,
		IntervalWeeks:  1,
		Weekday:        time.Monday,
	}
}

func TestExtendByOneSequentialRuns(t *testing.T) {
	fake := &fakeBookings{indices: map[string][]int{}}
	ext := NewExtender(fake, fake, testLogger())
	s := mondaySeries()

	idx0, err := ext.ExtendByOne(context.Background(), s)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	idx1, err := ext.ExtendByOne(context.Background(), s)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if idx0 != 0 || idx1 != 1 {
		t.Fatalf("expected indices 0 then 1, got %d then %d", idx0, idx1)
	}
	if got := fake.indices["s1"]; len(got) != 2 {
		t.Fatalf("expected 2 bookings, got %v", got)
	}
}

func TestExtendByOneKeepsLocalTimeAcrossDST(t *testing.T) {
	fake := &fakeBookings{indices: map[string][]int{}}
	var starts []time.Time
	booker := bookerFunc(func(_ context.Context, req BookingRequest) (string, error) {
		starts = append(starts, req.StartUTC)
		fake.indices[req.SeriesID] = append(fake.indices[req.SeriesID], req.OccurrenceIndex)
		return "b", nil
	})
	ext := NewExtender(fake, booker, testLogger())
	s := mondaySeries()

	for i := 0; i < 2; i++ {
		if _, err := ext.ExtendByOne(context.Background(), s); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	loc, _ := time.LoadLocation("Europe/Madrid")
	// Madrid springs forward on Mar 29 2026, between occurrences 0 and 1.
	for i, start := range starts {
		local := start.In(loc)
		if local.Hour() != 10 || local.Minute() != 0 {
			t.Fatalf("occurrence %d local time drifted: %s", i, local)
		}
	}
	if gap := starts[1].Sub(starts[0]); gap != 7*24*time.Hour-time.Hour {
		t.Fatalf("expected 7d minus the DST hour between UTC starts, got %s", gap)
	}
}

func TestExtendByOneDuplicateIsSuccess(t *testing.T) {
	fake := &fakeBookings{indices: map[string][]int{"s1": {0, 1}}}
	booker := bookerFunc(func(_ context.Context, _ BookingRequest) (string, error) {
		return "", ErrAlreadyExtended
	})
	ext := NewExtender(fake, booker, testLogger())

	idx, err := ext.ExtendByOne(context.Background(), mondaySeries())
	if err != nil {
		t.Fatalf("duplicate must not be an error: %v", err)
	}
	if idx != 2 {
		t.Fatalf("expected index 2, got %d", idx)
	}
}

func TestExtendByOneBookingFailure(t *testing.T) {
	fake := &fakeBookings{indices: map[string][]int{}}
	sentinel := errors.New("booking service down")
	booker := bookerFunc(func(_ context.Context, _ BookingRequest) (string, error) {
		return "", sentinel
	})
	ext := NewExtender(fake, booker, testLogger())

	if _, err := ext.ExtendByOne(context.Background(), mondaySeries()); !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped booking error, got %v", err)
	}
}

func TestExtendByOneRejectsBadRule(t *testing.T) {
	fake := &fakeBookings{indices: map[string][]int{}}
	ext := NewExtender(fake, fake, testLogger())
	s := mondaySeries()
	s.Timezone = "Mars/Olympus"

	if _, err := ext.ExtendByOne(context.Background(), s); err == nil {
		t.Fatal("expected validation error for unknown timezone")
	}
	if len(fake.indices["s1"]) != 0 {
		t.Fatal("no booking must be created for an invalid rule")
	}
}

type bookerFunc func(ctx context.Context, req BookingRequest) (string, error)

func (f bookerFunc) BookOccurrence(ctx context.Context, req BookingRequest) (string, error) {
	return f(ctx, req)
}
