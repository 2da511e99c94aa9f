package availability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeStore struct {
	booked   []Interval
	ownedIDs []string
	rules    []Rule

	bookingCalls int
}

func (f *fakeStore) BookedIntervals(_ context.Context, _ string, _, _ time.Time) ([]Interval, error) {
	f.bookingCalls++
	return f.booked, nil
}

func (f *fakeStore) SystemEventIDs(_ context.Context, _ string) ([]string, error) {
	return f.ownedIDs, nil
}

func (f *fakeStore) WeeklyRules(_ context.Context, _ string) ([]Rule, error) {
	return f.rules, nil
}

type fakeCalendar struct {
	events []ExternalEvent
	err    error
	calls  int
}

func (f *fakeCalendar) BusyEventsInRange(_ context.Context, _ string, _, _ time.Time) ([]ExternalEvent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mondayMorning() []Rule {
	return []Rule{{
		Weekday: time.Monday,
		Window:  Window{From: TimeOfDay{9, 0}, To: TimeOfDay{11, 0}},
	}}
}

// Single rule Mon 09:00-11:00 Europe/Madrid, 60-minute slots, nothing busy:
// exactly two slots per Monday at local 09:00 and 10:00.
func TestMonthlySlots_OpenMondays(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	store := &fakeStore{rules: mondayMorning()}
	cal := &fakeCalendar{}
	planner := NewPlanner(store, cal, discardLogger())

	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{
		Timezone: "Europe/Madrid",
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("MonthlySlots failed: %v", err)
	}

	// February 2026 has Mondays on 2, 9, 16, 23.
	wantDays := []string{"2026-02-02", "2026-02-09", "2026-02-16", "2026-02-23"}
	if len(got.DaysWithSlots) != len(wantDays) {
		t.Fatalf("expected %d open days, got %v", len(wantDays), got.DaysWithSlots)
	}
	for i, day := range wantDays {
		if got.DaysWithSlots[i] != day {
			t.Fatalf("day %d: expected %s, got %s", i, day, got.DaysWithSlots[i])
		}
		slots := got.SlotsByDay[day]
		if len(slots) != 2 {
			t.Fatalf("%s: expected 2 slots, got %d", day, len(slots))
		}
		for j, hour := range []int{9, 10} {
			local := slots[j].Start.In(madrid)
			if local.Hour() != hour || local.Minute() != 0 {
				t.Fatalf("%s slot %d: expected local %02d:00, got %s", day, j, hour, local)
			}
		}
	}

	// Tuesdays have rules for other days but none of their own: empty, no
	// fallback applied.
	if slots := got.SlotsByDay["2026-02-03"]; len(slots) != 0 {
		t.Fatalf("expected no Tuesday slots, got %d", len(slots))
	}

	if store.bookingCalls != 1 || cal.calls != 1 {
		t.Fatalf("expected exactly one bulk fetch per source, got bookings=%d calendar=%d",
			store.bookingCalls, cal.calls)
	}
}

// A 09:30-10:30 local booking knocks out both Monday candidates.
func TestMonthlySlots_BookingBlocksBothSlots(t *testing.T) {
	// Madrid is UTC+1 in February: 09:30 local is 08:30Z.
	booked := Interval{
		Start: time.Date(2026, 2, 2, 8, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC),
	}
	store := &fakeStore{rules: mondayMorning(), booked: []Interval{booked}}
	planner := NewPlanner(store, &fakeCalendar{}, discardLogger())

	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{
		Timezone: "Europe/Madrid",
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("MonthlySlots failed: %v", err)
	}
	if slots := got.SlotsByDay["2026-02-02"]; len(slots) != 0 {
		t.Fatalf("expected zero slots on the booked Monday, got %d", len(slots))
	}
	if slots := got.SlotsByDay["2026-02-09"]; len(slots) != 2 {
		t.Fatalf("other Mondays unaffected: expected 2 slots, got %d", len(slots))
	}
}

func TestMonthlySlots_ExternalEventBlocks(t *testing.T) {
	ev := ExternalEvent{
		Interval: Interval{
			Start: time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC), // 09:00 local
			End:   time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		},
		ID: "ext-1",
	}
	store := &fakeStore{rules: mondayMorning()}
	planner := NewPlanner(store, &fakeCalendar{events: []ExternalEvent{ev}}, discardLogger())

	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{
		Timezone: "Europe/Madrid",
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("MonthlySlots failed: %v", err)
	}
	slots := got.SlotsByDay["2026-02-02"]
	if len(slots) != 1 {
		t.Fatalf("expected 1 remaining slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected the 10:00 local slot to survive, got %s", slots[0].Start)
	}
}

// An external mirror of a system-created event must not change the outcome
// computed from the booking alone.
func TestMonthlySlots_SystemOwnedMirrorIgnored(t *testing.T) {
	booked := Interval{
		Start: time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}
	mirror := ExternalEvent{Interval: booked, ID: "gcal-ev-1"}
	store := &fakeStore{
		rules:    mondayMorning(),
		booked:   []Interval{booked},
		ownedIDs: []string{"gcal-ev-1"},
	}
	planner := NewPlanner(store, &fakeCalendar{events: []ExternalEvent{mirror}}, discardLogger())

	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{
		Timezone: "Europe/Madrid",
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("MonthlySlots failed: %v", err)
	}
	if slots := got.SlotsByDay["2026-02-02"]; len(slots) != 1 {
		t.Fatalf("expected exactly the 10:00 slot, got %d", len(slots))
	}
}

// Calendar outage degrades to bookings-only busy data instead of failing.
func TestMonthlySlots_DegradedMode(t *testing.T) {
	store := &fakeStore{rules: mondayMorning()}
	cal := &fakeCalendar{err: errors.New("calendar down")}
	planner := NewPlanner(store, cal, discardLogger())

	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{
		Timezone: "Europe/Madrid",
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("expected degraded-mode success, got %v", err)
	}
	if len(got.DaysWithSlots) != 4 {
		t.Fatalf("expected 4 open Mondays, got %v", got.DaysWithSlots)
	}
}

func TestMonthlySlots_FallbackWindow(t *testing.T) {
	store := &fakeStore{} // zero rules configured
	planner := NewPlanner(store, &fakeCalendar{}, discardLogger())

	fallback := &Window{From: TimeOfDay{10, 0}, To: TimeOfDay{12, 0}}
	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{
		Timezone: "Europe/Madrid",
		Fallback: fallback,
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("MonthlySlots failed: %v", err)
	}
	// Fallback applies to every one of February's 28 days.
	if len(got.DaysWithSlots) != 28 {
		t.Fatalf("expected 28 open days under global fallback, got %d", len(got.DaysWithSlots))
	}
}

func TestMonthlySlots_ConfigurationErrors(t *testing.T) {
	planner := NewPlanner(&fakeStore{}, &fakeCalendar{}, discardLogger())

	if _, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-13", MonthOptions{}); !errors.Is(err, ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
	if _, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-02", MonthOptions{}); !errors.Is(err, ErrNoAvailability) {
		t.Fatalf("expected ErrNoAvailability, got %v", err)
	}
}

// Slots on the spring-forward day still follow local wall-clock boundaries.
func TestMonthlySlots_DSTDay(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	rules := []Rule{{
		Weekday: time.Sunday,
		Window:  Window{From: TimeOfDay{8, 0}, To: TimeOfDay{20, 0}},
	}}
	store := &fakeStore{rules: rules}
	planner := NewPlanner(store, &fakeCalendar{}, discardLogger())

	got, err := planner.MonthlySlots(context.Background(), "prac-1", "2026-03", MonthOptions{
		Timezone: "Europe/Madrid",
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("MonthlySlots failed: %v", err)
	}

	for _, day := range []string{"2026-03-22", "2026-03-29"} {
		slots := got.SlotsByDay[day]
		if len(slots) != 12 {
			t.Fatalf("%s: expected 12 slots, got %d", day, len(slots))
		}
		first := slots[0].Start.In(madrid)
		if first.Hour() != 8 {
			t.Fatalf("%s: expected first slot at local 08:00, got %s", day, first)
		}
	}
	// Same wall-clock window, but the transition Sunday starts one UTC hour
	// earlier relative to a plain 7-day stride.
	before := got.SlotsByDay["2026-03-22"][0].Start
	during := got.SlotsByDay["2026-03-29"][0].Start
	if got := during.Sub(before); got != 7*24*time.Hour-time.Hour {
		t.Fatalf("expected DST-shifted UTC start, got offset %s", got)
	}
}
