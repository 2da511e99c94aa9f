package availability

import (
	"testing"
	"time"
)

func TestSlotsInWindow_Basic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	window := Interval{Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)}

	busy := []Busy{
		{Interval: Interval{Start: day.Add(9*time.Hour + 15*time.Minute), End: day.Add(9*time.Hour + 30*time.Minute)}, Source: SourceBooking},
	}

	slots := SlotsInWindow(window, 15*time.Minute, busy)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	if !slots[1].Start.Equal(day.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected second slot 09:30, got %s", slots[1].Start.Format(time.RFC3339))
	}
}

func TestSlotsInWindow_ExactBoundaryFit(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	window := Interval{Start: start, End: start.Add(2 * time.Hour)}

	slots := SlotsInWindow(window, time.Hour, nil)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[1].End.Equal(window.End) {
		t.Fatalf("last slot should end exactly at window end, got %s", slots[1].End)
	}
}

func TestSlotsInWindow_RemainderTooShort(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	window := Interval{Start: start, End: start.Add(90 * time.Minute)}

	slots := SlotsInWindow(window, time.Hour, nil)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].End.Equal(start.Add(time.Hour)) {
		t.Fatalf("slot must not spill past the aligned stride: %s", slots[0].End)
	}
}

func TestSlotsInWindow_BusyTouchingBoundaryDoesNotBlock(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	window := Interval{Start: start, End: start.Add(2 * time.Hour)}

	// Half-open semantics: busy ending exactly at 10:00 does not collide with
	// the 10:00-11:00 slot.
	busy := []Busy{
		{Interval: Interval{Start: start.Add(-time.Hour), End: start.Add(time.Hour)}},
	}
	slots := SlotsInWindow(window, time.Hour, busy)
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Start.Equal(start.Add(time.Hour)) {
		t.Fatalf("expected 10:00 slot, got %s", slots[0].Start)
	}
}

func TestSlotsInWindow_Invariants(t *testing.T) {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	window := Interval{Start: start, End: start.Add(12 * time.Hour)}
	busy := []Busy{
		{Interval: Interval{Start: start.Add(90 * time.Minute), End: start.Add(2 * time.Hour)}},
		{Interval: Interval{Start: start.Add(5 * time.Hour), End: start.Add(7*time.Hour + 10*time.Minute)}},
	}
	duration := 45 * time.Minute

	slots := SlotsInWindow(window, duration, busy)
	if len(slots) == 0 {
		t.Fatal("expected some slots")
	}
	for i, s := range slots {
		if s.Duration() != duration {
			t.Fatalf("slot %d: duration %s != %s", i, s.Duration(), duration)
		}
		if s.Start.Before(window.Start) || s.End.After(window.End) {
			t.Fatalf("slot %d: %v not contained in window", i, s)
		}
		for _, b := range busy {
			if s.Overlaps(b.Interval) {
				t.Fatalf("slot %d overlaps busy interval %v", i, b.Interval)
			}
		}
		if i > 0 && slots[i-1].Overlaps(s) {
			t.Fatalf("slots %d and %d overlap", i-1, i)
		}
	}
}

func TestSlotsInWindow_DegenerateInputs(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)
	if got := SlotsInWindow(Interval{Start: start, End: start}, time.Hour, nil); got != nil {
		t.Fatalf("empty window should yield nil, got %v", got)
	}
	if got := SlotsInWindow(Interval{Start: start, End: start.Add(time.Hour)}, 0, nil); got != nil {
		t.Fatalf("zero duration should yield nil, got %v", got)
	}
	if got := SlotsInWindow(Interval{Start: start, End: start.Add(30 * time.Minute)}, time.Hour, nil); got != nil {
		t.Fatalf("window shorter than duration should yield nil, got %v", got)
	}
}
