package recurrence

import (
	"testing"
	"time"
)

func mondayRule(intervalWeeks int) Rule {
	return Rule{
		Timezone:      "Europe/Madrid",
		StartLocal:    time.Date(2026, 3, 23, 10, 0, 0, 0, time.UTC), // a Monday, wall-clock only
		DurationMin:   30,
		IntervalWeeks: intervalWeeks,
		Weekday:       time.Monday,
	}
}

func TestGenerateWeekly(t *testing.T) {
	rule := mondayRule(1)
	win0 := time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC)
	occs, err := Generate(rule, win0, win0.AddDate(0, 0, 28), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(occs) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occs))
	}
	for i, occ := range occs {
		if occ.Index != i {
			t.Fatalf("expected contiguous indices, got %d at position %d", occ.Index, i)
		}
		if !occ.EndUTC.Equal(occ.StartUTC.Add(30 * time.Minute)) {
			t.Fatalf("occurrence %d duration mismatch: %s..%s", i, occ.StartUTC, occ.EndUTC)
		}
	}
	// Mar 29 2026 is Madrid's spring-forward Sunday: occurrence 0 is CET
	// (UTC+1), occurrence 1 onward CEST (UTC+2). Local time stays 10:00.
	if got := occs[0].StartUTC; !got.Equal(time.Date(2026, 3, 23, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurrence 0: expected 09:00Z, got %s", got)
	}
	if got := occs[1].StartUTC; !got.Equal(time.Date(2026, 3, 30, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurrence 1: expected 08:00Z after DST shift, got %s", got)
	}
}

func TestGenerateBiWeekly(t *testing.T) {
	rule := mondayRule(2)
	win0 := time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC)
	occs, err := Generate(rule, win0, win0.AddDate(0, 0, 56), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(occs) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(occs))
	}
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	for i, occ := range occs {
		local := occ.StartUTC.In(loc)
		if local.Hour() != 10 || local.Minute() != 0 {
			t.Fatalf("occurrence %d: expected local 10:00, got %s", i, local)
		}
		if i > 0 {
			prev := occs[i-1].StartUTC.In(loc)
			if got := local.YearDay() - prev.YearDay(); got != 14 {
				t.Fatalf("expected 14 local days between occurrences, got %d", got)
			}
		}
	}
}

func TestGenerateRestartable(t *testing.T) {
	rule := mondayRule(1)
	win0 := time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC)

	full, err := Generate(rule, win0, win0.AddDate(0, 0, 70), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	again, err := Generate(rule, win0, win0.AddDate(0, 0, 70), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(full) != len(again) {
		t.Fatalf("expansion not deterministic: %d vs %d", len(full), len(again))
	}
	for i := range full {
		if !full[i].StartUTC.Equal(again[i].StartUTC) || !full[i].EndUTC.Equal(again[i].EndUTC) {
			t.Fatalf("expansion not deterministic at index %d", i)
		}
	}

	// A later one-interval window reproduces the same instants for its index.
	for _, idx := range []int{3, 7} {
		winStart, winEnd, err := WindowForIndex(rule, idx)
		if err != nil {
			t.Fatalf("WindowForIndex failed: %v", err)
		}
		occs, err := Generate(rule, winStart, winEnd, 1)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(occs) != 1 {
			t.Fatalf("expected exactly 1 occurrence in window for index %d, got %d", idx, len(occs))
		}
		if occs[0].Index != idx {
			t.Fatalf("expected index %d, got %d", idx, occs[0].Index)
		}
		if !occs[0].StartUTC.Equal(full[idx].StartUTC) {
			t.Fatalf("index %d instant differs between full and windowed expansion", idx)
		}
	}
}

func TestGenerateAnchorAlignsToWeekday(t *testing.T) {
	rule := mondayRule(1)
	// Anchor given as a Saturday; occurrence 0 must land on the next Monday.
	rule.StartLocal = time.Date(2026, 3, 21, 10, 0, 0, 0, time.UTC)
	anchor, err := LocalAnchor(rule)
	if err != nil {
		t.Fatalf("LocalAnchor failed: %v", err)
	}
	if anchor.Weekday() != time.Monday {
		t.Fatalf("expected Monday anchor, got %s", anchor.Weekday())
	}
	if anchor.Day() != 23 {
		t.Fatalf("expected Mar 23, got %s", anchor)
	}
}

func TestGenerateEmptyWindow(t *testing.T) {
	rule := mondayRule(1)
	// Window is the Tuesday..Sunday between occurrences.
	winStart := time.Date(2026, 3, 24, 0, 0, 0, 0, time.UTC)
	occs, err := Generate(rule, winStart, winStart.AddDate(0, 0, 6), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(occs) != 0 {
		t.Fatalf("expected no occurrences, got %d", len(occs))
	}
}

func TestGenerateRejectsBadRules(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Rule)
	}{
		{"timezone", func(r *Rule) { r.Timezone = "Mars/Olympus" }},
		{"interval", func(r *Rule) { r.IntervalWeeks = 3 }},
		{"duration", func(r *Rule) { r.DurationMin = 0 }},
	}
	for _, tc := range cases {
		rule := mondayRule(1)
		tc.mut(&rule)
		if _, err := Generate(rule, time.Now(), time.Now().AddDate(0, 0, 7), 1); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestOccurrenceAtMatchesGenerate(t *testing.T) {
	rule := mondayRule(2)
	win0 := time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC)
	occs, err := Generate(rule, win0, win0.AddDate(0, 0, 70), 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	for _, want := range occs {
		got, err := OccurrenceAt(rule, want.Index)
		if err != nil {
			t.Fatalf("OccurrenceAt(%d) failed: %v", want.Index, err)
		}
		if !got.StartUTC.Equal(want.StartUTC) || !got.EndUTC.Equal(want.EndUTC) {
			t.Fatalf("index %d: OccurrenceAt %s..%s, Generate %s..%s",
				want.Index, got.StartUTC, got.EndUTC, want.StartUTC, want.EndUTC)
		}
	}
	if _, err := OccurrenceAt(rule, -1); err == nil {
		t.Fatal("expected error for negative index")
	}
}
