package availability

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q) failed: %v", name, err)
	}
	return loc
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "09:00", want: TimeOfDay{9, 0}},
		{in: "23:45", want: TimeOfDay{23, 45}},
		{in: "09:00:00.000000", want: TimeOfDay{9, 0}},
		{in: "9am", wantErr: true},
		{in: "", wantErr: true},
		{in: "25:00", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseTimeOfDay(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseTimeOfDay(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWindowResolve(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	w := Window{From: TimeOfDay{9, 0}, To: TimeOfDay{17, 30}}

	iv, err := w.Resolve(2026, time.January, 12, madrid)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// Madrid is UTC+1 in January.
	if !iv.Start.Equal(time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("start: got %s", iv.Start)
	}
	if !iv.End.Equal(time.Date(2026, 1, 12, 16, 30, 0, 0, time.UTC)) {
		t.Fatalf("end: got %s", iv.End)
	}
}

func TestWindowResolveRejectsInverted(t *testing.T) {
	w := Window{From: TimeOfDay{17, 0}, To: TimeOfDay{9, 0}}
	if _, err := w.Resolve(2026, time.January, 12, time.UTC); err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestWindowResolveDST(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	w := Window{From: TimeOfDay{8, 0}, To: TimeOfDay{20, 0}}

	// 2026-03-29 is Madrid's spring-forward day: 02:00 jumps to 03:00.
	transition, err := w.Resolve(2026, time.March, 29, madrid)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	weekBefore, err := w.Resolve(2026, time.March, 22, madrid)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	weekAfter, err := w.Resolve(2026, time.April, 5, madrid)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := weekBefore.Duration(); got != 12*time.Hour {
		t.Fatalf("non-transition week: got %s", got)
	}
	if got := weekAfter.Duration(); got != 12*time.Hour {
		t.Fatalf("non-transition week: got %s", got)
	}
	// The whole window lies after the jump, so it keeps 12 elapsed hours but
	// shifts one UTC hour earlier vs. the week before.
	if got := transition.Start.Sub(weekBefore.Start); got != 7*24*time.Hour-time.Hour {
		t.Fatalf("expected transition start one UTC hour earlier than plain weekly stride, got %s", got)
	}

	// A window straddling the 02:00-03:00 gap loses the skipped hour.
	night := Window{From: TimeOfDay{1, 0}, To: TimeOfDay{4, 0}}
	gap, err := night.Resolve(2026, time.March, 29, madrid)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got := gap.Duration(); got != 2*time.Hour {
		t.Fatalf("expected 2 elapsed hours across spring-forward gap, got %s", got)
	}
}

func TestWindowResolveMonotonicAcrossDays(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	w := Window{From: TimeOfDay{8, 0}, To: TimeOfDay{20, 0}}

	var prev Interval
	// Spans the 2026 spring-forward (Mar 29) and fall-back (Oct 25) days.
	for _, span := range [][3]int{{3, 25, 31}, {10, 22, 28}} {
		month, from, to := time.Month(span[0]), span[1], span[2]
		prev = Interval{}
		for day := from; day <= to; day++ {
			iv, err := w.Resolve(2026, month, day, madrid)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if prev.Valid() {
				if !iv.Start.After(prev.Start) {
					t.Fatalf("%s %d: start not strictly increasing", month, day)
				}
				if iv.Overlaps(prev) {
					t.Fatalf("%s %d: window overlaps previous day", month, day)
				}
			}
			prev = iv
		}
	}
}
