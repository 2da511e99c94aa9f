package availability

import (
	"testing"
	"time"
)

func TestDedupExternal(t *testing.T) {
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	events := []ExternalEvent{
		{Interval: Interval{Start: base, End: base.Add(time.Hour)}, ID: "ours"},
		{Interval: Interval{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)}, ID: "theirs"},
		{Interval: Interval{Start: base, End: base}, ID: "degenerate"},
	}
	owned := map[string]struct{}{"ours": {}}

	busy := DedupExternal(events, owned)
	if len(busy) != 1 {
		t.Fatalf("expected 1 busy interval, got %d", len(busy))
	}
	if busy[0].ExternalID != "theirs" || busy[0].Source != SourceExternal {
		t.Fatalf("unexpected busy entry: %+v", busy[0])
	}
}

func TestBucketByLocalDay_MidnightCrossing(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	// 23:30 local on Feb 2 to 00:30 local on Feb 3 (Madrid is UTC+1 in Feb).
	start := time.Date(2026, 2, 2, 22, 30, 0, 0, time.UTC)
	items := []Busy{{
		Interval: Interval{Start: start, End: start.Add(time.Hour)},
		Source:   SourceExternal,
	}}

	buckets := BucketByLocalDay(items, madrid)
	if len(buckets["2026-02-02"]) != 1 {
		t.Fatalf("event missing from first local day: %v", buckets)
	}
	if len(buckets["2026-02-03"]) != 1 {
		t.Fatalf("event missing from second local day: %v", buckets)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
}

func TestBucketByLocalDay_EndAtMidnightExclusive(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	// 22:00-00:00 local: must not touch the next local day.
	start := time.Date(2026, 2, 2, 21, 0, 0, 0, time.UTC)
	items := []Busy{{Interval: Interval{Start: start, End: start.Add(2 * time.Hour)}}}

	buckets := BucketByLocalDay(items, madrid)
	if len(buckets) != 1 {
		t.Fatalf("expected single bucket, got %v", buckets)
	}
	if len(buckets["2026-02-02"]) != 1 {
		t.Fatalf("expected event on 2026-02-02, got %v", buckets)
	}
}

func TestBucketByLocalDay_UTCDayDiffersFromLocalDay(t *testing.T) {
	madrid := mustLoc(t, "Europe/Madrid")
	// 23:30 UTC on Feb 2 is already 00:30 local Feb 3 in Madrid.
	start := time.Date(2026, 2, 2, 23, 30, 0, 0, time.UTC)
	items := []Busy{{Interval: Interval{Start: start, End: start.Add(30 * time.Minute)}}}

	buckets := BucketByLocalDay(items, madrid)
	if len(buckets["2026-02-03"]) != 1 {
		t.Fatalf("expected attribution to the local day, got %v", buckets)
	}
}

func TestBusyFromBookings(t *testing.T) {
	base := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	got := BusyFromBookings([]Interval{
		{Start: base, End: base.Add(time.Hour)},
		{Start: base, End: base}, // dropped
	})
	if len(got) != 1 {
		t.Fatalf("expected 1 interval, got %d", len(got))
	}
	if got[0].Source != SourceBooking {
		t.Fatalf("expected booking source, got %q", got[0].Source)
	}
}
