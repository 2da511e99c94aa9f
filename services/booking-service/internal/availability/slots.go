package availability

import "time"

// SlotsInWindow returns candidate slots of exactly duration inside the
// half-open window, stepping by duration from the window start. A candidate
// is emitted only if it overlaps no busy interval; the last candidate may end
// exactly at the window end. The stride equals the duration: slots never
// overlap each other and sub-duration granularity is not supported.
func SlotsInWindow(window Interval, duration time.Duration, busy []Busy) []Interval {
	if duration <= 0 || !window.Valid() {
		return nil
	}

	var slots []Interval
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(duration) {
		candidate := Interval{Start: t, End: t.Add(duration)}
		if !overlapsAny(candidate, busy) {
			slots = append(slots, candidate)
		}
	}
	return slots
}

func overlapsAny(candidate Interval, busy []Busy) bool {
	for _, b := range busy {
		if candidate.Overlaps(b.Interval) {
			return true
		}
	}
	return false
}
