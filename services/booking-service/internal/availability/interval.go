package availability

import "time"

// Interval is a half-open [Start, End) UTC time range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect:
// [a.Start,a.End) overlaps [b.Start,b.End) iff a.Start < b.End && b.Start < a.End.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}
