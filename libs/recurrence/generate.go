package recurrence

import (
	"fmt"
	"time"
)

// Generate expands rule into occurrences whose local start lies within
// [windowStartLocal, windowEndLocal), capped at maxCount (0 means no cap).
// Window bounds are wall-clock times re-interpreted in the rule's timezone.
//
// Stepping is done in local calendar days (AddDate), so the local start time
// stays at the rule's wall-clock time across DST transitions while the UTC
// instant shifts with the zone offset.
func Generate(rule Rule, windowStartLocal, windowEndLocal time.Time, maxCount int) ([]Occurrence, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	anchor, err := LocalAnchor(rule)
	if err != nil {
		return nil, err
	}
	loc := anchor.Location()
	winStart := rebase(windowStartLocal, loc)
	winEnd := rebase(windowEndLocal, loc)
	if !winEnd.After(winStart) {
		return nil, nil
	}

	stepDays := rule.IntervalWeeks * 7
	duration := time.Duration(rule.DurationMin) * time.Minute

	var out []Occurrence
	for idx := 0; ; idx++ {
		local := anchor.AddDate(0, 0, idx*stepDays)
		if !local.Before(winEnd) {
			break
		}
		if local.Before(winStart) {
			continue
		}
		out = append(out, Occurrence{
			Index:    idx,
			StartUTC: local.UTC(),
			EndUTC:   local.Add(duration).UTC(),
		})
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
	}
	return out, nil
}

// OccurrenceAt computes the single occurrence at index directly, without
// expanding a window. The extension job uses it to materialize exactly the
// next index after the highest one already booked.
func OccurrenceAt(rule Rule, index int) (Occurrence, error) {
	if err := rule.Validate(); err != nil {
		return Occurrence{}, err
	}
	if index < 0 {
		return Occurrence{}, fmt.Errorf("recurrence: negative occurrence index %d", index)
	}
	anchor, err := LocalAnchor(rule)
	if err != nil {
		return Occurrence{}, err
	}
	local := anchor.AddDate(0, 0, index*rule.IntervalWeeks*7)
	duration := time.Duration(rule.DurationMin) * time.Minute
	return Occurrence{
		Index:    index,
		StartUTC: local.UTC(),
		EndUTC:   local.Add(duration).UTC(),
	}, nil
}

// WindowForIndex returns the one-interval local window that contains exactly
// the occurrence at index: [anchor + index*step, anchor + (index+1)*step).
// Feeding it back into Generate with maxCount=1 yields that occurrence alone.
func WindowForIndex(rule Rule, index int) (time.Time, time.Time, error) {
	anchor, err := LocalAnchor(rule)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	stepDays := rule.IntervalWeeks * 7
	start := anchor.AddDate(0, 0, index*stepDays)
	return start, start.AddDate(0, 0, stepDays), nil
}

// rebase re-interprets t's wall-clock reading in loc.
func rebase(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
}
