package availability

import (
	"errors"
	"time"
)

var ErrNoAvailability = errors.New("availability: no rules configured and no fallback window")

// Rule is one practitioner-configured local time window on a weekday.
// A weekday may carry several rules (split shifts).
type Rule struct {
	Weekday time.Weekday
	Window  Window
}

// RuleSet resolves which windows apply on a given weekday. Semantics follow
// practitioner configuration: once any rule exists, a weekday without rules
// is closed; with zero rules configured, the fallback window (if any) applies
// to every day.
type RuleSet struct {
	byWeekday map[time.Weekday][]Window
	fallback  *Window
	explicit  bool
}

func NewRuleSet(rules []Rule, fallback *Window) *RuleSet {
	s := &RuleSet{
		byWeekday: make(map[time.Weekday][]Window),
		fallback:  fallback,
		explicit:  len(rules) > 0,
	}
	for _, r := range rules {
		s.byWeekday[r.Weekday] = append(s.byWeekday[r.Weekday], r.Window)
	}
	return s
}

// WindowsOn returns the windows applicable on weekday, possibly none.
func (s *RuleSet) WindowsOn(weekday time.Weekday) []Window {
	if s.explicit {
		return s.byWeekday[weekday]
	}
	if s.fallback != nil {
		return []Window{*s.fallback}
	}
	return nil
}

// Empty reports whether the set can never produce a window.
func (s *RuleSet) Empty() bool {
	return !s.explicit && s.fallback == nil
}
