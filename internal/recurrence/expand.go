package recurrence

import (
	"iter"
	"time"
)

// Window bounds a subscription in calendar days. A nil End is open-ended.
type Window struct {
	Start time.Time
	End   *time.Time
}

// Date truncates t to a UTC calendar day, keeping t's own year, month and day.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Expand yields the due dates of rule within [from, to] intersected with the
// window. The sequence is lazy and may be ranged over any number of times.
func Expand(rule Rule, window Window, from, to time.Time) (iter.Seq[time.Time], error) {
	if rule == nil {
		return nil, ErrInvalidRecurrence
	}
	if err := rule.check(); err != nil {
		return nil, err
	}

	lo := Date(from)
	if start := Date(window.Start); start.After(lo) {
		lo = start
	}
	hi := Date(to)
	if window.End != nil {
		if end := Date(*window.End); end.Before(hi) {
			hi = end
		}
	}

	return func(yield func(time.Time) bool) {
		for day := lo; !day.After(hi); day = day.AddDate(0, 0, 1) {
			if !rule.due(day) {
				continue
			}
			if !yield(day) {
				return
			}
		}
	}, nil
}

// Due reports whether rule schedules a delivery on day within the window.
func Due(rule Rule, window Window, day time.Time) bool {
	seq, err := Expand(rule, window, day, day)
	if err != nil {
		return false
	}
	for range seq {
		return true
	}
	return false
}
