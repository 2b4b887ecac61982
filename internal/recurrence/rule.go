// Package recurrence expands subscription schedules into concrete delivery dates.
package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var ErrInvalidRecurrence = errors.New("invalid_recurrence")

// Cycle is the persisted billing_cycle value of a subscription.
type Cycle string

const (
	CycleDaily   Cycle = "daily"
	CycleWeekly  Cycle = "weekly"
	CycleMonthly Cycle = "monthly"
)

// Rule is one of Daily, Weekly or Monthly.
type Rule interface {
	Cycle() Cycle
	// Days returns the persisted delivery_days representation.
	Days() []int
	due(day time.Time) bool
	check() error
}

type Daily struct{}

func (Daily) Cycle() Cycle { return CycleDaily }
func (Daily) Days() []int  { return nil }

func (Daily) due(time.Time) bool { return true }
func (Daily) check() error       { return nil }

// Weekly delivers on each weekday in the set. 0 is Sunday.
type Weekly struct {
	Weekdays WeekdaySet
}

func (w Weekly) Cycle() Cycle { return CycleWeekly }
func (w Weekly) Days() []int  { return w.Weekdays.Ints() }

func (w Weekly) due(day time.Time) bool { return w.Weekdays.Has(day.Weekday()) }

func (w Weekly) check() error {
	if w.Weekdays.Empty() {
		return fmt.Errorf("%w: weekly cycle needs at least one delivery day", ErrInvalidRecurrence)
	}
	return nil
}

// Monthly delivers once a month. Days past the end of a short month land on its last day.
type Monthly struct {
	Day int
}

func (m Monthly) Cycle() Cycle { return CycleMonthly }
func (m Monthly) Days() []int  { return []int{m.Day} }

func (m Monthly) due(day time.Time) bool {
	target := min(m.Day, daysIn(day.Year(), day.Month()))
	return day.Day() == target
}

func (m Monthly) check() error {
	if m.Day < 1 || m.Day > 31 {
		return fmt.Errorf("%w: day of month %d", ErrInvalidRecurrence, m.Day)
	}
	return nil
}

// MaxStoredMonthDay bounds the day-of-month accepted on subscription writes.
const MaxStoredMonthDay = 28

// ParseRule builds a rule from persisted columns and enforces the storage
// constraints: weekly days in 0..6, exactly one monthly day in 1..28.
func ParseRule(cycle string, days []int) (Rule, error) {
	switch Cycle(strings.ToLower(strings.TrimSpace(cycle))) {
	case CycleDaily:
		return Daily{}, nil
	case CycleWeekly:
		set, err := NewWeekdaySet(days...)
		if err != nil {
			return nil, err
		}
		rule := Weekly{Weekdays: set}
		if err := rule.check(); err != nil {
			return nil, err
		}
		return rule, nil
	case CycleMonthly:
		unique := slices.Compact(slices.Sorted(slices.Values(days)))
		if len(unique) != 1 {
			return nil, fmt.Errorf("%w: monthly cycle needs exactly one day of month", ErrInvalidRecurrence)
		}
		if unique[0] < 1 || unique[0] > MaxStoredMonthDay {
			return nil, fmt.Errorf("%w: day of month must be between 1 and %d", ErrInvalidRecurrence, MaxStoredMonthDay)
		}
		return Monthly{Day: unique[0]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown cycle %q", ErrInvalidRecurrence, cycle)
	}
}

// WeekdaySet is a bitmask of time.Weekday values.
type WeekdaySet uint8

func NewWeekdaySet(days ...int) (WeekdaySet, error) {
	var set WeekdaySet
	for _, d := range days {
		if d < 0 || d > 6 {
			return 0, fmt.Errorf("%w: weekday %d out of range", ErrInvalidRecurrence, d)
		}
		set |= 1 << uint(d)
	}
	return set, nil
}

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }
func (s WeekdaySet) Empty() bool             { return s == 0 }

func (s WeekdaySet) Ints() []int {
	out := make([]int, 0, 7)
	for d := 0; d < 7; d++ {
		if s.Has(time.Weekday(d)) {
			out = append(out, d)
		}
	}
	return out
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
