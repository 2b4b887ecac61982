package recurrence

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func days(seq func(func(time.Time) bool)) []string {
	var out []string
	for d := range seq {
		out = append(out, d.Format(time.DateOnly))
	}
	return out
}

func TestExpandWeeklyMonWedFri(t *testing.T) {
	rule, err := ParseRule("weekly", []int{1, 3, 5})
	require.NoError(t, err)

	seq, err := Expand(rule, Window{Start: day("2023-12-01")}, day("2024-01-01"), day("2024-01-14"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"2024-01-01", "2024-01-03", "2024-01-05",
		"2024-01-08", "2024-01-10", "2024-01-12",
	}, days(seq))
}

func TestExpandIsRestartable(t *testing.T) {
	seq, err := Expand(Daily{}, Window{Start: day("2024-03-01")}, day("2024-03-01"), day("2024-03-03"))
	require.NoError(t, err)

	first := days(seq)
	second := days(seq)
	assert.Equal(t, []string{"2024-03-01", "2024-03-02", "2024-03-03"}, first)
	assert.Equal(t, first, second)
}

func TestExpandMonthlyClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		name string
		from string
		to   string
		want []string
	}{
		{name: "non_leap_february", from: "2023-02-01", to: "2023-02-28", want: []string{"2023-02-28"}},
		{name: "leap_february", from: "2024-02-01", to: "2024-02-29", want: []string{"2024-02-29"}},
		{name: "quarter", from: "2023-01-01", to: "2023-04-30", want: []string{"2023-01-30", "2023-02-28", "2023-03-30", "2023-04-30"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seq, err := Expand(Monthly{Day: 30}, Window{Start: day("2020-01-01")}, day(tc.from), day(tc.to))
			require.NoError(t, err)
			got := days(seq)
			assert.Equal(t, tc.want, got)
			assert.NotContains(t, got, "2023-03-01")
		})
	}
}

func TestExpandRespectsWindow(t *testing.T) {
	end := day("2024-01-05")
	seq, err := Expand(Daily{}, Window{Start: day("2024-01-03"), End: &end}, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04", "2024-01-05"}, days(seq))
}

func TestExpandEmptyWhenWindowEndsBeforeRange(t *testing.T) {
	end := day("2023-12-31")
	seq, err := Expand(Daily{}, Window{Start: day("2023-01-01"), End: &end}, day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Empty(t, days(seq))
}

func TestExpandStopsEarly(t *testing.T) {
	seq, err := Expand(Daily{}, Window{Start: day("2024-01-01")}, day("2024-01-01"), day("2099-12-31"))
	require.NoError(t, err)

	var got []time.Time
	for d := range seq {
		got = append(got, d)
		if len(got) == 3 {
			break
		}
	}
	assert.Len(t, got, 3)
}

func TestParseRuleRejectsInvalid(t *testing.T) {
	cases := []struct {
		name  string
		cycle string
		days  []int
	}{
		{name: "weekly_empty", cycle: "weekly"},
		{name: "weekly_out_of_range", cycle: "weekly", days: []int{7}},
		{name: "monthly_zero", cycle: "monthly", days: []int{0}},
		{name: "monthly_29", cycle: "monthly", days: []int{29}},
		{name: "monthly_two_days", cycle: "monthly", days: []int{1, 15}},
		{name: "monthly_none", cycle: "monthly"},
		{name: "unknown", cycle: "fortnightly", days: []int{1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRule(tc.cycle, tc.days)
			assert.ErrorIs(t, err, ErrInvalidRecurrence)
		})
	}
}

func TestExpandRejectsInvalidRule(t *testing.T) {
	_, err := Expand(Weekly{}, Window{Start: day("2024-01-01")}, day("2024-01-01"), day("2024-01-31"))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)

	_, err = Expand(Monthly{Day: 32}, Window{Start: day("2024-01-01")}, day("2024-01-01"), day("2024-01-31"))
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestParseRuleRoundTripsDays(t *testing.T) {
	rule, err := ParseRule("weekly", []int{5, 1, 3, 1})
	require.NoError(t, err)
	assert.Equal(t, CycleWeekly, rule.Cycle())
	assert.True(t, slices.Equal([]int{1, 3, 5}, rule.Days()))

	rule, err = ParseRule("MONTHLY", []int{12})
	require.NoError(t, err)
	assert.Equal(t, []int{12}, rule.Days())
}

func TestDue(t *testing.T) {
	rule := Weekly{Weekdays: 1 << time.Monday}
	w := Window{Start: day("2024-01-01")}
	assert.True(t, Due(rule, w, day("2024-01-08")))
	assert.False(t, Due(rule, w, day("2024-01-09")))
	assert.False(t, Due(rule, w, day("2023-12-25")))
}
