package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 2024-01-01 20:00 UTC is already 2024-01-02 in IST.
	at := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), StartOfDay(at, loc))
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), StartOfDay(at, nil))
}

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	c.Advance(36 * time.Hour)
	assert.Equal(t, start.Add(36*time.Hour), c.Now())
}
