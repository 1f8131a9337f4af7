package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	c := NewFake(start)
	c.Advance(2 * time.Hour)
	assert.Equal(t, start.Add(2*time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestSameDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	assert.True(t, SameDay("2026-03-01", now))
	assert.False(t, SameDay("2026-02-28", now))
	assert.False(t, SameDay("", now))
	assert.False(t, SameDay("2026-03-01", now.Add(2*time.Minute)))
}

func TestDayKeyUsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	local := time.Date(2026, 3, 2, 5, 0, 0, 0, loc)
	assert.Equal(t, "2026-03-01", DayKey(local))
}

func TestStartOfDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 17, 45, 12, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), StartOfDay(now))
}
