// Package clock supplies wall time to the engines and the single day-boundary
// comparison every date-gated rule goes through.
package clock

import (
	"sync"
	"time"
)

// DayLayout is the stored format of calendar-day markers.
const DayLayout = "2006-01-02"

type Clock interface {
	Now() time.Time
}

type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is deterministic and test-friendly.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

func NewFake(start time.Time) *Fake {
	return &Fake{t: start}
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// DayKey returns the UTC calendar day of t as a stored marker.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// SameDay reports whether a stored day marker names the calendar day of now.
// An empty marker never matches, so a first check always runs.
func SameDay(marker string, now time.Time) bool {
	return marker != "" && marker == DayKey(now)
}

// StartOfDay returns midnight UTC of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
