package clock

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("expected advanced time, got %s", got)
	}

	c.Set(start)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("expected reset time, got %s", got)
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	if loc := New().Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %s", loc)
	}
}
