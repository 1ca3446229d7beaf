package clock

import (
	"testing"
	"time"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Expected %v, got %v", start, c.Now())
	}

	got := c.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !got.Equal(want) {
		t.Errorf("Expected %v after Advance, got %v", want, got)
	}

	later := start.Add(time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Errorf("Expected %v after Set, got %v", later, c.Now())
	}
}

func TestSystemClockIsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Errorf("Expected UTC location, got %v", loc)
	}
}
