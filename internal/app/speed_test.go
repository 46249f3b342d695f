package app

import (
	"testing"
	"time"
)

func TestSpeedMeter(t *testing.T) {
	clock := time.Unix(0, 0)
	m := newSpeedMeter()
	m.now = func() time.Time { return clock }

	if got := m.observe("a", 1000); got != 0 {
		t.Fatalf("first observation = %v, want 0", got)
	}
	clock = clock.Add(2 * time.Second)
	if got := m.observe("a", 5000); got != 2000 {
		t.Fatalf("speed = %v, want 2000", got)
	}

	m.reset("a", 5000)
	clock = clock.Add(time.Second)
	if got := m.observe("a", 5500); got != 500 {
		t.Fatalf("speed after reset = %v, want 500", got)
	}
	if got := m.observe("b", 10); got != 0 {
		t.Fatalf("unrelated item = %v, want 0", got)
	}
}
