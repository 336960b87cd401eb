package clock

import (
	"testing"
	"time"
)

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "early") })

	c.Advance(2 * time.Second)
	if len(order) != 1 || order[0] != "early" {
		t.Fatalf("after 2s order = %v, want [early]", order)
	}
	c.Advance(time.Second)
	if len(order) != 2 || order[1] != "late" {
		t.Fatalf("after 3s order = %v, want [early late]", order)
	}
}

func TestFakeClockStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if c.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", c.Pending())
	}
	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", c.Pending())
	}
}

func TestFakeClockChainedTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	c.AfterFunc(time.Second, func() {
		count++
		c.AfterFunc(time.Second, func() { count++ })
	})
	c.Advance(time.Second)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	c.Advance(time.Second)
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}
