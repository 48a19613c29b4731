package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []int
	c.AfterFunc(20*time.Millisecond, func() { order = append(order, 2) })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, 1) })
	stopped := c.AfterFunc(15*time.Millisecond, func() { order = append(order, 99) })
	if !stopped.Stop() {
		t.Errorf("Stop on a pending timer returned false")
	}

	c.Advance(5 * time.Millisecond)
	if len(order) != 0 {
		t.Errorf("Timers fired early: %v", order)
	}
	c.Advance(20 * time.Millisecond)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("Timers fired as %v, want [1 2]", order)
	}
	if c.Pending() != 0 {
		t.Errorf("%d timers still pending", c.Pending())
	}
}

func TestFakeNowInsideCallback(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(time.Second, func() { seen = c.Now() })
	c.Advance(3 * time.Second)
	if !seen.Equal(start.Add(time.Second)) {
		t.Errorf("Callback saw %v, want deadline time", seen)
	}
	if !c.Now().Equal(start.Add(3 * time.Second)) {
		t.Errorf("Clock ended at %v", c.Now())
	}
}

func TestFakeChainedTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := 0
	var again func()
	again = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(10*time.Millisecond, again)
		}
	}
	c.AfterFunc(10*time.Millisecond, again)
	c.Advance(100 * time.Millisecond)
	if fired != 3 {
		t.Errorf("Chained timer fired %d times, want 3", fired)
	}
}
