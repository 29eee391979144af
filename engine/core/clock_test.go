package core

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewClock()
	c.now = func() time.Time { return now }

	c.Update()
	if c.Elapsed() != 0 {
		t.Fatalf("stopped clock advanced to %s", c.Elapsed())
	}

	c.Start()
	now = now.Add(250 * time.Millisecond)
	c.Update()
	if c.Elapsed() != 250*time.Millisecond {
		t.Errorf("elapsed = %s, want 250ms", c.Elapsed())
	}

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	if c.Elapsed() != 250*time.Millisecond {
		t.Errorf("elapsed after Stop = %s, want 250ms", c.Elapsed())
	}

	c.Start()
	if c.Elapsed() != 0 {
		t.Errorf("Start did not reset the elapsed time")
	}
}
