package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", got, epoch)
	}
	c.Advance(90 * time.Second)
	if got, want := c.Now(), epoch.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeTimerFiresOnlyWhenDue(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	tm := c.NewTimer(time.Hour)

	c.Advance(59 * time.Minute)
	select {
	case <-tm.C:
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(time.Minute)
	select {
	case got := <-tm.C:
		if !got.Equal(epoch.Add(time.Hour)) {
			t.Fatalf("fire time = %v", got)
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("PendingCount = %d, want 0", n)
	}
}

func TestFakeTimerStop(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	tm := c.NewTimer(time.Minute)
	if !tm.Stop() {
		t.Fatal("Stop() = false on armed timer")
	}
	if tm.Stop() {
		t.Fatal("second Stop() = true")
	}
	c.Advance(time.Hour)
	select {
	case <-tm.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	for _, d := range []time.Duration{0, -time.Second} {
		select {
		case <-c.After(d):
		default:
			t.Fatalf("After(%v) should fire immediately", d)
		}
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(5 * time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	if d, ok := c.NextDeadline(); !ok || !d.Equal(epoch.Add(5*time.Second)) {
		t.Fatalf("NextDeadline = %v, %v", d, ok)
	}
	c.Advance(5 * time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released")
	}
}
