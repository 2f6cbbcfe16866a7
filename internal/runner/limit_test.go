package runner

import "testing"

func TestLimitPauseResume(t *testing.T) {
	l := NewLimit(4)
	var nudges int
	l.attach(func() { nudges++ })

	l.Pause()
	if !l.Paused() || l.Get() != 0 {
		t.Fatalf("after Pause: Get() = %d", l.Get())
	}
	l.Pause()
	l.Resume()
	if l.Get() != 4 {
		t.Fatalf("Resume restored %d, want 4", l.Get())
	}
	if nudges != 1 {
		t.Fatalf("nudges = %d, want 1", nudges)
	}

	// Resume on a running limit is a no-op.
	l.Resume()
	if nudges != 1 {
		t.Fatalf("nudges = %d, want 1", nudges)
	}
}

func TestLimitStartsPausedAtZero(t *testing.T) {
	l := NewLimit(0)
	if !l.Paused() {
		t.Fatal("expected paused")
	}
	l.Resume()
	if l.Get() != 1 {
		t.Fatalf("Get() = %d, want 1", l.Get())
	}
}

func TestLimitSet(t *testing.T) {
	l := NewLimit(2)
	var nudges int
	l.attach(func() { nudges++ })

	l.Set(-3)
	if l.Get() != 0 || nudges != 0 {
		t.Fatalf("Set(-3): Get() = %d, nudges = %d", l.Get(), nudges)
	}
	l.Set(8)
	if l.Get() != 8 || nudges != 1 {
		t.Fatalf("Set(8): Get() = %d, nudges = %d", l.Get(), nudges)
	}

	l.attach(nil)
	l.Set(9)
	if nudges != 1 {
		t.Fatalf("detached limit nudged")
	}
}
