package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var epoch = time.Unix(1_700_000_000, 0)

func expectFired(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected warning to fire")
	}
}

func expectNotFired(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("Warning fired too early")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExpiryClock_IsExpired(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	clock := NewExpiryClock(fc)
	now := fc.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"past", mintToken(t, "alice", now.Add(-time.Second)), true},
		{"exactly now", mintToken(t, "alice", now), true},
		{"future", mintToken(t, "alice", now.Add(time.Hour)), false},
		{"malformed", "not-a-token", true},
		{"missing exp", rawToken(`{"sub":"alice"}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clock.IsExpired(tt.token); got != tt.want {
				t.Errorf("IsExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpiryClock_ArmInsideWindowFiresSynchronously(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	clock := NewExpiryClock(fc)

	var fired atomic.Int32
	clock.Arm(fc.Now().Add(200*time.Second), 300*time.Second, func() { fired.Add(1) })

	// No clock advance and no waiting: the callback already ran.
	if fired.Load() != 1 {
		t.Fatalf("Expected immediate warning, fired %d times", fired.Load())
	}
	if clock.State() != ClockFired {
		t.Errorf("Expected state fired, got %s", clock.State())
	}
}

func TestExpiryClock_FiresAtThreshold(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	clock := NewExpiryClock(fc)

	fired := make(chan struct{}, 2)
	clock.Arm(fc.Now().Add(3700*time.Second), 300*time.Second, func() { fired <- struct{}{} })

	if clock.State() != ClockArmed {
		t.Fatalf("Expected state armed, got %s", clock.State())
	}

	fc.Advance(3399 * time.Second)
	expectNotFired(t, fired)

	fc.Advance(time.Second)
	expectFired(t, fired)

	if clock.State() != ClockFired {
		t.Errorf("Expected state fired, got %s", clock.State())
	}
}

func TestExpiryClock_RearmHonorsOnlyLatest(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	clock := NewExpiryClock(fc)

	var firstCount, secondCount atomic.Int32
	fired := make(chan struct{}, 4)

	clock.Arm(fc.Now().Add(3700*time.Second), 300*time.Second, func() {
		firstCount.Add(1)
		fired <- struct{}{}
	})
	clock.Arm(fc.Now().Add(3800*time.Second), 300*time.Second, func() {
		secondCount.Add(1)
		fired <- struct{}{}
	})

	// Past the first arm's fire time
	fc.Advance(3450 * time.Second)
	expectNotFired(t, fired)

	// Past the second arm's fire time
	fc.Advance(100 * time.Second)
	expectFired(t, fired)

	fc.Advance(24 * time.Hour)
	expectNotFired(t, fired)

	if firstCount.Load() != 0 || secondCount.Load() != 1 {
		t.Errorf("Expected only the second arm to fire once, got first=%d second=%d",
			firstCount.Load(), secondCount.Load())
	}
}

func TestExpiryClock_DisarmCancels(t *testing.T) {
	fc := clockwork.NewFakeClockAt(epoch)
	clock := NewExpiryClock(fc)

	fired := make(chan struct{}, 1)
	clock.Arm(fc.Now().Add(time.Hour), 5*time.Minute, func() { fired <- struct{}{} })

	clock.Disarm()
	clock.Disarm()

	if clock.State() != ClockIdle {
		t.Errorf("Expected state idle, got %s", clock.State())
	}

	fc.Advance(2 * time.Hour)
	expectNotFired(t, fired)
}
