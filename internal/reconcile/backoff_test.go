package reconcile

import (
	"testing"
	"time"
)

func TestNextBackoffDelayDoublesAndCaps(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	}
	cases := map[int]time.Duration{
		1: 50 * time.Millisecond,
		2: 100 * time.Millisecond,
		3: 200 * time.Millisecond,
		5: 800 * time.Millisecond,
		6: time.Second,
		9: time.Second,
	}
	for retry, want := range cases {
		if got := NextBackoffDelay(cfg, retry, nil); got != want {
			t.Fatalf("retry %d: got=%v want=%v", retry, got, want)
		}
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	cfg := DefaultBackoff
	if got := NextBackoffDelay(cfg, 1, func() float64 { return 0 }); got != 25*time.Millisecond {
		t.Fatalf("low jitter got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 1, func() float64 { return 0.999 }); got < 74*time.Millisecond || got > 75*time.Millisecond {
		t.Fatalf("high jitter got=%v", got)
	}
}

func TestNextBackoffDelayDisabled(t *testing.T) {
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("expected no delay, got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 0.5}, 4, nil); got != time.Millisecond {
		t.Fatalf("multiplier below 1 should hold steady, got=%v", got)
	}
}
