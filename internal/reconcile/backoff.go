package reconcile

import (
	"math"
	"time"
)

// BackoffConfig shapes the pause between conflict retries.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff keeps the whole retry budget well under a second or two so it
// fits inside the invocation deadline.
var DefaultBackoff = BackoffConfig{
	InitialDelay: 50 * time.Millisecond,
	Multiplier:   2.0,
	MaxDelay:     time.Second,
	Jitter:       true,
}

// NextBackoffDelay returns the pause before retry number retry (1-based).
// With jitter the delay is scaled by a factor in [0.5, 1.5) drawn from rnd.
func NextBackoffDelay(cfg BackoffConfig, retry int, rnd func() float64) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	if retry < 1 {
		retry = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(retry-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rnd != nil {
			f = 0.5 + rnd()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}
