// Package backoff computes bounded exponential backoff durations with
// optional jitter. EventLogMonitor's stream loop holds one and resets it
// after every emitted event; no monitor waits on a computed duration or
// resubscribes after its event source closes, and TraceMonitor does not
// use this package.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Config holds exponential backoff parameters.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultConfig returns the backoff used by monitors when none is set.
func DefaultConfig() Config {
	return Config{
		Initial:    200 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Backoff tracks the current attempt count for one error stream and
// returns the duration to wait before the next attempt. It is not
// safe for concurrent use; each monitor worker owns its own instance.
type Backoff struct {
	cfg     Config
	attempt int
}

// New creates a Backoff with cfg, applying DefaultConfig for any zero fields.
func New(cfg Config) *Backoff {
	def := DefaultConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	return &Backoff{cfg: cfg}
}

// Next returns the duration to wait for the current attempt and advances
// the internal counter.
func (b *Backoff) Next() time.Duration {
	d := time.Duration(float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(b.attempt)))
	if d > b.cfg.Max || d <= 0 {
		d = b.cfg.Max
	}
	b.attempt++
	if b.cfg.Jitter {
		d = jitter(d)
	}
	return d
}

// Reset clears the attempt counter, e.g. after a successful poll.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	return d - time.Duration(spread/2) + time.Duration(rand.Float64()*spread)
}
