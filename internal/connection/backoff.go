package connection

import "time"

// Backoff defines reconnect backoff behavior.
type Backoff struct {
	// Floor is the first delay and the value restored after a successful open.
	Floor time.Duration
	// Cap bounds the nominal delay.
	Cap time.Duration
	// Jitter adds up to this fraction of the nominal delay (0-1).
	Jitter float64
}

// DefaultBackoff waits 1s, 2s, 4s ... capped at 30s, plus up to 50% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Floor:  1 * time.Second,
		Cap:    30 * time.Second,
		Jitter: 0.5,
	}
}

func (b Backoff) normalized() Backoff {
	if b.Floor <= 0 {
		b.Floor = time.Second
	}
	if b.Cap < b.Floor {
		b.Cap = b.Floor
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Jitter > 1 {
		b.Jitter = 1
	}
	return b
}

// Delay returns the wait for the current backoff: min(current, Cap) plus
// rnd*Jitter of that, where rnd is in [0, 1).
func (b Backoff) Delay(current time.Duration, rnd float64) time.Duration {
	nominal := current
	if nominal > b.Cap {
		nominal = b.Cap
	}
	if rnd <= 0 || b.Jitter <= 0 {
		return nominal
	}
	return nominal + time.Duration(rnd*b.Jitter*float64(nominal))
}

// Next doubles current, bounded by Cap.
func (b Backoff) Next(current time.Duration) time.Duration {
	next := current * 2
	if next > b.Cap || next <= 0 {
		return b.Cap
	}
	return next
}
