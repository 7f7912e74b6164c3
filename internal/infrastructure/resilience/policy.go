package resilience

import (
	"math"
	"time"
)

type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	RetryJitter         time.Duration

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: time.Second,
		RetryMaxBackoff:     30 * time.Second,
		RetryMultiplier:     2.0,
		RetryJitter:         500 * time.Millisecond,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// WithMaxAttempts returns a copy of c with a different attempt budget.
func (c Config) WithMaxAttempts(attempts int) Config {
	c.RetryMaxAttempts = attempts
	return c
}

// Backoff is the delay after the given failed attempt (1-based), before
// jitter: min(max, initial * multiplier^(attempt-1)).
func (c Config) Backoff(attempt int) time.Duration {
	exponent := attempt - 1
	if exponent < 0 {
		exponent = 0
	}
	delay := float64(c.RetryInitialBackoff) * math.Pow(c.RetryMultiplier, float64(exponent))
	if delay >= float64(c.RetryMaxBackoff) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return c.RetryMaxBackoff
	}
	return time.Duration(delay)
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff <= 0 {
		out.RetryMaxBackoff = def.RetryMaxBackoff
	}
	out.RetryMaxBackoff = max(out.RetryMaxBackoff, out.RetryInitialBackoff)
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	out.RetryJitter = max(out.RetryJitter, 0)

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return out
}
