// Package retry decides whether a failed upload attempt is retried
// automatically and how long to wait before the next attempt.
package retry

import (
	"math/rand"
	"time"

	"uplink/internal/config"
	"uplink/internal/transport"
)

// Policy bounds automatic attempts and shapes backoff delays. Manual retries
// requested by a user are not subject to the attempt budget.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// FromConfig builds a policy from configuration.
func FromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelay) * time.Second,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelay) * time.Second,
		Jitter:      cfg.Retry.Jitter,
	}
}

// ShouldRetry reports whether the job should be requeued automatically after
// the given attempt failed with err. Terminal errors never retry; retryable
// errors retry while the attempt budget lasts.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if !transport.IsRetryable(err) {
		return false
	}
	return attempt < p.MaxAttempts
}

// Delay returns the backoff before the next attempt: base * 2^(n-1) for the
// attempt just completed, capped at MaxDelay, with up to Jitter fraction of
// random spread so many jobs recovering together don't reconnect in lockstep.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(delay) * p.Jitter
		delay += time.Duration(rand.Float64() * spread)
	}
	return delay
}
