/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package invoke

import (
	"math/rand"
	"time"

	"github.com/acronis/go-appkit/retry"
	"github.com/cenkalti/backoff/v4"
)

// Policy defines the backoff strategy for calls to rate-limited endpoints:
// capped exponential growth with additive jitter. The pre-jitter delay
// after attempt n (numbering starts at 0) is min(MaxDelay, BaseDelay*2^n),
// with uniform jitter in [0, JitterFraction*delay) added on top.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

var _ retry.Policy = Policy{}

// NewBackOff implements retry.Policy.
func (p Policy) NewBackOff() backoff.BackOff {
	b := &throttleBackOff{policy: p}
	b.Reset()
	return b
}

// delayForAttempt returns the pre-jitter delay applied after the given
// zero-based attempt fails. The shift is clamped so large attempt counts
// cannot overflow time.Duration.
func (p Policy) delayForAttempt(attempt int) time.Duration {
	if attempt >= 62 || p.BaseDelay<<uint(attempt) < p.BaseDelay {
		return p.MaxDelay
	}
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// throttleBackOff adapts Policy to the backoff.BackOff interface.
// It stops after MaxAttempts attempts, i.e. it yields MaxAttempts-1 delays.
type throttleBackOff struct {
	policy  Policy
	attempt int
}

// NextBackOff implements backoff.BackOff.
func (b *throttleBackOff) NextBackOff() time.Duration {
	if b.attempt >= b.policy.MaxAttempts-1 {
		return backoff.Stop
	}
	d := b.policy.delayForAttempt(b.attempt)
	b.attempt++
	if b.policy.JitterFraction > 0 {
		d += time.Duration(rand.Float64() * b.policy.JitterFraction * float64(d)) //nolint:gosec // not a crypto use case
	}
	return d
}

// Reset implements backoff.BackOff.
func (b *throttleBackOff) Reset() {
	b.attempt = 0
}
