/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package invoke

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestPolicyDelayForAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 2 * time.Second, MaxDelay: 600 * time.Second}

	t.Run("grows exponentially until the cap", func(t *testing.T) {
		require.Equal(t, 2*time.Second, p.delayForAttempt(0))
		require.Equal(t, 4*time.Second, p.delayForAttempt(1))
		require.Equal(t, 8*time.Second, p.delayForAttempt(2))
		require.Equal(t, 256*time.Second, p.delayForAttempt(7))
		require.Equal(t, 600*time.Second, p.delayForAttempt(9))
	})

	t.Run("monotonically non-decreasing", func(t *testing.T) {
		prev := time.Duration(0)
		for attempt := 0; attempt < 100; attempt++ {
			d := p.delayForAttempt(attempt)
			require.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
			require.LessOrEqual(t, d, p.MaxDelay, "attempt %d", attempt)
			prev = d
		}
	})

	t.Run("huge attempt numbers clamp to the cap instead of overflowing", func(t *testing.T) {
		require.Equal(t, p.MaxDelay, p.delayForAttempt(62))
		require.Equal(t, p.MaxDelay, p.delayForAttempt(1000))
	})
}

func TestThrottleBackOffJitter(t *testing.T) {
	p := Policy{MaxAttempts: 1000, BaseDelay: time.Second, MaxDelay: time.Hour, JitterFraction: 0.1}
	b := p.NewBackOff()

	// First delay must stay within [BaseDelay, BaseDelay*(1+JitterFraction)).
	for i := 0; i < 100; i++ {
		b.Reset()
		d := b.NextBackOff()
		require.GreaterOrEqual(t, d, time.Second)
		require.Less(t, d, time.Duration(float64(time.Second)*1.1))
	}
}

func TestThrottleBackOffStopsAfterBudget(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	b := p.NewBackOff()

	// MaxAttempts attempts mean MaxAttempts-1 delays in between.
	for i := 0; i < p.MaxAttempts-1; i++ {
		require.NotEqual(t, backoff.Stop, b.NextBackOff(), "delay %d", i)
	}
	require.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	require.NotEqual(t, backoff.Stop, b.NextBackOff())
}

func TestPolicyNoJitterIsDeterministic(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	b := p.NewBackOff()

	require.Equal(t, 100*time.Millisecond, b.NextBackOff())
	require.Equal(t, 200*time.Millisecond, b.NextBackOff())
	require.Equal(t, 400*time.Millisecond, b.NextBackOff())
	require.Equal(t, 800*time.Millisecond, b.NextBackOff())
	require.Equal(t, backoff.Stop, b.NextBackOff())
}
