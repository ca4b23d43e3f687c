/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log/logtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*miniredis.Miniredis, *redis.Pool) {
	t.Helper()
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) { return redis.Dial("tcp", addr) },
	}
	t.Cleanup(func() { _ = pool.Close() })
	return srv, pool
}

func newTestCounter(t *testing.T, maxJobs int, leaseTTL time.Duration) (*Counter, *miniredis.Miniredis, *PrometheusMetrics) {
	t.Helper()
	srv, pool := newTestPool(t)
	cfg := &Config{MaxConcurrentJobs: maxJobs, LeaseTTL: config.TimeDuration(leaseTTL)}
	metrics := NewPrometheusMetrics()
	counter := NewCounterWithOpts(pool, cfg, "test", logtest.NewRecorder(), Opts{Metrics: metrics})
	return counter, srv, metrics
}

func TestCounterTryAdmit(t *testing.T) {
	ctx := context.Background()

	t.Run("admits until the cap and denies at it", func(t *testing.T) {
		counter, _, metrics := newTestCounter(t, 2, time.Minute)

		tok1, admitted, err := counter.TryAdmit(ctx)
		require.NoError(t, err)
		require.True(t, admitted)
		require.NotEmpty(t, tok1)

		_, admitted, err = counter.TryAdmit(ctx)
		require.NoError(t, err)
		require.True(t, admitted)

		_, admitted, err = counter.TryAdmit(ctx)
		require.NoError(t, err)
		require.False(t, admitted)

		count, err := counter.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		require.Equal(t, 2, int(testutil.ToFloat64(metrics.AdmittedTotal)))
		require.Equal(t, 1, int(testutil.ToFloat64(metrics.DeniedTotal.WithLabelValues(DenyReasonCap))))
	})

	t.Run("release frees capacity for the next job", func(t *testing.T) {
		counter, _, _ := newTestCounter(t, 1, time.Minute)

		token, admitted, err := counter.TryAdmit(ctx)
		require.NoError(t, err)
		require.True(t, admitted)

		_, admitted, err = counter.TryAdmit(ctx)
		require.NoError(t, err)
		require.False(t, admitted)

		counter.Release(ctx, token)
		require.Zero(t, counter.PendingReleases())

		_, admitted, err = counter.TryAdmit(ctx)
		require.NoError(t, err)
		require.True(t, admitted)
	})

	t.Run("never exceeds the cap under concurrent admits", func(t *testing.T) {
		const (
			capValue   = 10
			contenders = 50
		)
		counter, _, _ := newTestCounter(t, capValue, time.Minute)

		var wg sync.WaitGroup
		var mu sync.Mutex
		admittedCount := 0
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, admitted, err := counter.TryAdmit(ctx)
				require.NoError(t, err)
				if admitted {
					mu.Lock()
					admittedCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Equal(t, capValue, admittedCount)
		count, err := counter.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, capValue, count)
	})

	t.Run("fails closed when the store is unreachable", func(t *testing.T) {
		counter, srv, metrics := newTestCounter(t, 10, time.Minute)
		srv.Close()

		_, admitted, err := counter.TryAdmit(ctx)
		require.Error(t, err)
		require.False(t, admitted)
		require.Equal(t, 1, int(testutil.ToFloat64(
			metrics.DeniedTotal.WithLabelValues(DenyReasonStoreError))))
	})
}

func TestCounterLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	counter, _, _ := newTestCounter(t, 1, 30*time.Millisecond)

	token, admitted, err := counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)

	// A crashed dispatcher never releases; the lease must decay on its own.
	time.Sleep(60 * time.Millisecond)

	count, err := counter.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	_, admitted, err = counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)

	ok, err := counter.Extend(ctx, token)
	require.NoError(t, err)
	require.False(t, ok, "an expired lease cannot be extended")
}

func TestCounterExtend(t *testing.T) {
	ctx := context.Background()
	counter, _, _ := newTestCounter(t, 1, 30*time.Millisecond)

	token, admitted, err := counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)

	// Keep renewing past the original TTL.
	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		ok, extendErr := counter.Extend(ctx, token)
		require.NoError(t, extendErr)
		require.True(t, ok)
	}

	count, err := counter.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCounterCapOverride(t *testing.T) {
	ctx := context.Background()
	counter, _, _ := newTestCounter(t, 1, time.Minute)

	capValue, err := counter.Cap(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, capValue)

	require.NoError(t, counter.SetCap(ctx, 2))
	capValue, err = counter.Cap(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, capValue)

	_, admitted, err := counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)
	_, admitted, err = counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)
	_, admitted, err = counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.False(t, admitted)

	require.Error(t, counter.SetCap(ctx, 0))
}

func TestCounterPendingReleases(t *testing.T) {
	ctx := context.Background()
	counter, srv, metrics := newTestCounter(t, 2, time.Minute)

	token, admitted, err := counter.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, admitted)

	srv.SetError("store down")
	counter.Release(ctx, token)
	require.Equal(t, 1, counter.PendingReleases())
	require.Equal(t, 1, int(testutil.ToFloat64(metrics.ReleaseFailuresTotal)))
	require.Error(t, counter.FlushPendingReleases(ctx))
	require.Equal(t, 1, counter.PendingReleases())

	srv.SetError("")
	require.NoError(t, counter.FlushPendingReleases(ctx))
	require.Zero(t, counter.PendingReleases())

	count, err := counter.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
