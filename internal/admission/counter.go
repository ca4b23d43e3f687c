/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package admission implements the distributed concurrency counter that
// bounds the number of in-flight jobs across all dispatcher instances.
//
// The counter is represented as a Redis sorted set of lease tokens scored
// by their expiry time: the current value is the set cardinality, an
// admission adds a lease, a release removes it, and leases left behind by
// crashed dispatchers decay on their own once the lease TTL passes. All
// check-and-modify operations run as single Lua scripts, so concurrent
// dispatcher instances never race between the read and the write.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/xid"
)

const (
	leasesKeySuffix = ":admission:leases"
	capKeySuffix    = ":admission:cap"
)

// tryAdmitScript expires stale leases, reads the runtime cap override
// (falling back to the configured default) and grants a lease token iff
// the number of live leases is below the cap.
var tryAdmitScript = redis.NewScript(2, `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local cap = tonumber(redis.call('GET', KEYS[2]) or ARGV[4])
if redis.call('ZCARD', KEYS[1]) < cap then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

// countScript returns the number of live leases after expiring stale ones.
var countScript = redis.NewScript(1, `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return redis.call('ZCARD', KEYS[1])
`)

// extendScript renews a lease only if it still exists.
var extendScript = redis.NewScript(1, `
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

// Counter is a durable concurrency counter shared by all dispatcher
// instances. The in-process representation is stateless apart from the
// list of releases pending retry; it is safe to instantiate per call.
type Counter struct {
	pool    *redis.Pool
	cfg     *Config
	logger  log.FieldLogger
	metrics MetricsCollector

	leasesKey string
	capKey    string

	pendingMu       sync.Mutex
	pendingReleases []string
}

// Opts contains optional parameters for constructing a Counter.
type Opts struct {
	// Metrics is a collector of admission metrics.
	Metrics MetricsCollector
}

// NewCounter creates a new Counter backed by the passed Redis pool.
func NewCounter(pool *redis.Pool, cfg *Config, keyNamespace string, logger log.FieldLogger) *Counter {
	return NewCounterWithOpts(pool, cfg, keyNamespace, logger, Opts{})
}

// NewCounterWithOpts creates a new Counter with an ability to specify
// different optional parameters.
func NewCounterWithOpts(
	pool *redis.Pool, cfg *Config, keyNamespace string, logger log.FieldLogger, opts Opts,
) *Counter {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Counter{
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		leasesKey: keyNamespace + leasesKeySuffix,
		capKey:    keyNamespace + capKeySuffix,
	}
}

// TryAdmit atomically checks the counter against the cap and, if there is
// capacity, grants a lease token that must later be passed to Release.
// Any store error fails closed: the job is denied, never silently admitted.
func (c *Counter) TryAdmit(ctx context.Context) (token string, admitted bool, err error) {
	token = xid.New().String()
	now := time.Now()

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.metrics.IncDenied(DenyReasonStoreError)
		return "", false, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	res, err := redis.Int(tryAdmitScript.DoContext(ctx, conn,
		c.leasesKey, c.capKey,
		now.UnixMilli(),
		now.Add(time.Duration(c.cfg.LeaseTTL)).UnixMilli(),
		token,
		c.cfg.MaxConcurrentJobs,
	))
	if err != nil {
		c.metrics.IncDenied(DenyReasonStoreError)
		return "", false, fmt.Errorf("try admit: %w", err)
	}
	if res == 0 {
		c.metrics.IncDenied(DenyReasonCap)
		return "", false, nil
	}
	c.metrics.IncAdmitted()
	return token, true, nil
}

// Release atomically decrements the counter by removing the lease token.
// It never fails the caller: a failed release is logged and kept for the
// asynchronous retry flush, since permanently lost capacity is worse than
// a transient double-release.
func (c *Counter) Release(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := c.releaseOnce(ctx, token); err != nil {
		c.metrics.IncReleaseFailures()
		c.logger.Error("failed to release admission lease, will retry asynchronously",
			log.String("token", token), log.Error(err))
		c.pendingMu.Lock()
		c.pendingReleases = append(c.pendingReleases, token)
		c.pendingMu.Unlock()
	}
}

func (c *Counter) releaseOnce(ctx context.Context, token string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err = redis.DoContext(conn, ctx, "ZREM", c.leasesKey, token); err != nil {
		return fmt.Errorf("remove lease: %w", err)
	}
	return nil
}

// Extend renews the lease for a long-running execution. Returns false if
// the lease has already expired or been released.
func (c *Counter) Extend(ctx context.Context, token string) (bool, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	res, err := redis.Int(extendScript.DoContext(ctx, conn,
		c.leasesKey,
		token,
		time.Now().Add(time.Duration(c.cfg.LeaseTTL)).UnixMilli(),
	))
	if err != nil {
		return false, fmt.Errorf("extend lease: %w", err)
	}
	return res == 1, nil
}

// Count returns the current counter value (the number of live leases).
func (c *Counter) Count(ctx context.Context) (int, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	count, err := redis.Int(countScript.DoContext(ctx, conn, c.leasesKey, time.Now().UnixMilli()))
	if err != nil {
		return 0, fmt.Errorf("count leases: %w", err)
	}
	return count, nil
}

// Cap returns the effective admission cap: the runtime override if one is
// set, the configured default otherwise.
func (c *Counter) Cap(ctx context.Context) (int, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	capValue, err := redis.Int(redis.DoContext(conn, ctx, "GET", c.capKey))
	if err != nil {
		if err == redis.ErrNil {
			return c.cfg.MaxConcurrentJobs, nil
		}
		return 0, fmt.Errorf("get cap: %w", err)
	}
	return capValue, nil
}

// SetCap sets the runtime admission cap without redeploying dispatchers.
func (c *Counter) SetCap(ctx context.Context, capValue int) error {
	if capValue < 1 {
		return fmt.Errorf("cap must be at least 1, got %d", capValue)
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err = redis.DoContext(conn, ctx, "SET", c.capKey, capValue); err != nil {
		return fmt.Errorf("set cap: %w", err)
	}
	return nil
}

// FlushPendingReleases retries releases that failed earlier. Intended to
// be run by a periodic worker.
func (c *Counter) FlushPendingReleases(ctx context.Context) error {
	c.pendingMu.Lock()
	pending := c.pendingReleases
	c.pendingReleases = nil
	c.pendingMu.Unlock()

	var failed []string
	for _, token := range pending {
		if err := c.releaseOnce(ctx, token); err != nil {
			failed = append(failed, token)
		}
	}
	if len(failed) != 0 {
		c.pendingMu.Lock()
		c.pendingReleases = append(c.pendingReleases, failed...)
		c.pendingMu.Unlock()
		return fmt.Errorf("%d admission lease releases still pending", len(failed))
	}
	if len(pending) != 0 {
		c.logger.Info("flushed pending admission lease releases", log.Int("count", len(pending)))
	}
	return nil
}

// PendingReleases returns the number of releases awaiting retry.
func (c *Counter) PendingReleases() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pendingReleases)
}
