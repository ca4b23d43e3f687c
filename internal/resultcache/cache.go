/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package resultcache records successfully completed sub-units of a job
// so that a retry of a partially failed job re-attempts only the subset
// that actually failed.
//
// An entry is a Redis hash keyed by (job id, execution id) mapping
// sub-unit ids to their results. Only successful sub-results are ever
// written; entries expire a fixed window after their first write
// regardless of job outcome. The cache is a cost optimization, never a
// correctness dependency: a broken store degrades to "always recompute".
package resultcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gomodule/redigo/redis"
)

const entriesKeyPrefix = ":results:"

// SubResult is the successfully computed result of one sub-unit (e.g. one
// page of a multi-page document) plus inference metadata.
type SubResult struct {
	Payload     json.RawMessage `json:"payload"`
	Confidence  float64         `json:"confidence,omitempty"`
	Model       string          `json:"model,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Cache stores successful sub-unit results between whole-job retries.
type Cache interface {
	// Load returns previously cached sub-results of the execution.
	// An empty map means nothing is cached (or the store is degraded).
	Load(ctx context.Context, jobID, executionID string) (map[string]SubResult, error)

	// Save records one successful sub-result. Called immediately after
	// the sub-unit succeeds, never batched, and safe to call concurrently
	// for sub-units of the same job. Saving the same (sub-unit, result)
	// twice is a no-op.
	Save(ctx context.Context, jobID, executionID, subID string, res SubResult) error

	// Purge drops the entry of an execution. Used for cancelled jobs,
	// which must not be resurrected from the cache.
	Purge(ctx context.Context, jobID, executionID string) error
}

// saveScript writes a sub-result unless one is already recorded and sets
// the entry TTL on first write only, so the expiry window is anchored to
// entry creation.
var saveScript = redis.NewScript(1, `
redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// RedisCache is a Cache backed by a Redis hash per execution.
type RedisCache struct {
	pool         *redis.Pool
	cfg          *Config
	logger       log.FieldLogger
	metrics      MetricsCollector
	keyNamespace string
}

var _ Cache = (*RedisCache)(nil)

// Opts contains optional parameters for constructing a RedisCache.
type Opts struct {
	// Metrics is a collector of cache metrics.
	Metrics MetricsCollector
}

// New creates a new RedisCache.
func New(pool *redis.Pool, cfg *Config, keyNamespace string, logger log.FieldLogger) *RedisCache {
	return NewWithOpts(pool, cfg, keyNamespace, logger, Opts{})
}

// NewWithOpts creates a new RedisCache with an ability to specify different optional parameters.
func NewWithOpts(pool *redis.Pool, cfg *Config, keyNamespace string, logger log.FieldLogger, opts Opts) *RedisCache {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &RedisCache{
		pool:         pool,
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		keyNamespace: keyNamespace,
	}
}

func (c *RedisCache) entryKey(jobID, executionID string) string {
	return c.keyNamespace + entriesKeyPrefix + jobID + ":" + executionID
}

// Load implements Cache.
func (c *RedisCache) Load(ctx context.Context, jobID, executionID string) (map[string]SubResult, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.metrics.IncErrors("load")
		return nil, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	raw, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", c.entryKey(jobID, executionID)))
	if err != nil {
		c.metrics.IncErrors("load")
		return nil, fmt.Errorf("load cached sub-results: %w", err)
	}

	res := make(map[string]SubResult, len(raw))
	for subID, rawRes := range raw {
		var sr SubResult
		if uerr := json.Unmarshal([]byte(rawRes), &sr); uerr != nil {
			c.logger.Error("skipping unparsable cached sub-result",
				log.String("job_id", jobID),
				log.String("execution_id", executionID),
				log.String("sub_id", subID),
				log.Error(uerr))
			continue
		}
		res[subID] = sr
	}
	c.metrics.AddHits(len(res))
	return res, nil
}

// Save implements Cache.
func (c *RedisCache) Save(ctx context.Context, jobID, executionID, subID string, res SubResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal sub-result: %w", err)
	}

	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.metrics.IncErrors("save")
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_, err = saveScript.DoContext(ctx, conn,
		c.entryKey(jobID, executionID), subID, raw, time.Duration(c.cfg.TTL).Milliseconds())
	if err != nil {
		c.metrics.IncErrors("save")
		return fmt.Errorf("save sub-result: %w", err)
	}
	c.metrics.IncSaves()
	return nil
}

// Purge implements Cache.
func (c *RedisCache) Purge(ctx context.Context, jobID, executionID string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		c.metrics.IncErrors("purge")
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err = redis.DoContext(conn, ctx, "DEL", c.entryKey(jobID, executionID)); err != nil {
		c.metrics.IncErrors("purge")
		return fmt.Errorf("purge cache entry: %w", err)
	}
	return nil
}

// Noop is a Cache used when no cache store is configured: loads are
// always empty, saves and purges do nothing.
type Noop struct{}

var _ Cache = Noop{}

// NewNoop creates a no-op Cache.
func NewNoop() Noop { return Noop{} }

// Load implements Cache.
func (Noop) Load(ctx context.Context, jobID, executionID string) (map[string]SubResult, error) {
	return map[string]SubResult{}, nil
}

// Save implements Cache.
func (Noop) Save(ctx context.Context, jobID, executionID, subID string, res SubResult) error {
	return nil
}

// Purge implements Cache.
func (Noop) Purge(ctx context.Context, jobID, executionID string) error {
	return nil
}
