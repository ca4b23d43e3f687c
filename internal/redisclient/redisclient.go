/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package redisclient provides a configured redigo connection pool
// shared by all Redis-backed components of the dispatch engine.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Open creates a new Redis connection pool based on the passed configuration.
// The pool is safe for use by multiple goroutines.
func Open(cfg *Config) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     cfg.MaxIdleConns,
		MaxActive:   cfg.MaxActiveConns,
		IdleTimeout: time.Duration(cfg.IdleConnTimeout),
		Wait:        true,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			opts := []redis.DialOption{
				redis.DialConnectTimeout(time.Duration(cfg.Timeouts.Connect)),
				redis.DialReadTimeout(time.Duration(cfg.Timeouts.Read)),
				redis.DialWriteTimeout(time.Duration(cfg.Timeouts.Write)),
				redis.DialDatabase(cfg.Database),
			}
			if cfg.Password != "" {
				opts = append(opts, redis.DialPassword(cfg.Password))
			}
			return redis.DialContext(ctx, "tcp", cfg.Address, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Ping checks that the Redis server behind the pool is reachable.
func Ping(ctx context.Context, pool *redis.Pool) error {
	conn, err := pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err = conn.Do("PING"); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
