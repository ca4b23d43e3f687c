/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package invoke wraps calls to rate-limited external endpoints with a
// throttle-aware retry policy: transient errors are retried with capped
// exponential backoff and jitter, everything else propagates immediately.
package invoke

import (
	"context"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"
)

// Func is a single call to an external endpoint that may be retried.
type Func func(ctx context.Context) error

// IsRetryableFunc tells whether an error should lead to a retry attempt.
type IsRetryableFunc func(error) bool

// Invoker executes functions against rate-limited endpoints according to
// the configured Policy. It is stateless between calls and safe for
// concurrent use; per-call retry state lives on the call stack only.
type Invoker struct {
	policy      Policy
	isRetryable IsRetryableFunc
	metrics     MetricsCollector
	logger      log.FieldLogger
}

// Opts contains optional parameters for constructing an Invoker.
type Opts struct {
	// IsRetryable overrides the default transient-error classification.
	IsRetryable IsRetryableFunc

	// Metrics is a collector of per-attempt metrics.
	Metrics MetricsCollector
}

// NewInvoker creates a new Invoker with the default error classification
// (retry only errors marked with Transient).
func NewInvoker(policy Policy, logger log.FieldLogger) *Invoker {
	return NewInvokerWithOpts(policy, logger, Opts{})
}

// NewInvokerWithOpts creates a new Invoker with an ability to specify
// different optional parameters.
func NewInvokerWithOpts(policy Policy, logger log.FieldLogger, opts Opts) *Invoker {
	isRetryable := opts.IsRetryable
	if isRetryable == nil {
		isRetryable = IsTransient
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Invoker{
		policy:      policy,
		isRetryable: isRetryable,
		metrics:     metrics,
		logger:      logger,
	}
}

// Do executes fn, retrying transient failures per the policy. The target
// name is used in logs and metrics. When all attempts fail with retryable
// errors, a *RetriesExhaustedError wrapping the last cause is returned;
// non-retryable errors and context cancellations propagate as is.
func (inv *Invoker) Do(ctx context.Context, target string, fn Func) error {
	attempts := 0
	start := time.Now()

	notify := func(err error, delay time.Duration) {
		inv.metrics.IncAttempts(target, OutcomeRetry)
		inv.metrics.ObserveRetryDelay(target, delay)
		inv.logger.Warn("invocation attempt failed, retrying",
			log.String("target", target),
			log.Int("attempt", attempts-1),
			log.Duration("delay", delay),
			log.Error(err))
	}

	err := retry.DoWithRetry(ctx, inv.policy, retry.IsRetryable(inv.isRetryable), notify,
		func(ctx context.Context) error {
			attempts++
			return fn(ctx)
		})
	if err == nil {
		inv.metrics.IncAttempts(target, OutcomeSuccess)
		return nil
	}

	if ctx.Err() == nil && inv.isRetryable(err) && attempts >= inv.policy.MaxAttempts {
		inv.metrics.IncAttempts(target, OutcomeExhausted)
		exhErr := &RetriesExhaustedError{Attempts: attempts, Elapsed: time.Since(start), Err: err}
		inv.logger.Error("invocation retries exhausted",
			log.String("target", target),
			log.Int("attempts", attempts),
			log.DurationIn(exhErr.Elapsed, time.Millisecond),
			log.Error(err))
		return exhErr
	}

	inv.metrics.IncAttempts(target, OutcomeFatal)
	inv.logger.Error("invocation failed without retry",
		log.String("target", target),
		log.Int("attempt", attempts-1),
		log.Error(err))
	return err
}
