/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package dispatcher implements the admission-controlled dispatch loop:
// it consumes batches from the work queue, reserves capacity on the
// distributed concurrency counter, and drives admitted jobs either
// through direct sub-unit execution (with resumable result caching) or
// through a handoff to the external workflow engine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gomodule/redigo/redis"
	"golang.org/x/sync/errgroup"

	"github.com/acronis/go-docdispatch/internal/admission"
	"github.com/acronis/go-docdispatch/internal/invoke"
	"github.com/acronis/go-docdispatch/internal/orchestrator"
	"github.com/acronis/go-docdispatch/internal/resultcache"
	"github.com/acronis/go-docdispatch/internal/workqueue"
)

// errJobCancelled interrupts a job whose cancellation mark was set.
var errJobCancelled = errors.New("job cancelled")

// Invocation target names.
const (
	targetStartExecution = "orchestrator.start_execution"
	targetListSubUnits   = "processor.list_sub_units"
	targetProcessSubUnit = "processor.process_sub_unit"
)

// Dispatcher pulls work off the queue and dispatches it downstream while
// respecting the fleet-wide concurrency cap. Multiple Dispatcher
// instances may run concurrently against the same store.
type Dispatcher struct {
	queue    *workqueue.Queue
	counter  *admission.Counter
	invoker  *invoke.Invoker
	cache    resultcache.Cache
	registry *registry
	orch     orchestrator.Orchestrator
	proc     SubUnitProcessor
	cfg      *Config
	logger   log.FieldLogger
	metrics  MetricsCollector
}

// Opts contains optional parameters for constructing a Dispatcher.
type Opts struct {
	// Orchestrator enables handoff mode: admitted jobs are passed to the
	// workflow engine and the admission lease is released by its
	// completion callback.
	Orchestrator orchestrator.Orchestrator

	// Processor enables direct mode: the dispatcher executes sub-units
	// itself. Exactly one of Orchestrator and Processor must be set.
	Processor SubUnitProcessor

	// Metrics is a collector of dispatcher metrics.
	Metrics MetricsCollector
}

// New creates a new Dispatcher.
func New(
	queue *workqueue.Queue,
	counter *admission.Counter,
	invoker *invoke.Invoker,
	cache resultcache.Cache,
	pool *redis.Pool,
	cfg *Config,
	keyNamespace string,
	logger log.FieldLogger,
	opts Opts,
) (*Dispatcher, error) {
	if (opts.Orchestrator == nil) == (opts.Processor == nil) {
		return nil, fmt.Errorf("exactly one of Orchestrator and Processor must be provided")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Dispatcher{
		queue:   queue,
		counter: counter,
		invoker: invoker,
		cache:   cache,
		registry: newRegistry(pool, keyNamespace,
			time.Duration(cfg.HandoffTTL), time.Duration(cfg.CancellationTTL)),
		orch:    opts.Orchestrator,
		proc:    opts.Processor,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Run starts the configured number of polling workers and blocks until
// the context is cancelled. Implements the service worker contract.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("starting dispatcher",
		log.Int("workers", d.cfg.Workers),
		log.Int("batch_size", d.cfg.BatchSize))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		workerLogger := d.logger.With(log.Int("worker", i))
		g.Go(func() error {
			d.runWorker(ctx, workerLogger)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, logger log.FieldLogger) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := d.queue.Receive(ctx, d.cfg.BatchSize, time.Duration(d.cfg.BatchMaxWait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to receive messages, backing off", log.Error(err))
			sleepCtx(ctx, time.Duration(d.cfg.PollErrorBackoff))
			continue
		}

		denied := false
		for i := range msgs {
			if d.handleMessage(ctx, logger, msgs[i]) {
				denied = true
			}
		}
		// Backpressure: when the cap is reached, let queue depth grow
		// instead of hammering the counter on every poll.
		if denied {
			sleepCtx(ctx, time.Duration(d.cfg.DenyBackoff))
		}
	}
}

// handleMessage drives one message through the work item state machine.
// It reports whether admission was denied so the caller can back off.
func (d *Dispatcher) handleMessage(ctx context.Context, logger log.FieldLogger, msg workqueue.Message) (denied bool) {
	logger = logger.With(
		log.String("job_id", msg.JobID),
		log.String("message_id", msg.ID),
		log.String("execution_id", msg.ExecutionID))
	logger.Debug("work item received", log.String("state", string(StateReceived)), log.Int("attempt", msg.Attempts))

	cancelled, err := d.registry.isCancelled(ctx, msg.JobID)
	if err != nil {
		logger.Warn("cancellation check degraded", log.Error(err))
	}
	if cancelled {
		d.finishCancelled(ctx, logger, msg)
		return false
	}

	token, admitted, err := d.counter.TryAdmit(ctx)
	if err != nil {
		// Fail closed: an unreachable counter store denies admission.
		logger.Error("admission check failed, denying", log.String("state", string(StateAdmissionPending)), log.Error(err))
	}
	if !admitted {
		logger.Debug("admission denied, returning message to queue", log.String("state", string(StateAdmissionPending)))
		if rerr := d.queue.Return(ctx, msg.ID); rerr != nil {
			// The visibility timeout will redeliver the message anyway.
			logger.Warn("failed to return message, relying on visibility timeout", log.Error(rerr))
		}
		return true
	}

	logger.Debug("work item admitted", log.String("state", string(StateAdmitted)), log.String("lease_token", token))
	start := time.Now()
	if d.orch != nil {
		d.dispatchHandoff(ctx, logger, msg, token)
	} else {
		d.dispatchDirect(ctx, logger, msg, token)
	}
	d.metrics.ObserveJobDuration(time.Since(start))
	return false
}

// dispatchHandoff passes the job to the workflow engine. On success the
// queue message is acknowledged (ownership is transferred) and the
// admission lease stays held until the engine's completion callback.
func (d *Dispatcher) dispatchHandoff(ctx context.Context, logger log.FieldLogger, msg workqueue.Message, token string) {
	req := orchestrator.StartRequest{
		JobID:       msg.JobID,
		ExecutionID: msg.ExecutionID,
		PayloadRef:  msg.PayloadRef,
	}
	err := d.invoker.Do(ctx, targetStartExecution, func(ctx context.Context) error {
		return d.orch.StartExecution(ctx, req)
	})
	if err != nil {
		d.counter.Release(ctx, token)
		d.finishFailed(ctx, logger, msg, err)
		return
	}

	rec := handoffRecord{Token: token, JobID: msg.JobID, MessageID: msg.ID}
	if rerr := d.registry.recordHandoff(ctx, msg.ExecutionID, rec); rerr != nil {
		// Without the record the completion callback cannot find the
		// lease; release now and let the lease TTL cover the rest.
		logger.Error("failed to record handoff, releasing lease immediately", log.Error(rerr))
		d.counter.Release(ctx, token)
	}
	if aerr := d.queue.Ack(ctx, msg.ID); aerr != nil {
		logger.Error("failed to ack handed-off message", log.Error(aerr))
	}
	logger.Info("work item handed off to orchestrator", log.String("state", string(StateDispatched)))
	d.metrics.IncJobs(OutcomeHandedOff)
}

// dispatchDirect executes the job's sub-units in place. The admission
// lease is released on every terminal path.
func (d *Dispatcher) dispatchDirect(ctx context.Context, logger log.FieldLogger, msg workqueue.Message, token string) {
	stopRenewal := d.startLeaseRenewal(ctx, logger, token)
	err := d.executeSubUnits(ctx, logger, msg)
	stopRenewal()
	d.counter.Release(ctx, token)

	switch {
	case err == nil:
		if aerr := d.queue.Ack(ctx, msg.ID); aerr != nil {
			logger.Error("failed to ack completed message", log.Error(aerr))
		}
		logger.Info("work item succeeded", log.String("state", string(StateSucceeded)))
		d.metrics.IncJobs(OutcomeSucceeded)
	case errors.Is(err, errJobCancelled):
		d.finishCancelled(ctx, logger, msg)
	default:
		d.finishFailed(ctx, logger, msg, err)
	}
}

// finishFailed routes a failed job: fatal errors go straight to the
// dead-letter destination, retryable ones are requeued until the
// whole-job retry budget is spent.
func (d *Dispatcher) finishFailed(ctx context.Context, logger log.FieldLogger, msg workqueue.Message, jobErr error) {
	if invoke.IsFatal(jobErr) {
		if dlErr := d.queue.DeadLetter(ctx, msg, jobErr.Error()); dlErr != nil {
			logger.Error("failed to dead-letter message", log.Error(dlErr))
			return
		}
		logger.Warn("work item dead-lettered on fatal error",
			log.String("state", string(StateDeadLettered)), log.Error(jobErr))
		d.metrics.IncJobs(OutcomeDeadLettered)
		return
	}

	deadLettered, failErr := d.queue.Fail(ctx, msg, jobErr.Error())
	if failErr != nil {
		logger.Error("failed to record job failure", log.Error(failErr))
		return
	}
	if deadLettered {
		logger.Warn("work item dead-lettered after exhausting retries",
			log.String("state", string(StateDeadLettered)), log.Error(jobErr))
		d.metrics.IncJobs(OutcomeDeadLettered)
		return
	}
	logger.Warn("work item failed, will be retried",
		log.String("state", string(StateFailed)), log.Int("attempt", msg.Attempts), log.Error(jobErr))
	d.metrics.IncJobs(OutcomeFailed)
}

// finishCancelled acknowledges a cancelled job and purges its cache entry
// so a later enqueue of the same job cannot resurrect stale results.
func (d *Dispatcher) finishCancelled(ctx context.Context, logger log.FieldLogger, msg workqueue.Message) {
	if perr := d.cache.Purge(ctx, msg.JobID, msg.ExecutionID); perr != nil {
		logger.Warn("failed to purge cache entry of cancelled job", log.Error(perr))
	}
	if aerr := d.queue.Ack(ctx, msg.ID); aerr != nil {
		logger.Error("failed to ack cancelled message", log.Error(aerr))
	}
	logger.Info("work item cancelled", log.String("state", string(StateFailed)))
	d.metrics.IncJobs(OutcomeCancelled)
}

// executeSubUnits processes the complement of the already-cached
// sub-units. Each sub-unit is isolated: one failure neither stops
// siblings nor prevents their results from being cached.
func (d *Dispatcher) executeSubUnits(ctx context.Context, logger log.FieldLogger, msg workqueue.Message) error {
	cached, err := d.cache.Load(ctx, msg.JobID, msg.ExecutionID)
	if err != nil {
		logger.Warn("result cache degraded, recomputing all sub-units", log.Error(err))
		cached = map[string]resultcache.SubResult{}
	}

	var subIDs []string
	err = d.invoker.Do(ctx, targetListSubUnits, func(ctx context.Context) error {
		var lerr error
		subIDs, lerr = d.proc.ListSubUnits(ctx, msg)
		return lerr
	})
	if err != nil {
		return fmt.Errorf("list sub-units: %w", err)
	}

	remaining := make([]string, 0, len(subIDs))
	for _, subID := range subIDs {
		if _, ok := cached[subID]; ok {
			continue
		}
		remaining = append(remaining, subID)
	}
	d.metrics.AddSubUnitsSkipped(len(subIDs) - len(remaining))
	logger.Debug("dispatching sub-units", log.String("state", string(StateDispatched)),
		log.Int("total", len(subIDs)), log.Int("cached", len(subIDs)-len(remaining)))

	var (
		failuresMu sync.Mutex
		failures   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.SubUnitParallelism)
	for _, subID := range remaining {
		subID := subID
		g.Go(func() error {
			var res resultcache.SubResult
			perr := d.invoker.Do(gctx, targetProcessSubUnit, func(ctx context.Context) error {
				var ierr error
				res, ierr = d.proc.ProcessSubUnit(ctx, msg, subID)
				return ierr
			})
			if perr != nil {
				failuresMu.Lock()
				failures = append(failures, fmt.Errorf("sub-unit %s: %w", subID, perr))
				failuresMu.Unlock()
				return nil
			}
			d.metrics.IncSubUnitsProcessed()
			// Save eagerly: a sibling's later failure must not lose this result.
			if serr := d.cache.Save(ctx, msg.JobID, msg.ExecutionID, subID, res); serr != nil {
				logger.Warn("failed to cache sub-result",
					log.String("sub_id", subID), log.Error(serr))
			}
			return nil
		})
	}
	_ = g.Wait()

	if cancelled, cerr := d.registry.isCancelled(ctx, msg.JobID); cerr == nil && cancelled {
		return errJobCancelled
	}

	if len(failures) != 0 {
		for _, ferr := range failures {
			if invoke.IsFatal(ferr) {
				return invoke.Fatal(fmt.Errorf("%d of %d sub-units failed: %w", len(failures), len(subIDs), ferr))
			}
		}
		return fmt.Errorf("%d of %d sub-units failed: %w", len(failures), len(subIDs), failures[0])
	}
	return nil
}

// startLeaseRenewal keeps the admission lease alive while a long direct
// execution runs. The returned func stops the renewal.
func (d *Dispatcher) startLeaseRenewal(ctx context.Context, logger log.FieldLogger, token string) func() {
	interval := time.Duration(d.cfg.LeaseRenewalInterval)
	if interval <= 0 {
		return func() {}
	}
	renewCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				if ok, err := d.counter.Extend(renewCtx, token); err != nil {
					logger.Warn("failed to renew admission lease", log.Error(err))
				} else if !ok {
					logger.Warn("admission lease expired mid-execution", log.String("lease_token", token))
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// HandleCompletion consumes the workflow engine's completion or failure
// callback for a handed-off execution and releases its admission lease.
// Returns false if the execution is unknown (already completed, expired,
// or never handed off).
func (d *Dispatcher) HandleCompletion(ctx context.Context, executionID string, succeeded bool) (bool, error) {
	rec, ok, err := d.registry.takeHandoff(ctx, executionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	d.counter.Release(ctx, rec.Token)
	outcome := OutcomeSucceeded
	if !succeeded {
		outcome = OutcomeFailed
	}
	d.metrics.IncJobs(outcome)
	d.logger.Info("handed-off execution completed",
		log.String("job_id", rec.JobID),
		log.String("execution_id", executionID),
		log.Bool("succeeded", succeeded))
	return true, nil
}

// Cancel marks a job as cancelled. In-flight executions observe the mark
// at their next checkpoint; the mark expires on its own.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	return d.registry.markCancelled(ctx, jobID)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
