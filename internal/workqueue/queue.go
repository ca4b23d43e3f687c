/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package workqueue implements the durable work queue feeding the
// dispatcher: batched at-least-once delivery with a visibility timeout,
// bounded delivery attempts and a dead-letter destination.
//
// The queue lives in Redis as a pending list, an in-flight sorted set
// scored by the redelivery deadline, and a hash of message records. All
// state transitions run as Lua scripts so that concurrent dispatcher
// instances never observe a message in two sections at once.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/rs/xid"
)

const (
	pendingKeySuffix  = ":queue:pending"
	inflightKeySuffix = ":queue:inflight"
	messagesKeySuffix = ":queue:messages"
	deadKeySuffix     = ":queue:dead"
)

// receivePollInterval is how often Receive re-checks an empty queue while
// waiting out maxWait.
const receivePollInterval = 100 * time.Millisecond

var enqueueScript = redis.NewScript(2, `
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// receiveScript pops up to ARGV[2] messages, bumps their delivery attempt
// counters and parks them in the in-flight set until ARGV[1].
var receiveScript = redis.NewScript(3, `
local res = {}
for i = 1, tonumber(ARGV[2]) do
	local id = redis.call('RPOP', KEYS[1])
	if not id then
		break
	end
	local raw = redis.call('HGET', KEYS[3], id)
	if raw then
		local msg = cjson.decode(raw)
		msg['attempts'] = msg['attempts'] + 1
		raw = cjson.encode(msg)
		redis.call('HSET', KEYS[3], id, raw)
		redis.call('ZADD', KEYS[2], ARGV[1], id)
		res[#res + 1] = raw
	end
end
return res
`)

// sweepScript makes messages whose visibility timeout expired visible again.
var sweepScript = redis.NewScript(2, `
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('LPUSH', KEYS[1], id)
end
return #ids
`)

// returnScript puts an in-flight message back at once and refunds the
// delivery attempt, so backpressure does not consume the retry budget.
var returnScript = redis.NewScript(3, `
if redis.call('ZREM', KEYS[2], ARGV[1]) == 1 then
	local raw = redis.call('HGET', KEYS[3], ARGV[1])
	if raw then
		local msg = cjson.decode(raw)
		msg['attempts'] = msg['attempts'] - 1
		redis.call('HSET', KEYS[3], ARGV[1], cjson.encode(msg))
		redis.call('LPUSH', KEYS[1], ARGV[1])
		return 1
	end
end
return 0
`)

var ackScript = redis.NewScript(2, `
redis.call('ZREM', KEYS[1], ARGV[1])
return redis.call('HDEL', KEYS[2], ARGV[1])
`)

// failScript records the failure cause and either requeues the message
// (return value 0) or reports that the delivery budget is spent (1).
var failScript = redis.NewScript(3, `
if redis.call('ZREM', KEYS[2], ARGV[1]) == 0 then
	return -1
end
local raw = redis.call('HGET', KEYS[3], ARGV[1])
if not raw then
	return -1
end
local msg = cjson.decode(raw)
msg['lastError'] = ARGV[2]
redis.call('HSET', KEYS[3], ARGV[1], cjson.encode(msg))
if msg['attempts'] >= tonumber(ARGV[3]) then
	return 1
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 0
`)

var deadLetterScript = redis.NewScript(3, `
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
return 1
`)

// Queue is a durable work queue shared by all dispatcher instances.
type Queue struct {
	pool    *redis.Pool
	cfg     *Config
	logger  log.FieldLogger
	metrics MetricsCollector

	pendingKey  string
	inflightKey string
	messagesKey string
	deadKey     string
}

// Opts contains optional parameters for constructing a Queue.
type Opts struct {
	// Metrics is a collector of queue metrics.
	Metrics MetricsCollector
}

// New creates a new Queue backed by the passed Redis pool.
func New(pool *redis.Pool, cfg *Config, keyNamespace string, logger log.FieldLogger) *Queue {
	return NewWithOpts(pool, cfg, keyNamespace, logger, Opts{})
}

// NewWithOpts creates a new Queue with an ability to specify different optional parameters.
func NewWithOpts(pool *redis.Pool, cfg *Config, keyNamespace string, logger log.FieldLogger, opts Opts) *Queue {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &Queue{
		pool:        pool,
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		pendingKey:  keyNamespace + pendingKeySuffix,
		inflightKey: keyNamespace + inflightKeySuffix,
		messagesKey: keyNamespace + messagesKeySuffix,
		deadKey:     keyNamespace + deadKeySuffix,
	}
}

// Enqueue adds a new work item to the queue and assigns its message and
// execution identities.
func (q *Queue) Enqueue(ctx context.Context, jobID, payloadRef string) (Message, error) {
	if jobID == "" {
		return Message{}, fmt.Errorf("job id cannot be empty")
	}
	msg := Message{
		ID:          xid.New().String(),
		JobID:       jobID,
		PayloadRef:  payloadRef,
		ExecutionID: xid.New().String(),
		EnqueuedAt:  time.Now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("marshal message: %w", err)
	}

	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err = enqueueScript.DoContext(ctx, conn, q.pendingKey, q.messagesKey, msg.ID, raw); err != nil {
		return Message{}, fmt.Errorf("enqueue message: %w", err)
	}
	q.metrics.IncEnqueued()
	return msg, nil
}

// Receive reads a batch of up to max messages, waiting up to maxWait for
// the first message to appear. Delivery is at-least-once: each received
// message stays invisible until acked, returned, failed, or until its
// visibility timeout expires. Messages whose delivery budget is already
// spent are dead-lettered instead of being returned to the caller.
func (q *Queue) Receive(ctx context.Context, max int, maxWait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(maxWait)
	for {
		msgs, err := q.receiveOnce(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(msgs) != 0 {
			q.metrics.ObserveBatchSize(len(msgs))
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receivePollInterval):
		}
	}
}

func (q *Queue) receiveOnce(ctx context.Context, max int) ([]Message, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	now := time.Now()
	if _, err = sweepScript.DoContext(ctx, conn, q.pendingKey, q.inflightKey, now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("sweep expired messages: %w", err)
	}

	visDeadline := now.Add(time.Duration(q.cfg.VisibilityTimeout)).UnixMilli()
	raws, err := redis.ByteSlices(receiveScript.DoContext(ctx, conn,
		q.pendingKey, q.inflightKey, q.messagesKey, visDeadline, max))
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		var msg Message
		if uerr := json.Unmarshal(raw, &msg); uerr != nil {
			q.logger.Error("dropping unparsable queue message", log.Error(uerr))
			continue
		}
		// A message redelivered more times than the budget allows means
		// previous consumers kept crashing or timing out on it.
		if msg.Attempts > q.cfg.MaxDeliveries {
			if dlErr := q.deadLetterConn(ctx, conn, msg, "delivery attempts exhausted"); dlErr != nil {
				q.logger.Error("failed to dead-letter over-delivered message",
					log.String("message_id", msg.ID), log.Error(dlErr))
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	q.metrics.AddDelivered(len(msgs))
	return msgs, nil
}

// Ack removes a successfully handled (or handed-off) message from the queue.
func (q *Queue) Ack(ctx context.Context, id string) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err = ackScript.DoContext(ctx, conn, q.inflightKey, q.messagesKey, id); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	q.metrics.IncAcked()
	return nil
}

// Return makes an in-flight message visible again immediately and refunds
// its delivery attempt. Used when admission is denied: backpressure must
// not consume the job's retry budget.
func (q *Queue) Return(ctx context.Context, id string) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err = returnScript.DoContext(ctx, conn, q.pendingKey, q.inflightKey, q.messagesKey, id); err != nil {
		return fmt.Errorf("return message: %w", err)
	}
	q.metrics.IncReturned()
	return nil
}

// Fail records a processing failure for an in-flight message. The message
// is requeued for another whole-job attempt while budget remains;
// otherwise it is moved to the dead-letter destination and the returned
// flag is true.
func (q *Queue) Fail(ctx context.Context, msg Message, cause string) (deadLettered bool, err error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	res, err := redis.Int(failScript.DoContext(ctx, conn,
		q.pendingKey, q.inflightKey, q.messagesKey, msg.ID, cause, q.cfg.MaxDeliveries))
	if err != nil {
		return false, fmt.Errorf("fail message: %w", err)
	}
	switch res {
	case 1:
		msg.LastError = cause
		if err = q.deadLetterConn(ctx, conn, msg, cause); err != nil {
			return false, err
		}
		return true, nil
	case -1:
		// Visibility timeout already returned the message to another consumer.
		q.logger.Warn("failing a message that is no longer in flight", log.String("message_id", msg.ID))
		return false, nil
	default:
		return false, nil
	}
}

// DeadLetter moves an in-flight message straight to the dead-letter
// destination, bypassing the remaining retry budget. Used for fatal errors.
func (q *Queue) DeadLetter(ctx context.Context, msg Message, cause string) error {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return q.deadLetterConn(ctx, conn, msg, cause)
}

func (q *Queue) deadLetterConn(ctx context.Context, conn redis.Conn, msg Message, cause string) error {
	record := DeadLetterRecord{
		RecordID:       uuid.NewString(),
		Message:        msg,
		LastError:      cause,
		DeadLetteredAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal dead-letter record: %w", err)
	}
	if _, err = deadLetterScript.DoContext(ctx, conn,
		q.inflightKey, q.messagesKey, q.deadKey, msg.ID, raw); err != nil {
		return fmt.Errorf("dead-letter message: %w", err)
	}
	q.metrics.IncDeadLettered()
	q.logger.Warn("message dead-lettered",
		log.String("message_id", msg.ID),
		log.String("job_id", msg.JobID),
		log.Int("attempts", msg.Attempts),
		log.String("cause", cause))
	return nil
}

// DeadLetters returns up to limit most recent dead-letter records.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetterRecord, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	raws, err := redis.ByteSlices(redis.DoContext(conn, ctx, "LRANGE", q.deadKey, 0, limit-1))
	if err != nil {
		return nil, fmt.Errorf("read dead-letter records: %w", err)
	}
	records := make([]DeadLetterRecord, 0, len(raws))
	for _, raw := range raws {
		var rec DeadLetterRecord
		if uerr := json.Unmarshal(raw, &rec); uerr != nil {
			q.logger.Error("skipping unparsable dead-letter record", log.Error(uerr))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Depths returns the observable sizes of the queue sections.
func (q *Queue) Depths(ctx context.Context) (Depths, error) {
	conn, err := q.pool.GetContext(ctx)
	if err != nil {
		return Depths{}, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	pending, err := redis.Int(redis.DoContext(conn, ctx, "LLEN", q.pendingKey))
	if err != nil {
		return Depths{}, fmt.Errorf("pending depth: %w", err)
	}
	inflight, err := redis.Int(redis.DoContext(conn, ctx, "ZCARD", q.inflightKey))
	if err != nil {
		return Depths{}, fmt.Errorf("in-flight depth: %w", err)
	}
	dead, err := redis.Int(redis.DoContext(conn, ctx, "LLEN", q.deadKey))
	if err != nil {
		return Depths{}, fmt.Errorf("dead-letter depth: %w", err)
	}
	return Depths{Pending: pending, InFlight: inflight, DeadLetter: dead}, nil
}
