/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

const (
	handoffKeyPrefix = ":handoff:"
	cancelKeyPrefix  = ":cancel:"
)

// takeScript reads and deletes a key in one step, so two completion
// callbacks for the same execution release the lease exactly once.
var takeScript = redis.NewScript(1, `
local raw = redis.call('GET', KEYS[1])
if raw then
	redis.call('DEL', KEYS[1])
end
return raw
`)

// handoffRecord links an execution handed to the workflow engine with the
// admission lease that must be released when the engine reports back.
type handoffRecord struct {
	Token     string `json:"token"`
	JobID     string `json:"jobId"`
	MessageID string `json:"messageId"`
}

// registry keeps the dispatcher's durable bookkeeping that must survive
// instance restarts: pending handoffs and cancellation marks.
type registry struct {
	pool         *redis.Pool
	keyNamespace string
	handoffTTL   time.Duration
	cancelTTL    time.Duration
}

func newRegistry(pool *redis.Pool, keyNamespace string, handoffTTL, cancelTTL time.Duration) *registry {
	return &registry{
		pool:         pool,
		keyNamespace: keyNamespace,
		handoffTTL:   handoffTTL,
		cancelTTL:    cancelTTL,
	}
}

func (r *registry) recordHandoff(ctx context.Context, executionID string, rec handoffRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal handoff record: %w", err)
	}
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_, err = redis.DoContext(conn, ctx, "SET",
		r.keyNamespace+handoffKeyPrefix+executionID, raw, "PX", r.handoffTTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("record handoff: %w", err)
	}
	return nil
}

func (r *registry) takeHandoff(ctx context.Context, executionID string) (handoffRecord, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return handoffRecord{}, false, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	raw, err := redis.Bytes(takeScript.DoContext(ctx, conn, r.keyNamespace+handoffKeyPrefix+executionID))
	if err != nil {
		if err == redis.ErrNil {
			return handoffRecord{}, false, nil
		}
		return handoffRecord{}, false, fmt.Errorf("take handoff record: %w", err)
	}
	var rec handoffRecord
	if err = json.Unmarshal(raw, &rec); err != nil {
		return handoffRecord{}, false, fmt.Errorf("unmarshal handoff record: %w", err)
	}
	return rec, true, nil
}

func (r *registry) markCancelled(ctx context.Context, jobID string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_, err = redis.DoContext(conn, ctx, "SET",
		r.keyNamespace+cancelKeyPrefix+jobID, 1, "PX", r.cancelTTL.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark job cancelled: %w", err)
	}
	return nil
}

func (r *registry) isCancelled(ctx context.Context, jobID string) (bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return false, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	exists, err := redis.Int(redis.DoContext(conn, ctx, "EXISTS", r.keyNamespace+cancelKeyPrefix+jobID))
	if err != nil {
		return false, fmt.Errorf("check job cancellation: %w", err)
	}
	return exists == 1, nil
}
