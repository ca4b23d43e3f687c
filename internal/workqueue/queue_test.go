/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"context"
	"testing"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log/logtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, visibilityTimeout time.Duration, maxDeliveries int) (*Queue, *PrometheusMetrics) {
	t.Helper()
	srv := miniredis.RunT(t)
	pool := &redis.Pool{
		Dial: func() (redis.Conn, error) { return redis.Dial("tcp", srv.Addr()) },
	}
	t.Cleanup(func() { _ = pool.Close() })

	cfg := &Config{
		VisibilityTimeout: config.TimeDuration(visibilityTimeout),
		MaxDeliveries:     maxDeliveries,
	}
	metrics := NewPrometheusMetrics()
	return NewWithOpts(pool, cfg, "test", logtest.NewRecorder(), Opts{Metrics: metrics}), metrics
}

func TestQueueEnqueueReceiveAck(t *testing.T) {
	ctx := context.Background()
	q, metrics := newTestQueue(t, time.Minute, 5)

	msg, err := q.Enqueue(ctx, "job-1", "s3://bucket/doc-1.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.NotEmpty(t, msg.ExecutionID)
	require.Equal(t, "job-1", msg.JobID)
	require.Equal(t, "s3://bucket/doc-1.pdf", msg.PayloadRef)
	require.Zero(t, msg.Attempts)
	require.False(t, msg.EnqueuedAt.IsZero())

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	require.Equal(t, Depths{Pending: 1}, depths)

	msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)
	require.Equal(t, msg.ExecutionID, msgs[0].ExecutionID)
	require.Equal(t, 1, msgs[0].Attempts)

	depths, err = q.Depths(ctx)
	require.NoError(t, err)
	require.Equal(t, Depths{InFlight: 1}, depths)

	require.NoError(t, q.Ack(ctx, msg.ID))
	depths, err = q.Depths(ctx)
	require.NoError(t, err)
	require.Equal(t, Depths{}, depths)

	require.Equal(t, 1, int(testutil.ToFloat64(metrics.EnqueuedTotal)))
	require.Equal(t, 1, int(testutil.ToFloat64(metrics.AckedTotal)))
}

func TestQueueEnqueueRequiresJobID(t *testing.T) {
	q, _ := newTestQueue(t, time.Minute, 5)
	_, err := q.Enqueue(context.Background(), "", "ref")
	require.Error(t, err)
}

func TestQueueReceiveEmptyWaitsOutMaxWait(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute, 5)

	start := time.Now()
	msgs, err := q.Receive(ctx, 10, 150*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestQueueReceiveBatch(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute, 5)

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, "job", "ref")
		require.NoError(t, err)
	}

	msgs, err := q.Receive(ctx, 3, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	msgs, err = q.Receive(ctx, 3, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestQueueVisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 30*time.Millisecond, 5)

	msg, err := q.Enqueue(ctx, "job-1", "ref")
	require.NoError(t, err)

	msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 1, msgs[0].Attempts)

	// Consumer crashes; after the visibility timeout the message comes back.
	time.Sleep(50 * time.Millisecond)

	msgs, err = q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)
	require.Equal(t, 2, msgs[0].Attempts)
}

func TestQueueReturnRefundsAttempt(t *testing.T) {
	ctx := context.Background()
	q, metrics := newTestQueue(t, time.Minute, 5)

	msg, err := q.Enqueue(ctx, "job-1", "ref")
	require.NoError(t, err)

	// Return the message a few times: backpressure must never consume
	// the retry budget.
	for i := 0; i < 3; i++ {
		msgs, receiveErr := q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, receiveErr)
		require.Len(t, msgs, 1)
		require.Equal(t, 1, msgs[0].Attempts)
		require.NoError(t, q.Return(ctx, msg.ID))
	}

	msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 1, msgs[0].Attempts)
	require.Equal(t, 3, int(testutil.ToFloat64(metrics.ReturnedTotal)))
}

func TestQueueFail(t *testing.T) {
	ctx := context.Background()

	t.Run("requeues while budget remains and records the cause", func(t *testing.T) {
		q, _ := newTestQueue(t, time.Minute, 3)

		_, err := q.Enqueue(ctx, "job-1", "ref")
		require.NoError(t, err)

		msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		deadLettered, err := q.Fail(ctx, msgs[0], "model endpoint unavailable")
		require.NoError(t, err)
		require.False(t, deadLettered)

		msgs, err = q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, 2, msgs[0].Attempts)
		require.Equal(t, "model endpoint unavailable", msgs[0].LastError)
	})

	t.Run("dead-letters when the budget is spent", func(t *testing.T) {
		q, metrics := newTestQueue(t, time.Minute, 2)

		msg, err := q.Enqueue(ctx, "job-1", "ref")
		require.NoError(t, err)

		msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, err)
		deadLettered, err := q.Fail(ctx, msgs[0], "first failure")
		require.NoError(t, err)
		require.False(t, deadLettered)

		msgs, err = q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, err)
		deadLettered, err = q.Fail(ctx, msgs[0], "second failure")
		require.NoError(t, err)
		require.True(t, deadLettered)

		records, err := q.DeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.NotEmpty(t, records[0].RecordID)
		require.Equal(t, msg.ID, records[0].Message.ID)
		require.Equal(t, "job-1", records[0].Message.JobID)
		require.Equal(t, 2, records[0].Message.Attempts)
		require.Equal(t, "second failure", records[0].LastError)
		require.False(t, records[0].DeadLetteredAt.IsZero())

		depths, err := q.Depths(ctx)
		require.NoError(t, err)
		require.Equal(t, Depths{DeadLetter: 1}, depths)
		require.Equal(t, 1, int(testutil.ToFloat64(metrics.DeadLetteredTotal)))
	})

	t.Run("failing an already-requeued message is a no-op", func(t *testing.T) {
		q, _ := newTestQueue(t, 30*time.Millisecond, 5)

		_, err := q.Enqueue(ctx, "job-1", "ref")
		require.NoError(t, err)

		msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		// Visibility timeout returns the message before the slow consumer fails it.
		time.Sleep(50 * time.Millisecond)
		redelivered, err := q.Receive(ctx, 10, 10*time.Millisecond)
		require.NoError(t, err)
		require.Len(t, redelivered, 1)

		deadLettered, err := q.Fail(ctx, msgs[0], "too late")
		require.NoError(t, err)
		require.False(t, deadLettered)

		depths, err := q.Depths(ctx)
		require.NoError(t, err)
		require.Equal(t, Depths{InFlight: 1}, depths)
	})
}

func TestQueueDeadLetterBypassesBudget(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute, 5)

	_, err := q.Enqueue(ctx, "job-1", "ref")
	require.NoError(t, err)

	msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.DeadLetter(ctx, msgs[0], "document is corrupt"))

	records, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "document is corrupt", records[0].LastError)

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	require.Equal(t, Depths{DeadLetter: 1}, depths)
}

func TestQueueOverDeliveredMessageIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, 20*time.Millisecond, 1)

	_, err := q.Enqueue(ctx, "job-1", "ref")
	require.NoError(t, err)

	msgs, err := q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// The consumer keeps crashing; the second delivery would exceed the
	// budget, so the receive path dead-letters instead of handing it out.
	time.Sleep(40 * time.Millisecond)
	msgs, err = q.Receive(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)

	records, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "delivery attempts exhausted", records[0].LastError)
}
