package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lojinha/sms-dispatcher/internal/model"
	"github.com/lojinha/sms-dispatcher/internal/queue"
)

func newTestQueue(t *testing.T, visibility time.Duration) *queue.Queue {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return queue.New(rdb, "smsq-test", visibility)
}

func task(id string, attempt int) queue.Task {
	return queue.Task{
		ID:        id,
		Attempt:   attempt,
		AccountID: 1,
		Request: model.SendRequest{
			Phone:     "11987654321",
			Message:   "hi",
			EventType: model.EventManual,
		},
	}
}

func TestEnqueueDequeueAck(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("t1", 1)))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)
	require.Equal(t, 1, got.Attempt)
	require.Equal(t, "11987654321", got.Request.Phone)

	// leased, not gone
	ready, inflight, _, err := q.Depths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, ready)
	require.EqualValues(t, 1, inflight)

	require.NoError(t, q.Ack(ctx, got))
	_, inflight, _, err = q.Depths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, inflight)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestDequeueFIFO(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("a", 1)))
	require.NoError(t, q.Enqueue(ctx, task("b", 1)))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)
	require.Equal(t, "b", second.ID)
}

func TestDelayedPromotion(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDelayed(ctx, task("later", 2), 30*time.Millisecond))

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrEmpty)

	time.Sleep(50 * time.Millisecond)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "later", got.ID)
	require.Equal(t, 2, got.Attempt)
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("crashy", 1)))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "crashy", got.ID)

	// simulate a worker crash: no ack; the lease expires
	time.Sleep(40 * time.Millisecond)

	again, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "crashy", again.ID)

	require.NoError(t, q.Ack(ctx, again))
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestAckAfterLeaseExpiryIsHarmless(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("dup", 1)))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// late ack from the first consumer removes the second lease too (same
	// payload); at-least-once consumers tolerate the duplicate either way
	require.NoError(t, q.Ack(ctx, first))
	require.NoError(t, q.Ack(ctx, second))

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestPoisonPayloadDropped(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := queue.New(rdb, "smsq-test", time.Minute)
	ctx := context.Background()

	require.NoError(t, rdb.LPush(ctx, "smsq-test:ready", "NOT JSON").Err())

	_, err := q.Dequeue(ctx)
	require.Error(t, err)
	require.False(t, errors.Is(err, queue.ErrEmpty))

	// the poison payload must not come back
	_, inflight, _, err := q.Depths(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, inflight)
}
