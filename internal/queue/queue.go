// Package queue is the durable channel between the web tier and the
// dispatch workers. It is Redis-backed and at-least-once: a popped task
// holds a lease in an in-flight set, and a task whose lease expires before
// it is acknowledged goes back to the ready list for redelivery. Delayed
// tasks (retry backoff) sit in a separate set until their ready time.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lojinha/sms-dispatcher/internal/model"
)

const DefaultVisibility = time.Minute

// ErrEmpty means no task is ready right now.
var ErrEmpty = errors.New("queue empty")

// Task is the queue envelope around a SendRequest. Attempt counts delivery
// attempts including the first one. AccountID identifies the account whose
// credit was charged for this send.
type Task struct {
	ID        string            `json:"id"`
	Attempt   int               `json:"attempt"`
	AccountID int64             `json:"account_id,omitempty"`
	Request   model.SendRequest `json:"request"`

	// raw is the exact payload popped from Redis; Ack removes it from the
	// in-flight set by value.
	raw string
}

type Queue struct {
	rdb         *redis.Client
	readyKey    string
	inflightKey string
	delayedKey  string
	visibility  time.Duration
}

func New(rdb *redis.Client, prefix string, visibility time.Duration) *Queue {
	if prefix == "" {
		prefix = "smsq"
	}
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	return &Queue{
		rdb:         rdb,
		readyKey:    prefix + ":ready",
		inflightKey: prefix + ":inflight",
		delayedKey:  prefix + ":delayed",
		visibility:  visibility,
	}
}

// popScript atomically pops one ready task and records its lease deadline,
// so a crash between pop and lease cannot lose the task.
var popScript = redis.NewScript(`
local v = redis.call('RPOP', KEYS[1])
if v then
	redis.call('ZADD', KEYS[2], ARGV[1], v)
	return v
end
return false
`)

// moveDueScript moves members whose score is due back onto the ready list.
// Used both to promote delayed retries and to reap expired leases.
var moveDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, v in ipairs(due) do
	redis.call('ZREM', KEYS[1], v)
	redis.call('LPUSH', KEYS[2], v)
end
return #due
`)

// Enqueue makes the task immediately available to workers.
func (q *Queue) Enqueue(ctx context.Context, t Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.rdb.LPush(ctx, q.readyKey, payload).Err()
}

// EnqueueDelayed schedules the task to become ready after delay.
func (q *Queue) EnqueueDelayed(ctx context.Context, t Task, delay time.Duration) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	readyAt := time.Now().Add(delay).UnixMilli()
	return q.rdb.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(readyAt), Member: payload}).Err()
}

// Dequeue promotes due delayed tasks, reaps expired leases, then pops one
// ready task and leases it for the visibility window. Returns ErrEmpty when
// nothing is ready; callers poll.
func (q *Queue) Dequeue(ctx context.Context) (Task, error) {
	now := time.Now().UnixMilli()

	if err := moveDueScript.Run(ctx, q.rdb, []string{q.delayedKey, q.readyKey}, now).Err(); err != nil {
		return Task{}, fmt.Errorf("promote delayed: %w", err)
	}
	if err := moveDueScript.Run(ctx, q.rdb, []string{q.inflightKey, q.readyKey}, now).Err(); err != nil {
		return Task{}, fmt.Errorf("reap in-flight: %w", err)
	}

	deadline := time.Now().Add(q.visibility).UnixMilli()
	raw, err := popScript.Run(ctx, q.rdb, []string{q.readyKey, q.inflightKey}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return Task{}, ErrEmpty
	}
	if err != nil {
		return Task{}, fmt.Errorf("pop: %w", err)
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// poison payload: drop the lease so it does not loop forever
		_ = q.rdb.ZRem(ctx, q.inflightKey, raw).Err()
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	t.raw = raw
	return t, nil
}

// Ack acknowledges a dequeued task, removing its lease. A task acked after
// its lease expired may already have been redelivered; processing must
// tolerate that duplicate.
func (q *Queue) Ack(ctx context.Context, t Task) error {
	return q.rdb.ZRem(ctx, q.inflightKey, t.raw).Err()
}

// Depths reports ready/in-flight/delayed sizes, for health and tests.
func (q *Queue) Depths(ctx context.Context) (ready, inflight, delayed int64, err error) {
	if ready, err = q.rdb.LLen(ctx, q.readyKey).Result(); err != nil {
		return
	}
	if inflight, err = q.rdb.ZCard(ctx, q.inflightKey).Result(); err != nil {
		return
	}
	delayed, err = q.rdb.ZCard(ctx, q.delayedKey).Result()
	return
}
