package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisDialTimeout = 5 * time.Second

// RedisOpts configures the shared Redis connection. One client backs both
// the task queue and the per-account rate limiter, so DB selects a single
// logical keyspace for both.
type RedisOpts struct {
	Addr     string // "127.0.0.1:6379"
	Password string // optional
	DB       int    // default 0

	// DialTimeout also bounds the startup ping. Defaults to 5s.
	DialTimeout time.Duration
}

// NewRedisClient connects and verifies the server is reachable before any
// task is enqueued against it.
func NewRedisClient(opts RedisOpts) (*redis.Client, error) {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultRedisDialTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
