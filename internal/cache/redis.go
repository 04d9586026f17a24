// Package cache keeps idempotency markers for outgoing payment requests in
// redis so a request is never submitted twice to a provider.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"

	// InProgressExpiry bounds how long a crashed or unanswered submission
	// blocks a retry with the same key.
	InProgressExpiry = 10 * time.Minute
	CompletedExpiry  = 24 * time.Hour

	keyPrefix = "txn:"
)

// IdempotencyStore guards a submission key across processes.
type IdempotencyStore interface {
	// CheckOrSetInProgress marks key as in progress. It returns true when
	// the key was already in progress or completed.
	CheckOrSetInProgress(ctx context.Context, key string) (bool, error)
	SetCompleted(ctx context.Context, key string) error
	CheckCompleted(ctx context.Context, key string) (bool, error)
	// Release forgets an in-progress key so the same request may be sent
	// again. Completed keys are left untouched.
	Release(ctx context.Context, key string) error
}

type Options struct {
	Addr     string
	Password string
	DB       int

	InProgressExpiry time.Duration
	CompletedExpiry  time.Duration
}

type RedisStore struct {
	client     redis.UniversalClient
	inProgress time.Duration
	completed  time.Duration
}

// releaseScript deletes the key only while it is still in progress.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisStore(opts Options) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(rdb, opts)
}

// NewRedisStoreWithClient reuses an existing client; only the expiries of
// opts are read.
func NewRedisStoreWithClient(client redis.UniversalClient, opts Options) *RedisStore {
	s := &RedisStore{
		client:     client,
		inProgress: opts.InProgressExpiry,
		completed:  opts.CompletedExpiry,
	}
	if s.inProgress <= 0 {
		s.inProgress = InProgressExpiry
	}
	if s.completed <= 0 {
		s.completed = CompletedExpiry
	}
	return s
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func redisKey(key string) string {
	return keyPrefix + key
}

func (r *RedisStore) CheckOrSetInProgress(ctx context.Context, key string) (bool, error) {
	set, err := r.client.SetNX(ctx, redisKey(key), StatusInProgress, r.inProgress).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return !set, nil
}

func (r *RedisStore) SetCompleted(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, redisKey(key), StatusCompleted, r.completed).Err(); err != nil {
		return fmt.Errorf("redis SET error: %w", err)
	}
	return nil
}

func (r *RedisStore) CheckCompleted(ctx context.Context, key string) (bool, error) {
	status, err := r.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET error: %w", err)
	}
	return status == StatusCompleted, nil
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, r.client, []string{redisKey(key)}, StatusInProgress).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis release error: %w", err)
	}
	return nil
}
