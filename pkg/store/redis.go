package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// maxPopMinAttempts bounds the watch/multi/exec retry loop for ZPopMin.
const maxPopMinAttempts = 10

// redisStore implements Store against a real Redis (or Redis-protocol
// compatible, e.g. miniredis) server.
type redisStore struct {
	client *redis.Client
}

// Option configures NewRedisStore.
type Option func(*redis.Options)

// WithPassword sets the Redis AUTH password.
func WithPassword(password string) Option {
	return func(o *redis.Options) { o.Password = password }
}

// WithDB selects a logical Redis database index.
func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

// NewRedisStore dials addr and blocks-and-retries the initial Ping up to
// attempts times, waitBetween apart, returning ErrStoreUnavailable if the
// store never becomes reachable. This mirrors vlabredis.connecttoredis's
// startup behavior but returns an error instead of exiting the process.
func NewRedisStore(ctx context.Context, addr string, attempts int, waitBetween time.Duration, opts ...Option) (Store, error) {
	ro := &redis.Options{Addr: addr}
	for _, opt := range opts {
		opt(ro)
	}
	client := redis.NewClient(ro)

	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := client.Ping(ctx).Err(); err != nil {
			lastErr = err
			if i < attempts-1 {
				select {
				case <-ctx.Done():
					return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
				case <-time.After(waitBetween):
				}
			}
			continue
		}
		return &redisStore{client: client}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, lastErr)
}

// NewRedisStoreFromClient wraps an already-constructed *redis.Client,
// primarily so tests can point at a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client) Store {
	return &redisStore{client: client}
}

func wrapErr(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr(err)
	}
	return v, true, nil
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	return wrapErr(s.client.Set(ctx, key, value, 0).Err())
}

func (s *redisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return ok, nil
}

func (s *redisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrapErr(s.client.Set(ctx, key, value, ttl).Err())
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrapErr(s.client.Del(ctx, keys...).Err())
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return v, nil
}

func (s *redisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr(s.client.SAdd(ctx, key, args...).Err())
}

func (s *redisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr(s.client.SRem(ctx, key, args...).Err())
}

func (s *redisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return v, nil
}

func (s *redisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	v, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return v, nil
}

func (s *redisStore) SCard(ctx context.Context, key string) (int64, error) {
	v, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return v, nil
}

func (s *redisStore) ZAdd(ctx context.Context, key, member string, score float64) error {
	return wrapErr(s.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err())
}

func (s *redisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wrapErr(s.client.ZRem(ctx, key, args...).Err())
}

func (s *redisStore) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	v, err := s.client.ZScore(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapErr(err)
	}
	return v, true, nil
}

func (s *redisStore) ZCard(ctx context.Context, key string) (int64, error) {
	v, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrapErr(err)
	}
	return v, nil
}

// ZPopMin implements the only operation in VLAB requiring true atomicity:
// pop the lowest-scored (least-recently-used) member of a sorted set.
// watch -> read lowest -> multi(zrem) -> exec, retried on conflict.
func (s *redisStore) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	for attempt := 0; attempt < maxPopMinAttempts; attempt++ {
		var member string
		var found bool

		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			zs, err := tx.ZRangeWithScores(ctx, key, 0, 0).Result()
			if err != nil {
				return err
			}
			if len(zs) == 0 {
				found = false
				return nil
			}
			member, _ = zs[0].Member.(string)
			found = true

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, key, member)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the race, retry
		}
		if err != nil {
			return "", false, wrapErr(err)
		}
		return member, found, nil
	}
	return "", false, fmt.Errorf("%w: exceeded %d ZPopMin attempts on %s", ErrConflict, maxPopMinAttempts, key)
}

func (s *redisStore) Ping(ctx context.Context) error {
	return wrapErr(s.client.Ping(ctx).Err())
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
