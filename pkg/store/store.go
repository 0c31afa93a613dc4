// Package store provides the control store: a single, logical key/value
// service backing VLAB's shared board/class/user/lease/session state.
//
// It supports strings (with TTL and setnx semantics), sets, sorted sets,
// and an optimistic-concurrency transaction primitive over a watched
// key. Every other package composes on top of Store; nothing mutates
// the backing database directly.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned when the backing store cannot be
// reached. Callers at process start should retry with backoff; in
// steady state it should surface as a 503 to HTTP clients and cause
// janitors to skip their current tick.
var ErrStoreUnavailable = errors.New("store: unavailable")

// ErrConflict is returned by ZPopMin's optimistic transaction when a
// competing writer won the race. Implementations retry internally up
// to a bounded attempt count before giving up.
var ErrConflict = errors.New("store: conflict")

// Store is the control-plane key/value contract. All methods take a
// context so callers can bound suspension at any blocking operation.
type Store interface {
	// Strings
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (set bool, err error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted sets, scored by epoch seconds in VLAB's usage
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZScore(ctx context.Context, key, member string) (score float64, ok bool, err error)
	ZCard(ctx context.Context, key string) (int64, error)

	// ZPopMin atomically removes and returns the lowest-scored member of
	// a sorted set: watch -> read lowest -> multi(zrem) -> exec, retried
	// on conflict. Returns ok=false if the set was empty.
	ZPopMin(ctx context.Context, key string) (member string, ok bool, err error)

	// Ping verifies connectivity, used for the startup retry loop.
	Ping(ctx context.Context) error

	// Close releases any underlying connection resources.
	Close() error
}
