// Package storetest wires a hermetic, real-protocol Redis server
// (miniredis) for tests of pkg/lease, pkg/janitor, and pkg/relay, so
// their CAS / TTL / sorted-set behavior is exercised against actual
// Redis semantics rather than a hand-rolled fake store.
package storetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/rtsyork/vlab/pkg/store"
)

// New starts an in-process miniredis server and returns a Store backed
// by it. The server and client are closed automatically via t.Cleanup.
func New(t *testing.T) store.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})

	return store.NewRedisStoreFromClient(client)
}

// Miniredis starts and returns the underlying *miniredis.Miniredis
// alongside the Store, for tests that need to manipulate fake time
// (e.g. FastForward) to exercise TTL expiry deterministically.
func Miniredis(t *testing.T) (store.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
	})

	return store.NewRedisStoreFromClient(client), mr
}
