package janitor

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

func TestProber_RemovesUnreachableBoardAfterRetry(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	attempts := 0
	p := NewProber(leases, time.Second)
	p.retryDelay = time.Millisecond
	p.dial = func(network, address string, timeout time.Duration) (net.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	must(t, p.Run(ctx))

	if attempts != 2 {
		t.Fatalf("expected exactly one retry (2 attempts), got %d", attempts)
	}
	if _, found, _ := leases.ClassOf(ctx, "B1"); found {
		t.Fatal("expected board removed after exhausting its retry")
	}
	if _, ok, _ := db.Get(ctx, store.K.BoardServer("B1")); ok {
		t.Fatal("expected board instance state deleted")
	}
}

func TestProber_LeavesReachableBoardAlone(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	must(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	must(t, err)
	port, err := strconv.Atoi(portStr)
	must(t, err)

	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", host, port))

	p := NewProber(leases, time.Second)
	must(t, p.Run(ctx))

	if _, found, _ := leases.ClassOf(ctx, "B1"); !found {
		t.Fatal("expected reachable board left registered")
	}
}
