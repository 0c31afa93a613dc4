package janitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

func TestLockSweeper_ForceUnlocksExpiredLock(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	old := time.Now().Add(-time.Hour)
	must(t, leases.StartSession(ctx, "B1", "vlab_zybo-z7", "alice", old))
	must(t, db.Set(ctx, store.K.SessionPing("B1"), epochNow()))

	ops := &fakeHostOps{}
	sweeper := NewLockSweeper(leases, ops, time.Hour, 10*time.Minute)
	must(t, sweeper.Run(ctx))

	if _, ok, _ := db.Get(ctx, store.K.LockUser("B1")); ok {
		t.Fatal("expected expired lock cleared")
	}
	if _, ok, _ := db.Get(ctx, store.K.SessionUser("B1")); !ok {
		t.Fatal("expected session left intact (force-unlock must not end the session)")
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassUnlocked("vlab_zybo-z7"), "B1"); !ok {
		t.Fatal("expected board returned to unlocked pool")
	}
	if len(ops.resets) != 0 {
		t.Fatal("expected no reset for a simple expired-lock force-unlock")
	}
}

func TestLockSweeper_ClearsHalfLockedBoard(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.LockBoard(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))

	ops := &fakeHostOps{}
	sweeper := NewLockSweeper(leases, ops, time.Hour, time.Hour)
	must(t, sweeper.Run(ctx))

	if _, ok, _ := db.Get(ctx, store.K.LockUser("B1")); ok {
		t.Fatal("expected half-locked board cleared")
	}
	if len(ops.resets) != 1 || ops.resets[0] != "B1" {
		t.Fatalf("expected reset of B1, got %v", ops.resets)
	}
	if len(ops.restarts) != 1 {
		t.Fatalf("expected container restart, got %v", ops.restarts)
	}
}

func TestLockSweeper_RepairsDeadSession(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.StartSession(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))
	must(t, db.Set(ctx, store.K.SessionPing("B1"), epochSecondsAgo(time.Hour)))

	ops := &fakeHostOps{}
	sweeper := NewLockSweeper(leases, ops, time.Minute, time.Hour)
	must(t, sweeper.Run(ctx))

	if _, ok, _ := db.Get(ctx, store.K.SessionUser("B1")); ok {
		t.Fatal("expected dead session ended")
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassAvailable("vlab_zybo-z7"), "B1"); !ok {
		t.Fatal("expected board returned to available pool")
	}
	if len(ops.resets) != 1 || len(ops.restarts) != 1 {
		t.Fatalf("expected one reset and one restart, got resets=%v restarts=%v", ops.resets, ops.restarts)
	}
}

func TestLockSweeper_RepairsOrphanedBoard(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, db.ZRem(ctx, store.K.ClassUnlocked("vlab_zybo-z7"), "B1"))

	ops := &fakeHostOps{}
	sweeper := NewLockSweeper(leases, ops, time.Hour, time.Hour)
	must(t, sweeper.Run(ctx))

	if _, ok, _ := db.ZScore(ctx, store.K.ClassAvailable("vlab_zybo-z7"), "B1"); !ok {
		t.Fatal("expected orphaned board returned to available pool")
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassUnlocked("vlab_zybo-z7"), "B1"); !ok {
		t.Fatal("expected orphaned board returned to unlocked pool")
	}
	if len(ops.resets) != 1 || len(ops.restarts) != 1 {
		t.Fatalf("expected repair to reset and restart, got resets=%v restarts=%v", ops.resets, ops.restarts)
	}
}

func TestLockSweeper_SkipsClassUnderAllocation(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.LockBoard(ctx, "B1", "vlab_zybo-z7", "alice", time.Now().Add(-time.Hour)))
	if _, err := leases.TryLockClass(ctx, "vlab_zybo-z7"); err != nil {
		t.Fatal(err)
	}

	ops := &fakeHostOps{}
	sweeper := NewLockSweeper(leases, ops, time.Hour, time.Minute)
	must(t, sweeper.Run(ctx))

	if _, ok, _ := db.Get(ctx, store.K.LockUser("B1")); !ok {
		t.Fatal("expected lock left untouched while class is under allocation")
	}
}

func epochNow() string { return epochSecondsAgo(0) }

func epochSecondsAgo(d time.Duration) string {
	return timeEpoch(time.Now().Add(-d))
}

func timeEpoch(t time.Time) string {
	return fmt.Sprintf("%d", t.Unix())
}
