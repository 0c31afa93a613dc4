package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

func TestHWTestRunner_PassReturnsToPool(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	tester := &fakeBoardTester{output: "garbage\n" + testMagic + "\n"}
	ops := &fakeHostOps{}
	runner := NewHWTestRunner(leases, ops, tester, time.Hour, time.Minute)

	must(t, runner.Run(ctx))

	if status, _, _ := db.Get(ctx, store.K.HWTestStatus("B1")); status != "pass" {
		t.Fatalf("expected pass status, got %q", status)
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassAvailable("vlab_zybo-z7"), "B1"); !ok {
		t.Fatal("expected board returned to available pool")
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassUnlocked("vlab_zybo-z7"), "B1"); !ok {
		t.Fatal("expected board returned to unlocked pool")
	}
	if len(ops.resets) != 1 {
		t.Fatalf("expected one post-test reset, got %v", ops.resets)
	}
	if _, ok, _ := db.Get(ctx, store.K.HWTestTesting("B1")); ok {
		t.Fatal("expected testing marker cleared")
	}
}

func TestHWTestRunner_FailLeavesOutOfPools(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	tester := &fakeBoardTester{output: "no magic here"}
	ops := &fakeHostOps{}
	runner := NewHWTestRunner(leases, ops, tester, time.Hour, time.Minute)

	must(t, runner.Run(ctx))

	if status, _, _ := db.Get(ctx, store.K.HWTestStatus("B1")); status != "fail" {
		t.Fatalf("expected fail status, got %q", status)
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassAvailable("vlab_zybo-z7"), "B1"); ok {
		t.Fatal("expected failed board absent from available pool")
	}
	if _, ok, _ := db.ZScore(ctx, store.K.ClassUnlocked("vlab_zybo-z7"), "B1"); ok {
		t.Fatal("expected failed board absent from unlocked pool")
	}
}

func TestHWTestRunner_TesterErrorRecordsFail(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	tester := &fakeBoardTester{err: errors.New("ssh dial failed")}
	ops := &fakeHostOps{}
	runner := NewHWTestRunner(leases, ops, tester, time.Hour, time.Minute)

	must(t, runner.Run(ctx))

	if status, _, _ := db.Get(ctx, store.K.HWTestStatus("B1")); status != "fail" {
		t.Fatalf("expected fail status, got %q", status)
	}
}

func TestHWTestRunner_SkipsLockedBoard(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.LockBoard(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))

	tester := &fakeBoardTester{output: testMagic}
	ops := &fakeHostOps{}
	runner := NewHWTestRunner(leases, ops, tester, time.Hour, time.Minute)

	must(t, runner.Run(ctx))

	if len(ops.resets) != 0 {
		t.Fatal("expected a locked board to be left untested")
	}
}

func TestHWTestRunner_SkipsWhenAlreadyRunning(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	acquired, err := leases.TryStartHWTestRun(ctx, time.Hour)
	must(t, err)
	if !acquired {
		t.Fatal("expected to acquire run lease in test setup")
	}

	tester := &fakeBoardTester{output: testMagic}
	ops := &fakeHostOps{}
	runner := NewHWTestRunner(leases, ops, tester, time.Hour, time.Minute)
	must(t, runner.Run(ctx))

	if len(ops.resets) != 0 {
		t.Fatal("expected no boards tested while another run holds the lease")
	}
}

func TestHWTestRunner_TriggerForcesRunDespiteActiveLease(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))

	acquired, err := leases.TryStartHWTestRun(ctx, time.Hour)
	must(t, err)
	if !acquired {
		t.Fatal("expected to acquire run lease in test setup")
	}
	must(t, leases.SetHWTestTrigger(ctx))

	tester := &fakeBoardTester{output: testMagic}
	ops := &fakeHostOps{}
	runner := NewHWTestRunner(leases, ops, tester, time.Hour, time.Minute)
	must(t, runner.Run(ctx))

	if len(ops.resets) != 1 {
		t.Fatal("expected the trigger to force a run despite the held lease")
	}
	triggered, err := leases.HWTestTriggered(ctx)
	must(t, err)
	if triggered {
		t.Fatal("expected trigger consumed")
	}
}
