package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/store/storetest"
	"github.com/rtsyork/vlab/pkg/util"
)

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestRelay(t *testing.T, db store.Store) (*Relay, *lease.Leases) {
	t.Helper()
	leases := lease.New(db)
	logPath := t.TempDir() + "/access.log"
	w, err := accesslog.NewWriter(logPath, accesslog.RotationConfig{})
	must(t, err)
	t.Cleanup(func() { w.Close() })
	cfg := DefaultConfig()
	cfg.MaxLockTime = 600 * time.Second
	cfg.PingInterval = 10 * time.Second
	return New(leases, w, &fakeHostAgent{}, nil, cfg), leases
}

type fakeHostAgent struct {
	calls []string
	err   error
}

func (f *fakeHostAgent) Restart(ctx context.Context, host, serial string) error {
	f.calls = append(f.calls, serial)
	return f.err
}

func seedClass(t *testing.T, leases *lease.Leases, class string, serials ...string) {
	t.Helper()
	ctx := context.Background()
	for _, s := range serials {
		must(t, leases.Attach(ctx, s, class, "host1", 32000))
	}
}

func TestAllocate_UnknownClass(t *testing.T) {
	db := storetest.New(t)
	r, _ := newTestRelay(t, db)
	_, err := r.Allocate(context.Background(), "alice", "vlab_zybo-z7", "", false)
	if !errors.Is(err, util.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestAllocate_Unauthorized(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	seedClass(t, leases, "vlab_zybo-z7", "B1")
	must(t, db.SAdd(ctx, store.K.Users(), "alice"))

	_, err := r.Allocate(ctx, "alice", "vlab_zybo-z7", "", false)
	if !errors.Is(err, util.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAllocate_ReusesExistingLock(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	seedClass(t, leases, "vlab_zybo-z7", "B1", "B2")
	must(t, db.SAdd(ctx, store.K.Users(), "alice"))
	must(t, db.SAdd(ctx, store.K.UserAllowedClasses("alice"), "vlab_zybo-z7"))
	must(t, leases.LockBoard(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))

	alloc, err := r.Allocate(ctx, "alice", "vlab_zybo-z7", "", false)
	must(t, err)
	if alloc.Serial != "B1" || !alloc.Reused {
		t.Fatalf("expected reuse of B1, got %+v", alloc)
	}
}

func TestAllocate_AvailableThenUnlocked(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	seedClass(t, leases, "vlab_zybo-z7", "B1")
	must(t, db.SAdd(ctx, store.K.Users(), "alice"))
	must(t, db.SAdd(ctx, store.K.UserAllowedClasses("alice"), "vlab_zybo-z7"))

	alloc, err := r.Allocate(ctx, "alice", "vlab_zybo-z7", "", false)
	must(t, err)
	if alloc.Serial != "B1" || alloc.Reused {
		t.Fatalf("expected fresh allocation of B1, got %+v", alloc)
	}
}

func TestAllocate_NoFreeBoards(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	_ = leases
	must(t, db.SAdd(ctx, store.K.BoardClasses(), "vlab_zybo-z7"))
	must(t, db.SAdd(ctx, store.K.Users(), "alice"))
	must(t, db.SAdd(ctx, store.K.UserAllowedClasses("alice"), "vlab_zybo-z7"))

	_, err := r.Allocate(ctx, "alice", "vlab_zybo-z7", "", false)
	if !errors.Is(err, util.ErrNoFreeBoards) {
		t.Fatalf("expected ErrNoFreeBoards, got %v", err)
	}
}

func TestAllocate_SpecificSerialRequiresOverlord(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	seedClass(t, leases, "vlab_zybo-z7", "B1")
	must(t, db.SAdd(ctx, store.K.Users(), "alice"))
	must(t, db.SAdd(ctx, store.K.UserAllowedClasses("alice"), "vlab_zybo-z7"))

	_, err := r.Allocate(ctx, "alice", "vlab_zybo-z7", "B1", false)
	if !errors.Is(err, util.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-overlord specific request, got %v", err)
	}
}

func TestAllocate_SpecificSerialLockedByAnother(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	seedClass(t, leases, "vlab_zybo-z7", "B1")
	must(t, db.SAdd(ctx, store.K.Users(), "bob"))
	must(t, leases.LockBoard(ctx, "B1", "vlab_zybo-z7", "alice", time.Now()))

	_, err := r.Allocate(ctx, "bob", "vlab_zybo-z7", "B1", true)
	if !errors.Is(err, util.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
}

func TestAllocate_SpecificSerialClaimed(t *testing.T) {
	db := storetest.New(t)
	r, leases := newTestRelay(t, db)
	ctx := context.Background()
	seedClass(t, leases, "vlab_zybo-z7", "B1")
	must(t, db.SAdd(ctx, store.K.Users(), "root"))

	alloc, err := r.Allocate(ctx, "root", "vlab_zybo-z7", "B1", true)
	must(t, err)
	if alloc.Serial != "B1" {
		t.Fatalf("expected B1, got %+v", alloc)
	}
}
