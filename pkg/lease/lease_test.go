package lease

import (
	"context"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/store/storetest"
)

func setupBoard(t *testing.T, db store.Store, class, serial string, availableSince time.Time) {
	t.Helper()
	ctx := context.Background()
	must(t, db.SAdd(ctx, store.K.BoardClasses(), class))
	must(t, db.SAdd(ctx, store.K.ClassBoards(class), serial))
	must(t, db.ZAdd(ctx, store.K.ClassAvailable(class), serial, float64(availableSince.Unix())))
	must(t, db.ZAdd(ctx, store.K.ClassUnlocked(class), serial, float64(availableSince.Unix())))
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartSession_RemovesFromPoolsAndLocks(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))

	now := time.Unix(200, 0)
	must(t, l.StartSession(ctx, "B1", "vlab_zybo", "alice", now))

	card, err := db.ZCard(ctx, store.K.ClassAvailable("vlab_zybo"))
	must(t, err)
	if card != 0 {
		t.Fatalf("expected B1 removed from available, card=%d", card)
	}

	lockUser, ok, err := db.Get(ctx, store.K.LockUser("B1"))
	must(t, err)
	if !ok || lockUser != "alice" {
		t.Fatalf("expected lock.user=alice, got %q ok=%v", lockUser, ok)
	}

	sessUser, ok, err := db.Get(ctx, store.K.SessionUser("B1"))
	must(t, err)
	if !ok || sessUser != "alice" {
		t.Fatalf("expected session.user=alice, got %q ok=%v", sessUser, ok)
	}
}

func TestStartSessionThenEndSession_RoundTrip(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))
	now := time.Unix(200, 0)

	must(t, l.StartSession(ctx, "B1", "vlab_zybo", "alice", now))
	must(t, l.EndSession(ctx, "B1", "vlab_zybo"))

	score, ok, err := db.ZScore(ctx, store.K.ClassAvailable("vlab_zybo"), "B1")
	must(t, err)
	if !ok {
		t.Fatal("expected B1 back in available pool")
	}
	_ = score

	if _, ok, err := db.Get(ctx, store.K.SessionUser("B1")); err != nil || ok {
		t.Fatalf("expected no session user, ok=%v err=%v", ok, err)
	}
}

func TestLockThenUnlock_RestoresUnlockedPool(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))
	must(t, l.LockBoard(ctx, "B1", "vlab_zybo", "alice", time.Unix(150, 0)))

	if _, ok, _ := db.ZScore(ctx, store.K.ClassUnlocked("vlab_zybo"), "B1"); ok {
		t.Fatal("expected B1 removed from unlocked pool while locked")
	}

	ok, err := l.UnlockBoard(ctx, "B1", "vlab_zybo")
	must(t, err)
	if !ok {
		t.Fatal("UnlockBoard should report true")
	}

	if _, ok, _ := db.ZScore(ctx, store.K.ClassUnlocked("vlab_zybo"), "B1"); !ok {
		t.Fatal("expected B1 back in unlocked pool")
	}
	if lockUser, ok, _ := db.Get(ctx, store.K.LockUser("B1")); ok {
		t.Fatalf("expected no lock user, got %q", lockUser)
	}
}

func TestUnlockBoardIfUserAndTime_Idempotent(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))
	at := time.Unix(150, 0)
	must(t, l.LockBoard(ctx, "B1", "vlab_zybo", "alice", at))

	ok1, err := l.UnlockBoardIfUserAndTime(ctx, "B1", "vlab_zybo", "alice", at)
	must(t, err)
	if !ok1 {
		t.Fatal("first call should succeed")
	}

	ok2, err := l.UnlockBoardIfUserAndTime(ctx, "B1", "vlab_zybo", "alice", at)
	must(t, err)
	if ok2 {
		t.Fatal("second call should be a no-op (lock already cleared)")
	}
}

func TestAllocateAvailable_Exclusive(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))

	s1, ok, err := l.AllocateAvailable(ctx, "vlab_zybo")
	must(t, err)
	if !ok || s1 != "B1" {
		t.Fatalf("expected B1, got %q ok=%v", s1, ok)
	}

	_, ok, err = l.AllocateAvailable(ctx, "vlab_zybo")
	must(t, err)
	if ok {
		t.Fatal("expected no second board available without an intervening EndSession")
	}
}

func TestAllocateAvailable_LRUOrder(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(200, 0))
	setupBoard(t, db, "vlab_zybo", "B2", time.Unix(100, 0))

	s, ok, err := l.AllocateAvailable(ctx, "vlab_zybo")
	must(t, err)
	if !ok || s != "B2" {
		t.Fatalf("expected lowest-scored (longest idle) B2 first, got %q", s)
	}
}

func TestPingSessionIfUserAndTime_DetectsPreemption(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))
	aliceStart := time.Unix(200, 0)
	must(t, l.StartSession(ctx, "B1", "vlab_zybo", "alice", aliceStart))

	// Alice's lease expires; bob takes over the board.
	must2(t, l.UnlockBoardIfUserAndTime(ctx, "B1", "vlab_zybo", "alice", aliceStart))
	s, ok, err := l.AllocateUnlocked(ctx, "vlab_zybo")
	must(t, err)
	if !ok || s != "B1" {
		t.Fatalf("expected bob to allocate B1 via unlocked pool, got %q ok=%v", s, ok)
	}

	// Alice's keep-alive ping should now report preemption.
	alive, err := l.PingSessionIfUserAndTime(ctx, "B1", "alice", aliceStart, time.Unix(260, 0))
	must(t, err)
	if alive {
		t.Fatal("expected alice's ping to detect preemption")
	}
}

func must2(t *testing.T, ok bool, err error) {
	t.Helper()
	must(t, err)
	if !ok {
		t.Fatal("expected guard to succeed")
	}
}

func TestRemoveBoard_ClearsAllState(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	setupBoard(t, db, "vlab_zybo", "B1", time.Unix(100, 0))
	must(t, db.Set(ctx, store.K.BoardServer("B1"), "host1"))

	must(t, l.RemoveBoard(ctx, "B1"))

	members, err := db.SMembers(ctx, store.K.ClassBoards("vlab_zybo"))
	must(t, err)
	for _, m := range members {
		if m == "B1" {
			t.Fatal("B1 should be removed from boards set")
		}
	}
	if _, ok, _ := db.Get(ctx, store.K.BoardServer("B1")); ok {
		t.Fatal("expected server key deleted")
	}
}

func TestNextPort_WrapsAtHigh(t *testing.T) {
	db := storetest.New(t)
	l := New(db)
	ctx := context.Background()

	// Seeded so the next two getport calls land on 34999 then wrap to 30000,
	// matching the literal scenario in the spec ("with counter=34999, two
	// getport calls return 34999 and 30000").
	must(t, db.Set(ctx, store.K.PortCounter(), "34998"))

	p1, err := l.NextPort(ctx, 30000, 35000)
	must(t, err)
	if p1 != 34999 {
		t.Fatalf("expected 34999, got %d", p1)
	}

	p2, err := l.NextPort(ctx, 30000, 35000)
	must(t, err)
	if p2 != 30000 {
		t.Fatalf("expected wrap to 30000, got %d", p2)
	}
}
