package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

const testConfigDoc = `{
  "users": {
    "alice": {"overlord": true, "allowedboards": ["vlab_zybo-z7"]},
    "bob": {"allowedboards": ["vlab_zybo-z7", "vlab_basys3"]}
  },
  "boards": {
    "B1": {"class": "vlab_zybo-z7", "type": "zybo-z7"},
    "B2": {"class": "vlab_basys3", "type": "basys3", "reset": "true"}
  }
}
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vlab.conf")
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigReloader_AppliesNewUsersAndBoards(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	path := writeConfig(t, testConfigDoc)
	must(t, leases.RequestReload(ctx))

	r := NewConfigReloader(leases, path, 30000)
	must(t, r.Run(ctx))

	overlord, err := leases.IsOverlord(ctx, "alice")
	must(t, err)
	if !overlord {
		t.Fatal("expected alice to be overlord")
	}
	allowed, err := leases.AllowedClass(ctx, "bob", "vlab_basys3")
	must(t, err)
	if !allowed {
		t.Fatal("expected bob allowed vlab_basys3")
	}
	known, ok, err := leases.KnownBoard(ctx, "B2")
	must(t, err)
	if !ok || known.Class != "vlab_basys3" || !known.Reset {
		t.Fatalf("expected B2 known with reset true, got %+v (ok=%v)", known, ok)
	}

	triggered, err := leases.ReloadRequested(ctx)
	must(t, err)
	if triggered {
		t.Fatal("expected reload request consumed")
	}
}

func TestConfigReloader_RemovesDroppedUsersAndBoards(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	must(t, leases.SetUser(ctx, "carol", false, []string{"vlab_zybo-z7"}))
	must(t, leases.SetKnownBoard(ctx, "B9", "vlab_zybo-z7", "zybo-z7", false))

	path := writeConfig(t, testConfigDoc)
	must(t, leases.RequestReload(ctx))

	r := NewConfigReloader(leases, path, 30000)
	must(t, r.Run(ctx))

	isUser, err := leases.IsUser(ctx, "carol")
	must(t, err)
	if isUser {
		t.Fatal("expected carol removed")
	}
	_, ok, err := leases.KnownBoard(ctx, "B9")
	must(t, err)
	if ok {
		t.Fatal("expected B9 dropped from known boards")
	}
}

func TestConfigReloader_NoOpWithoutRequest(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	path := writeConfig(t, testConfigDoc)

	r := NewConfigReloader(leases, path, 30000)
	must(t, r.Run(ctx))

	isUser, err := leases.IsUser(ctx, "alice")
	must(t, err)
	if isUser {
		t.Fatal("expected no reload to have happened without a request")
	}
}

func TestConfigReloader_SeedsPortCounterOnFreshStore(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	path := writeConfig(t, testConfigDoc)

	r := NewConfigReloader(leases, path, 30000)
	must(t, r.Run(ctx))

	port, err := leases.NextPort(ctx, 30000, 35000)
	must(t, err)
	if port != 30001 {
		t.Fatalf("expected first getport after a fresh seed to be 30001, got %d", port)
	}
}

func TestConfigReloader_NeverRewindsAdvancedPortCounter(t *testing.T) {
	leases, _ := newLeases(t)
	ctx := context.Background()
	path := writeConfig(t, testConfigDoc)

	must(t, leases.SeedPortCounter(ctx, 30000))
	if _, err := leases.NextPort(ctx, 30000, 35000); err != nil {
		t.Fatal(err)
	}
	if _, err := leases.NextPort(ctx, 30000, 35000); err != nil {
		t.Fatal(err)
	}

	r := NewConfigReloader(leases, path, 30000)
	must(t, r.Run(ctx))

	port, err := leases.NextPort(ctx, 30000, 35000)
	must(t, err)
	if port != 30003 {
		t.Fatalf("expected reload's setnx seed to leave an already-advanced counter alone, got %d", port)
	}
}

func TestConfigReloader_RevokesLocksHeldByRemovedUser(t *testing.T) {
	leases, db := newLeases(t)
	ctx := context.Background()
	must(t, leases.SetUser(ctx, "carol", false, []string{"vlab_zybo-z7"}))
	must(t, leases.Attach(ctx, "B1", "vlab_zybo-z7", "host1", 32000))
	must(t, leases.LockBoard(ctx, "B1", "vlab_zybo-z7", "carol", time.Now()))

	path := writeConfig(t, testConfigDoc)
	must(t, leases.RequestReload(ctx))

	r := NewConfigReloader(leases, path, 30000)
	must(t, r.Run(ctx))

	if _, ok, _ := db.Get(ctx, store.K.LockUser("B1")); ok {
		t.Fatal("expected carol's lock released when her user entry was removed")
	}
}
