package lease

import (
	"context"
	"strconv"

	"github.com/rtsyork/vlab/pkg/store"
)

// Attach registers a newly-connected board (grounded on
// boardattach.py): records its class membership, places it in the
// unlocked pool with score 0 (so a freshly attached board is the first
// candidate the LRU allocator considers), stamps its server/port, and
// clears any stale lock left over from a previous container instance.
func (l *Leases) Attach(ctx context.Context, serial, class, server string, port int) error {
	if err := l.db.SAdd(ctx, store.K.BoardClasses(), class); err != nil {
		return err
	}
	if err := l.db.SAdd(ctx, store.K.ClassBoards(class), serial); err != nil {
		return err
	}
	if err := l.db.ZAdd(ctx, store.K.ClassUnlocked(class), serial, 0); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.BoardUser(serial), "root"); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.BoardServer(serial), server); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.BoardPort(serial), strconv.Itoa(port)); err != nil {
		return err
	}
	return l.db.Del(ctx, store.K.LockUser(serial), store.K.LockTime(serial))
}

// Deregister removes a detached board's instance state (grounded on
// boarddetached.py). It does not touch "knownboards" or the board's
// static class/type/reset metadata, which survive across detach/attach
// cycles.
func (l *Leases) Deregister(ctx context.Context, serial, class string) error {
	if err := l.db.SRem(ctx, store.K.ClassBoards(class), serial); err != nil {
		return err
	}
	if err := l.db.ZRem(ctx, store.K.ClassUnlocked(class), serial); err != nil {
		return err
	}
	return l.db.Del(ctx,
		store.K.BoardUser(serial), store.K.BoardServer(serial), store.K.BoardPort(serial),
		store.K.LockUser(serial), store.K.LockTime(serial),
	)
}

// ReRegister re-announces a board's server/port without touching its
// pool membership (grounded on boardserver/register.py's periodic
// cron check-in: it must not mark a board available/unlocked on its
// own, leaving that to Attach, the relay's release paths and the lock
// sweeper's orphan repair).
func (l *Leases) ReRegister(ctx context.Context, serial, class, server string, port int) error {
	if err := l.db.SAdd(ctx, store.K.BoardClasses(), class); err != nil {
		return err
	}
	if err := l.db.SAdd(ctx, store.K.ClassBoards(class), serial); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.BoardUser(serial), "vlab"); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.BoardServer(serial), server); err != nil {
		return err
	}
	return l.db.Set(ctx, store.K.BoardPort(serial), strconv.Itoa(port))
}

// UpdatePort updates a board's registered port without touching any
// other state (grounded on boardrestart.py, which only the port may
// change on a container restart).
func (l *Leases) UpdatePort(ctx context.Context, serial string, port int) error {
	return l.db.Set(ctx, store.K.BoardPort(serial), strconv.Itoa(port))
}
