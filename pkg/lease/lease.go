// Package lease provides type-safe operations on the control store:
// lock/unlock, session start/end/ping, least-recently-used allocation,
// and the guard-and-act ("IfUserAndTime") variants used on release paths
// so that a stale releaser can never clobber a fresh lease.
//
// Outside tests, the only other importers of pkg/store are the cmd/
// binaries, which construct the Store this package is given.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

// Leases wraps a Store with the C2 operations from the VLAB design.
type Leases struct {
	db store.Store
}

// New returns a Leases bound to db.
func New(db store.Store) *Leases {
	return &Leases{db: db}
}

// Ping verifies the underlying control store is reachable, for the
// observability API's health check.
func (l *Leases) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// Claim identifies the holder of a lock or session for guard-and-act
// operations: "act only if still held by user as of time at".
type Claim struct {
	User string
	At   time.Time
}

func epoch(t time.Time) string { return fmt.Sprintf("%d", t.Unix()) }

// LockBoard records board s of class class as held by user at time t.
// The caller must already hold the class's advisory locking[C] token, or
// be acting under the mutual exclusion of ZPopMin — no atomicity across
// the three underlying writes is required.
func (l *Leases) LockBoard(ctx context.Context, s, class, user string, t time.Time) error {
	if err := l.db.ZRem(ctx, store.K.ClassUnlocked(class), s); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.LockUser(s), user); err != nil {
		return err
	}
	return l.db.Set(ctx, store.K.LockTime(s), epoch(t))
}

// UnlockBoard clears the lock on s and returns it to the unlocked pool
// of class, scored by now (so LRU allocation finds it later, having had
// the most time to cool down once other boards are released sooner).
func (l *Leases) UnlockBoard(ctx context.Context, s, class string) (bool, error) {
	if err := l.db.Del(ctx, store.K.LockUser(s), store.K.LockTime(s)); err != nil {
		return false, err
	}
	if err := l.db.ZAdd(ctx, store.K.ClassUnlocked(class), s, float64(time.Now().Unix())); err != nil {
		return false, err
	}
	return true, nil
}

// UnlockBoardIfUser unlocks s only if it is currently locked by user.
func (l *Leases) UnlockBoardIfUser(ctx context.Context, s, class, user string) (bool, error) {
	cur, ok, err := l.db.Get(ctx, store.K.LockUser(s))
	if err != nil {
		return false, err
	}
	if !ok || cur != user {
		return false, nil
	}
	return l.UnlockBoard(ctx, s, class)
}

// UnlockBoardIfUserAndTime unlocks s only if it is locked by user at
// exactly time t. Used on release paths so a slow teardown following a
// preemption cannot damage the new owner's lock.
func (l *Leases) UnlockBoardIfUserAndTime(ctx context.Context, s, class, user string, t time.Time) (bool, error) {
	cur, ok, err := l.db.Get(ctx, store.K.LockTime(s))
	if err != nil {
		return false, err
	}
	if !ok || cur != epoch(t) {
		return false, nil
	}
	return l.UnlockBoardIfUser(ctx, s, class, user)
}

// StartSession locks s for user (if not already) and begins their
// session: removes s from the available pool and stamps session
// user/start/ping.
func (l *Leases) StartSession(ctx context.Context, s, class, user string, t time.Time) error {
	if err := l.LockBoard(ctx, s, class, user, t); err != nil {
		return err
	}
	if err := l.db.ZRem(ctx, store.K.ClassAvailable(class), s); err != nil {
		return err
	}
	ts := epoch(t)
	if err := l.db.Set(ctx, store.K.SessionUser(s), user); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.SessionStart(s), ts); err != nil {
		return err
	}
	return l.db.Set(ctx, store.K.SessionPing(s), ts)
}

// EndSession clears the session keys and returns s to the available
// pool. It does not implicitly unlock — the unlock may already have
// happened via expiry.
func (l *Leases) EndSession(ctx context.Context, s, class string) error {
	if err := l.db.Del(ctx, store.K.SessionUser(s), store.K.SessionStart(s), store.K.SessionPing(s)); err != nil {
		return err
	}
	return l.db.ZAdd(ctx, store.K.ClassAvailable(class), s, float64(time.Now().Unix()))
}

// EndSessionIfUser ends the session on s only if it belongs to user.
func (l *Leases) EndSessionIfUser(ctx context.Context, s, class, user string) (bool, error) {
	cur, ok, err := l.db.Get(ctx, store.K.SessionUser(s))
	if err != nil {
		return false, err
	}
	if !ok || cur != user {
		return false, nil
	}
	return true, l.EndSession(ctx, s, class)
}

// EndSessionIfUserAndTime ends the session only if it belongs to user
// and started at exactly t.
func (l *Leases) EndSessionIfUserAndTime(ctx context.Context, s, class, user string, t time.Time) (bool, error) {
	cur, ok, err := l.db.Get(ctx, store.K.SessionStart(s))
	if err != nil {
		return false, err
	}
	if !ok || cur != epoch(t) {
		return false, nil
	}
	return l.EndSessionIfUser(ctx, s, class, user)
}

// PingSession refreshes the liveness timestamp on s's session.
func (l *Leases) PingSession(ctx context.Context, s string, now time.Time) error {
	return l.db.Set(ctx, store.K.SessionPing(s), epoch(now))
}

// PingSessionIfUserAndTime refreshes the ping only if s's session still
// belongs to user and started at exactly t. Returns false if another
// user's session has taken over — the caller (the relay's keep-alive
// loop) must then terminate the tunnel.
func (l *Leases) PingSessionIfUserAndTime(ctx context.Context, s, user string, t time.Time, now time.Time) (bool, error) {
	curUser, ok, err := l.db.Get(ctx, store.K.SessionUser(s))
	if err != nil {
		return false, err
	}
	if !ok || curUser != user {
		return false, nil
	}
	curStart, ok, err := l.db.Get(ctx, store.K.SessionStart(s))
	if err != nil {
		return false, err
	}
	if !ok || curStart != epoch(t) {
		return false, nil
	}
	return true, l.PingSession(ctx, s, now)
}

// AllocateAvailable atomically pops the lowest-scored (most-idle) member
// of class's available pool. Returns ok=false if none are available.
func (l *Leases) AllocateAvailable(ctx context.Context, class string) (string, bool, error) {
	return l.db.ZPopMin(ctx, store.K.ClassAvailable(class))
}

// AllocateUnlocked atomically pops the lowest-scored member of class's
// unlocked pool: an in-use board whose lease has expired, whose previous
// session may still be in flight.
func (l *Leases) AllocateUnlocked(ctx context.Context, class string) (string, bool, error) {
	return l.db.ZPopMin(ctx, store.K.ClassUnlocked(class))
}

// ClaimSpecificUnlocked withdraws one named serial from class's unlocked
// pool, for the allocation policy's "specific serial" path (permitted
// only for overlords). Unlike ZPopMin this targets a single member, so
// it is check-then-remove rather than a single atomic op; a racing
// sweeper could in principle interleave, but the advisory locking[C]
// token coarsely serializes against that window.
func (l *Leases) ClaimSpecificUnlocked(ctx context.Context, class, serial string) (bool, error) {
	_, ok, err := l.db.ZScore(ctx, store.K.ClassUnlocked(class), serial)
	if err != nil || !ok {
		return false, err
	}
	if err := l.db.ZRem(ctx, store.K.ClassUnlocked(class), serial); err != nil {
		return false, err
	}
	return true, nil
}

// ClassOf finds the class a serial belongs to by scanning all known
// classes (no back-links are kept in the store; see DESIGN NOTES).
func (l *Leases) ClassOf(ctx context.Context, s string) (string, bool, error) {
	classes, err := l.db.SMembers(ctx, store.K.BoardClasses())
	if err != nil {
		return "", false, err
	}
	for _, c := range classes {
		member, err := l.db.SIsMember(ctx, store.K.ClassBoards(c), s)
		if err != nil {
			return "", false, err
		}
		if member {
			return c, true, nil
		}
	}
	return "", false, nil
}

// RemoveBoard deletes s from all class sets and all of its instance
// keys. Used when the reachability prober gives up on a board.
func (l *Leases) RemoveBoard(ctx context.Context, s string) error {
	class, found, err := l.ClassOf(ctx, s)
	if err != nil {
		return err
	}
	if found {
		if err := l.db.SRem(ctx, store.K.ClassBoards(class), s); err != nil {
			return err
		}
		if err := l.db.ZRem(ctx, store.K.ClassAvailable(class), s); err != nil {
			return err
		}
		if err := l.db.ZRem(ctx, store.K.ClassUnlocked(class), s); err != nil {
			return err
		}
	}
	return l.db.Del(ctx,
		store.K.BoardServer(s), store.K.BoardPort(s), store.K.BoardUser(s),
		store.K.LockUser(s), store.K.LockTime(s),
		store.K.SessionUser(s), store.K.SessionStart(s), store.K.SessionPing(s),
	)
}

// UnlockBoardsHeldBy releases every lock currently held by user, across
// every board class. Used when a user's account is removed by a config
// reload.
func (l *Leases) UnlockBoardsHeldBy(ctx context.Context, user string) error {
	classes, err := l.db.SMembers(ctx, store.K.BoardClasses())
	if err != nil {
		return err
	}
	for _, c := range classes {
		boards, err := l.db.SMembers(ctx, store.K.ClassBoards(c))
		if err != nil {
			return err
		}
		for _, b := range boards {
			lockUser, ok, err := l.db.Get(ctx, store.K.LockUser(b))
			if err != nil {
				return err
			}
			if ok && lockUser == user {
				if _, err := l.UnlockBoard(ctx, b, c); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
