package lease

import (
	"context"
	"strconv"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

// LockingTTL is the default TTL for the class-wide advisory token.
const LockingTTL = 2 * time.Second

// TryLockClass sets the transient locking[C] token used to coarse-
// serialize concurrent requests on the same class. It is advisory only:
// the real mutual exclusion is ZPopMin's atomicity; this token exists so
// the sweeper knows not to intervene mid-allocation. If another
// requester already holds it, the caller may still proceed.
func (l *Leases) TryLockClass(ctx context.Context, class string) (bool, error) {
	return l.db.SetNX(ctx, store.K.ClassLocking(class), "1", LockingTTL)
}

// ClassLocked reports whether class currently has its advisory token
// set (used by the sweeper to skip classes mid-allocation).
func (l *Leases) ClassLocked(ctx context.Context, class string) (bool, error) {
	_, ok, err := l.db.Get(ctx, store.K.ClassLocking(class))
	return ok, err
}

// KnownBoard is the static metadata for a serial as owned by the config
// reload operation.
type KnownBoard struct {
	Serial string
	Class  string
	Type   string
	Reset  bool
}

// KnownBoard fetches serial's static metadata.
func (l *Leases) KnownBoard(ctx context.Context, serial string) (KnownBoard, bool, error) {
	known, err := l.db.SIsMember(ctx, store.K.KnownBoards(), serial)
	if err != nil {
		return KnownBoard{}, false, err
	}
	if !known {
		return KnownBoard{}, false, nil
	}
	kb := KnownBoard{Serial: serial}
	if v, ok, err := l.db.Get(ctx, store.K.KnownBoardClass(serial)); err != nil {
		return kb, false, err
	} else if ok {
		kb.Class = v
	}
	if v, ok, err := l.db.Get(ctx, store.K.KnownBoardType(serial)); err != nil {
		return kb, false, err
	} else if ok {
		kb.Type = v
	}
	if v, ok, err := l.db.Get(ctx, store.K.KnownBoardReset(serial)); err != nil {
		return kb, false, err
	} else if ok {
		kb.Reset = v == "true"
	}
	return kb, true, nil
}

// BoardClasses lists every known board class.
func (l *Leases) BoardClasses(ctx context.Context) ([]string, error) {
	return l.db.SMembers(ctx, store.K.BoardClasses())
}

// BoardsInClass lists every serial known to belong to class.
func (l *Leases) BoardsInClass(ctx context.Context, class string) ([]string, error) {
	return l.db.SMembers(ctx, store.K.ClassBoards(class))
}

// IsUser reports whether user is a registered VLAB user.
func (l *Leases) IsUser(ctx context.Context, user string) (bool, error) {
	return l.db.SIsMember(ctx, store.K.Users(), user)
}

// IsOverlord reports whether user has overlord privileges.
func (l *Leases) IsOverlord(ctx context.Context, user string) (bool, error) {
	_, ok, err := l.db.Get(ctx, store.K.UserOverlord(user))
	return ok, err
}

// AllowedClass reports whether user is permitted to use class.
func (l *Leases) AllowedClass(ctx context.Context, user, class string) (bool, error) {
	return l.db.SIsMember(ctx, store.K.UserAllowedClasses(user), class)
}

// IsKnownClass reports whether class is registered.
func (l *Leases) IsKnownClass(ctx context.Context, class string) (bool, error) {
	return l.db.SIsMember(ctx, store.K.BoardClasses(), class)
}

// UnlockedCount reports how many boards of class remain in the unlocked
// pool, for the access log's "N remaining in set" LOCK line.
func (l *Leases) UnlockedCount(ctx context.Context, class string) (int64, error) {
	return l.db.ZCard(ctx, store.K.ClassUnlocked(class))
}

// SeedPortCounter initializes the ephemeral port counter to lo if it has
// never been set, using setnx so a reload (or any repeated call) never
// rewinds a counter that has already advanced. Grounded on spec.md
// §4.5's "port-counter is initialized with setnx only."
func (l *Leases) SeedPortCounter(ctx context.Context, lo int64) error {
	_, err := l.db.SetNX(ctx, store.K.PortCounter(), strconv.FormatInt(lo, 10), 0)
	return err
}

// NextPort increments the ephemeral port counter, wrapping back to lo
// when it exceeds or equals hi.
func (l *Leases) NextPort(ctx context.Context, lo, hi int64) (int64, error) {
	port, err := l.db.Incr(ctx, store.K.PortCounter())
	if err != nil {
		return 0, err
	}
	if port >= hi {
		port = lo
		if err := l.db.Set(ctx, store.K.PortCounter(), strconv.FormatInt(port, 10)); err != nil {
			return 0, err
		}
	}
	return port, nil
}
