package lease

import (
	"context"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

// MarkAvailable returns a serial to both the unlocked and available
// pools of class, scored by now. Used to repair orphaned boards (the
// lock/session sweeper) and to return a board that passed its hardware
// self-test (grounded on testboards.py's return_board).
func (l *Leases) MarkAvailable(ctx context.Context, s, class string) error {
	now := float64(time.Now().Unix())
	if err := l.db.ZAdd(ctx, store.K.ClassUnlocked(class), s, now); err != nil {
		return err
	}
	return l.db.ZAdd(ctx, store.K.ClassAvailable(class), s, now)
}

// WithdrawFromPools removes a serial from both the unlocked and
// available pools, reporting whether it had been in either (grounded on
// testboards.py's withdraw_board, used to atomically pull a board aside
// for a hardware self-test).
func (l *Leases) WithdrawFromPools(ctx context.Context, s, class string) (bool, error) {
	_, inAvailable, err := l.db.ZScore(ctx, store.K.ClassAvailable(class), s)
	if err != nil {
		return false, err
	}
	_, inUnlocked, err := l.db.ZScore(ctx, store.K.ClassUnlocked(class), s)
	if err != nil {
		return false, err
	}
	if err := l.db.ZRem(ctx, store.K.ClassAvailable(class), s); err != nil {
		return false, err
	}
	if err := l.db.ZRem(ctx, store.K.ClassUnlocked(class), s); err != nil {
		return false, err
	}
	return inAvailable || inUnlocked, nil
}

// Users lists every registered VLAB user.
func (l *Leases) Users(ctx context.Context) ([]string, error) {
	return l.db.SMembers(ctx, store.K.Users())
}

// AllowedClasses lists the board classes user is permitted to request.
func (l *Leases) AllowedClasses(ctx context.Context, user string) ([]string, error) {
	return l.db.SMembers(ctx, store.K.UserAllowedClasses(user))
}

// SetUser adds or updates a user's ACL entry to match a config document:
// registers the user, sets or clears their overlord flag, and
// reconciles their allowed-class set to exactly allowedClasses.
func (l *Leases) SetUser(ctx context.Context, user string, overlord bool, allowedClasses []string) error {
	if err := l.db.SAdd(ctx, store.K.Users(), user); err != nil {
		return err
	}

	if overlord {
		if err := l.db.Set(ctx, store.K.UserOverlord(user), "1"); err != nil {
			return err
		}
	} else {
		if err := l.db.Del(ctx, store.K.UserOverlord(user)); err != nil {
			return err
		}
	}

	current, err := l.AllowedClasses(ctx, user)
	if err != nil {
		return err
	}
	wanted := make(map[string]bool, len(allowedClasses))
	for _, c := range allowedClasses {
		wanted[c] = true
	}
	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[c] = true
	}
	for _, c := range current {
		if !wanted[c] {
			if err := l.db.SRem(ctx, store.K.UserAllowedClasses(user), c); err != nil {
				return err
			}
		}
	}
	for _, c := range allowedClasses {
		if !have[c] {
			if err := l.db.SAdd(ctx, store.K.UserAllowedClasses(user), c); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveUser drops a removed user's ACL (overlord flag, allowed-class
// set) and releases every lock they hold. Their OS account is left
// intact — that is outside VLAB's control store.
func (l *Leases) RemoveUser(ctx context.Context, user string) error {
	if err := l.UnlockBoardsHeldBy(ctx, user); err != nil {
		return err
	}
	if err := l.db.SRem(ctx, store.K.Users(), user); err != nil {
		return err
	}
	return l.db.Del(ctx, store.K.UserOverlord(user), store.K.UserAllowedClasses(user))
}

// SetKnownBoard registers or updates a board's static metadata from a
// config document (class, type, reset-on-connect flag). It does not
// touch the board's attached-instance state (server/port/lock/session),
// which the host agent owns exclusively.
func (l *Leases) SetKnownBoard(ctx context.Context, serial, class, boardType string, reset bool) error {
	if err := l.db.SAdd(ctx, store.K.KnownBoards(), serial); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.KnownBoardClass(serial), class); err != nil {
		return err
	}
	if err := l.db.Set(ctx, store.K.KnownBoardType(serial), boardType); err != nil {
		return err
	}
	resetStr := "false"
	if reset {
		resetStr = "true"
	}
	return l.db.Set(ctx, store.K.KnownBoardReset(serial), resetStr)
}

// RemoveKnownBoard drops a board's static metadata once its config
// entry disappears. A board still physically attached keeps running
// until the host agent's next detach event notices it is gone.
func (l *Leases) RemoveKnownBoard(ctx context.Context, serial string) error {
	if err := l.db.SRem(ctx, store.K.KnownBoards(), serial); err != nil {
		return err
	}
	return l.db.Del(ctx,
		store.K.KnownBoardClass(serial), store.K.KnownBoardType(serial), store.K.KnownBoardReset(serial),
	)
}

// KnownBoardSerials lists every serial with static metadata registered.
func (l *Leases) KnownBoardSerials(ctx context.Context) ([]string, error) {
	return l.db.SMembers(ctx, store.K.KnownBoards())
}

// ReloadRequested reports whether an operator has asked for the
// configuration document to be re-read.
func (l *Leases) ReloadRequested(ctx context.Context) (bool, error) {
	_, ok, err := l.db.Get(ctx, store.K.ConfigReload())
	return ok, err
}

// ConfigReloadTTL bounds how long a reload request can sit unconsumed
// before it self-clears, matching spec.md §4.6's `setex config.reload
// 120s`.
const ConfigReloadTTL = 120 * time.Second

// RequestReload flags the configuration document for re-reading. The
// flag self-clears after ConfigReloadTTL if no reloader ever observes
// it, rather than sticking forever.
func (l *Leases) RequestReload(ctx context.Context) error {
	return l.db.SetEX(ctx, store.K.ConfigReload(), "1", ConfigReloadTTL)
}

// ClearReloadRequest consumes the reload flag once a reload has started.
func (l *Leases) ClearReloadRequest(ctx context.Context) error {
	return l.db.Del(ctx, store.K.ConfigReload())
}
