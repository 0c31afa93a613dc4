package lease

import (
	"context"
	"strconv"
	"time"

	"github.com/rtsyork/vlab/pkg/store"
)

// Status is the tagged union a board's raw key tuple projects to (see
// DESIGN NOTES: "sum-typed board status"). Exactly one variant applies
// at any quiescent moment.
type Status int

const (
	StatusUnknown Status = iota
	StatusAvailable
	StatusInUseLocked
	StatusInUseUnlocked
	StatusHWTestFailed
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusInUseLocked:
		return "in_use_locked"
	case StatusInUseUnlocked:
		return "in_use_unlocked"
	case StatusHWTestFailed:
		return "hwtest_failed"
	default:
		return "unknown"
	}
}

// BoardInfo is a read-only snapshot of one board's state, used by the
// janitors and the observability API.
type BoardInfo struct {
	Serial       string
	Class        string
	Server       string
	Port         string
	Status       Status
	LockUser     string
	LockTime     time.Time
	SessionUser  string
	SessionStart time.Time
	SessionPing  time.Time
	HWTestStatus string
}

// Snapshot projects the raw key tuple for serial in class to a BoardInfo.
// Status priority, per spec: available iff the available pool contains
// it; else in_use_locked if a lock is set; else in_use_unlocked if the
// unlocked pool contains it while a session is present; else unknown.
// A failing hardware-test status overrides to StatusHWTestFailed, since
// invariant 7 requires such boards be absent from both pools.
func (l *Leases) Snapshot(ctx context.Context, serial, class string) (BoardInfo, error) {
	info := BoardInfo{Serial: serial, Class: class}

	if v, ok, err := l.db.Get(ctx, store.K.BoardServer(serial)); err != nil {
		return info, err
	} else if ok {
		info.Server = v
	}
	if v, ok, err := l.db.Get(ctx, store.K.BoardPort(serial)); err != nil {
		return info, err
	} else if ok {
		info.Port = v
	}

	lockUser, hasLock, err := l.db.Get(ctx, store.K.LockUser(serial))
	if err != nil {
		return info, err
	}
	if hasLock {
		info.LockUser = lockUser
		if v, ok, err := l.db.Get(ctx, store.K.LockTime(serial)); err != nil {
			return info, err
		} else if ok {
			info.LockTime = parseEpoch(v)
		}
	}

	sessUser, hasSession, err := l.db.Get(ctx, store.K.SessionUser(serial))
	if err != nil {
		return info, err
	}
	if hasSession {
		info.SessionUser = sessUser
		if v, ok, err := l.db.Get(ctx, store.K.SessionStart(serial)); err != nil {
			return info, err
		} else if ok {
			info.SessionStart = parseEpoch(v)
		}
		if v, ok, err := l.db.Get(ctx, store.K.SessionPing(serial)); err != nil {
			return info, err
		} else if ok {
			info.SessionPing = parseEpoch(v)
		}
	}

	hwStatus, _, err := l.db.Get(ctx, store.K.HWTestStatus(serial))
	if err != nil {
		return info, err
	}
	info.HWTestStatus = hwStatus

	available, ok, err := l.db.ZScore(ctx, store.K.ClassAvailable(class), serial)
	if err != nil {
		return info, err
	}
	_ = available

	if hwStatus == "fail" {
		info.Status = StatusHWTestFailed
		return info, nil
	}
	switch {
	case ok:
		info.Status = StatusAvailable
	case hasLock:
		info.Status = StatusInUseLocked
	default:
		unlockedSince, ok2, err := l.db.ZScore(ctx, store.K.ClassUnlocked(class), serial)
		if err != nil {
			return info, err
		}
		_ = unlockedSince
		if ok2 && hasSession {
			info.Status = StatusInUseUnlocked
		} else {
			info.Status = StatusUnknown
		}
	}

	return info, nil
}

func parseEpoch(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
