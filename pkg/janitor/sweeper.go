package janitor

import (
	"context"
	"strconv"
	"time"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/util"
)

// LockSweeper repairs stale lock/session state per class, skipping any
// class whose advisory locking[C] token is currently held so it never
// fights a request mid-allocation. Grounded on relay/checkboards.py's
// checkLocks, which walks the same four cases in the same priority:
// a lease held past its max lifetime is force-unlocked first (even if
// its session is still live); failing that, a lock nobody ever started
// a session under is cleared; failing that, a session that stopped
// pinging is torn down; failing that, a board sitting in no pool at all
// is returned to service.
type LockSweeper struct {
	leases      *lease.Leases
	ops         HostOps
	pingTimeout time.Duration
	maxLockTime time.Duration
}

// NewLockSweeper returns a LockSweeper.
func NewLockSweeper(leases *lease.Leases, ops HostOps, pingTimeout, maxLockTime time.Duration) *LockSweeper {
	return &LockSweeper{leases: leases, ops: ops, pingTimeout: pingTimeout, maxLockTime: maxLockTime}
}

func (s *LockSweeper) Name() string { return "locksweeper" }

func (s *LockSweeper) Run(ctx context.Context) error {
	classes, err := s.leases.BoardClasses(ctx)
	if err != nil {
		return err
	}
	for _, class := range classes {
		locked, err := s.leases.ClassLocked(ctx, class)
		if err != nil {
			util.WithClass(class).Warnf("locksweeper: check class lock: %v", err)
			continue
		}
		if locked {
			continue
		}
		s.sweepClass(ctx, class)
	}
	return nil
}

func (s *LockSweeper) sweepClass(ctx context.Context, class string) {
	boards, err := s.leases.BoardsInClass(ctx, class)
	if err != nil {
		util.WithClass(class).Warnf("locksweeper: list boards: %v", err)
		return
	}
	for _, serial := range boards {
		if err := s.sweepBoard(ctx, class, serial); err != nil {
			util.WithBoard(serial).WithClass(class).Warnf("locksweeper: %v", err)
		}
	}
}

func (s *LockSweeper) sweepBoard(ctx context.Context, class, serial string) error {
	info, err := s.leases.Snapshot(ctx, serial, class)
	if err != nil {
		return err
	}
	hasLock := info.LockUser != ""
	hasSession := info.SessionUser != ""
	now := time.Now()

	switch {
	case hasLock && now.Sub(info.LockTime) > s.maxLockTime:
		util.WithBoard(serial).WithClass(class).Warnf("lock held by %s past max lock time, force-unlocking", info.LockUser)
		_, err := s.leases.UnlockBoard(ctx, serial, class)
		return err

	case hasLock && !hasSession:
		util.WithBoard(serial).WithClass(class).Warnf("lock held by %s with no session ever started, clearing", info.LockUser)
		s.resetAndRestart(ctx, info, serial)
		_, err := s.leases.UnlockBoard(ctx, serial, class)
		return err

	case hasSession && now.Sub(info.SessionPing) > s.pingTimeout:
		util.WithBoard(serial).WithClass(class).Warnf("session for %s stopped pinging, repairing", info.SessionUser)
		s.resetAndRestart(ctx, info, serial)
		if _, err := s.leases.UnlockBoard(ctx, serial, class); err != nil {
			return err
		}
		return s.leases.EndSession(ctx, serial, class)

	case !hasLock && !hasSession && info.Status == lease.StatusUnknown:
		util.WithBoard(serial).WithClass(class).Warn("board found in no pool, repairing")
		s.resetAndRestart(ctx, info, serial)
		return s.leases.MarkAvailable(ctx, serial, class)
	}
	return nil
}

// resetAndRestart best-effort resets the FPGA then restarts its
// container; failures are logged, not propagated, so a board missing
// its server/port (never attached) doesn't block the unlock that
// follows.
func (s *LockSweeper) resetAndRestart(ctx context.Context, info lease.BoardInfo, serial string) {
	if info.Server == "" {
		return
	}
	if port, err := strconv.Atoi(info.Port); err == nil {
		if err := s.ops.ResetBoard(ctx, info.Server, port, serial); err != nil {
			util.WithBoard(serial).Warnf("reset failed: %v", err)
		}
	}
	if err := s.ops.RestartContainer(ctx, info.Server, serial); err != nil {
		util.WithBoard(serial).Warnf("container restart failed: %v", err)
	}
}
