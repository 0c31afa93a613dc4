package relay

import (
	"context"
	"fmt"

	"github.com/rtsyork/vlab/pkg/util"
)

// Allocation is the outcome of the allocation policy: a serial, and
// whether it was reused from an existing lock/session the user already
// holds (in which case no new lease should be started).
type Allocation struct {
	Serial string
	Reused bool
}

// Allocate runs the five-step allocation policy from spec.md §4.4, in
// order, first hit wins:
//  1. a specific requested serial (overlord only) — reuse if the user
//     already holds it, else claim it out of the unlocked pool;
//  2. any board in the class already locked or sessioned by this user —
//     reuse it;
//  3. a fully idle board (AllocateAvailable);
//  4. an in-use board whose class-level lease has expired (AllocateUnlocked);
//  5. nothing — ErrNoFreeBoards.
func (r *Relay) Allocate(ctx context.Context, user, class, serial string, overlord bool) (Allocation, error) {
	known, err := r.leases.IsKnownClass(ctx, class)
	if err != nil {
		return Allocation{}, err
	}
	if !known {
		return Allocation{}, fmt.Errorf("unknown class %q: %w", class, util.ErrUnknownEntity)
	}

	if !overlord {
		allowed, err := r.leases.AllowedClass(ctx, user, class)
		if err != nil {
			return Allocation{}, err
		}
		if !allowed {
			return Allocation{}, fmt.Errorf("user %q is not permitted class %q: %w", user, class, util.ErrUnauthorized)
		}
	}

	if serial != "" {
		if !overlord {
			return Allocation{}, fmt.Errorf("selecting a specific board requires overlord: %w", util.ErrUnauthorized)
		}
		return r.allocateSpecific(ctx, user, class, serial)
	}

	if alloc, ok, err := r.reuseExisting(ctx, user, class); err != nil {
		return Allocation{}, err
	} else if ok {
		return alloc, nil
	}

	if s, ok, err := r.leases.AllocateAvailable(ctx, class); err != nil {
		return Allocation{}, err
	} else if ok {
		return Allocation{Serial: s}, nil
	}

	if s, ok, err := r.leases.AllocateUnlocked(ctx, class); err != nil {
		return Allocation{}, err
	} else if ok {
		return Allocation{Serial: s}, nil
	}

	return Allocation{}, fmt.Errorf("no free boards of class %q: %w", class, util.ErrNoFreeBoards)
}

func (r *Relay) allocateSpecific(ctx context.Context, user, class, serial string) (Allocation, error) {
	info, err := r.leases.Snapshot(ctx, serial, class)
	if err != nil {
		return Allocation{}, err
	}
	if info.LockUser == user || info.SessionUser == user {
		return Allocation{Serial: serial, Reused: true}, nil
	}

	claimed, err := r.leases.ClaimSpecificUnlocked(ctx, class, serial)
	if err != nil {
		return Allocation{}, err
	}
	if !claimed {
		owner := info.LockUser
		if owner == "" {
			owner = "another user"
		}
		return Allocation{}, fmt.Errorf("board %s locked by %s: %w", serial, owner, util.ErrInUse)
	}
	return Allocation{Serial: serial}, nil
}

// reuseExisting implements policy step 2: scan every board in class for
// one already locked or sessioned by user.
func (r *Relay) reuseExisting(ctx context.Context, user, class string) (Allocation, bool, error) {
	boards, err := r.leases.BoardsInClass(ctx, class)
	if err != nil {
		return Allocation{}, false, err
	}
	for _, s := range boards {
		info, err := r.leases.Snapshot(ctx, s, class)
		if err != nil {
			return Allocation{}, false, err
		}
		if info.LockUser == user || info.SessionUser == user {
			return Allocation{Serial: s, Reused: true}, true, nil
		}
	}
	return Allocation{}, false, nil
}
