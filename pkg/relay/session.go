package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rtsyork/vlab/pkg/tunnel"
	"github.com/rtsyork/vlab/pkg/util"
)

// sleepBeforeScreen gives the container's sshd a moment to come up
// after a restart before the relay dials it.
var sleepBeforeScreen = 2 * time.Second

// Run drives one user connection through the full C4 state machine:
// NEW -> AUTH -> ALLOCATE -> PROVISION -> TUNNEL -> KEEPALIVE (loop) ->
// RELEASE -> DONE. arg is the raw command string the user's SSH session
// carried (the relay's ForceCommand argument); stdin/stdout/stderr are
// wired to the user's SSH channel.
func (r *Relay) Run(ctx context.Context, user, arg string, overlord bool, stdin io.Reader, stdout, stderr io.Writer) error {
	req, err := ParseRequest(arg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}

	if req.GetPort {
		port, err := r.leases.NextPort(ctx, r.cfg.PortLo, r.cfg.PortHi)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "VLABPORT:%d\n", port)
		return nil
	}

	// Advisory only: the janitor skips classes mid-allocation when this
	// token is set; losing the race to acquire it is not an error.
	if _, err := r.leases.TryLockClass(ctx, req.Class); err != nil {
		return err
	}

	alloc, err := r.Allocate(ctx, user, req.Class, req.Serial, overlord)
	if err != nil {
		if errors.Is(err, util.ErrNoFreeBoards) {
			r.accessLog.NoFreeBoards("relay", user, req.Class)
			fmt.Fprintf(stderr, "all boards of type %s are locked; try again in a few minutes\n", req.Class)
		} else {
			fmt.Fprintln(stderr, err)
		}
		return err
	}
	serial := alloc.Serial

	now := time.Now()
	if !alloc.Reused {
		if err := r.leases.StartSession(ctx, serial, req.Class, user, now); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		remaining, err := r.leases.UnlockedCount(ctx, req.Class)
		if err != nil {
			return fmt.Errorf("unlocked count: %w", err)
		}
		r.accessLog.Lock("relay", user, req.Class, serial, int(remaining))
		r.accessLog.Start("relay", user, req.Class, serial)
	}

	known, _, err := r.leases.KnownBoard(ctx, serial)
	if err != nil {
		return err
	}

	info, err := r.leases.Snapshot(ctx, serial, req.Class)
	if err != nil {
		return err
	}

	if err := r.hostAgent.Restart(ctx, info.Server, serial); err != nil {
		fmt.Fprintln(stderr, "fatal: container restart failed:", err)
		return fmt.Errorf("restart %s: %w", serial, err)
	}
	time.Sleep(sleepBeforeScreen)

	// Re-read: the restart may have changed the container's published port.
	info, err = r.leases.Snapshot(ctx, serial, req.Class)
	if err != nil {
		return err
	}

	t, err := tunnel.Dial(info.Server, atoiOr(info.Port, 0), r.cfg.ContainerUser, r.signers, "", r.cfg.SSHTimeout)
	if err != nil {
		fmt.Fprintln(stderr, "fatal:", err)
		return err
	}
	defer t.Close()

	if known.Reset {
		if _, err := t.ExecCommand(resetCommand()); err != nil {
			util.WithBoard(serial).Warnf("pre-session reset failed: %v", err)
		}
	}

	hwForward, err := t.ForwardLocal(req.TunnelPort, fmt.Sprintf("localhost:%d", r.cfg.HWServerRemotePort))
	if err != nil {
		return fmt.Errorf("forward hw-server port: %w", err)
	}
	defer hwForward.Close()

	webForward, err := t.ForwardLocal(0, fmt.Sprintf("localhost:%d", r.cfg.WebForwardRemotePort))
	if err != nil {
		return fmt.Errorf("forward web port: %w", err)
	}
	defer webForward.Close()

	expiry := now.Add(r.cfg.MaxLockTime).Format(time.RFC3339)
	caption := fmt.Sprintf("VLAB shell connected to %s:%s for %s (expires %s)", req.Class, serial, user, expiry)
	screenCmd := screenCommand(req.Class, caption)

	sess, err := t.InteractiveSession(screenCmd, stdin, stdout, stderr)
	if err != nil {
		return fmt.Errorf("start interactive session: %w", err)
	}

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- sess.Wait() }()

	keepAliveStop := make(chan struct{})
	go r.keepAlive(ctx, user, req.Class, serial, now, keepAliveStop, sess, stderr)

	select {
	case <-sessionDone:
	case <-ctx.Done():
		sess.Close()
		<-sessionDone
	}
	close(keepAliveStop)

	if known.Reset {
		if _, err := t.ExecCommand(resetCommand()); err != nil {
			util.WithBoard(serial).Warnf("teardown reset failed: %v", err)
		}
	}

	if _, err := r.leases.UnlockBoardIfUserAndTime(ctx, serial, req.Class, user, now); err != nil {
		util.WithBoard(serial).Warnf("release: unlock failed: %v", err)
	}
	if _, err := r.leases.EndSessionIfUserAndTime(ctx, serial, req.Class, user, now); err != nil {
		util.WithBoard(serial).Warnf("release: end session failed: %v", err)
	}
	r.accessLog.Release("relay", user, req.Class, serial)
	r.accessLog.End("relay", user, req.Class, serial)

	return nil
}

// keepAlive runs for the lifetime of the tunnel: it periodically drops
// the class-level lease once MAX_LOCK_TIME has elapsed (letting other
// users preempt while this one keeps their session), and checks whether
// another session has taken over the board, terminating the tunnel if
// so.
func (r *Relay) keepAlive(ctx context.Context, user, class, serial string, start time.Time, stop <-chan struct{}, sess interface{ Close() error }, stderr io.Writer) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(start) > r.cfg.MaxLockTime {
				if _, err := r.leases.UnlockBoardIfUserAndTime(ctx, serial, class, user, start); err != nil {
					util.WithBoard(serial).Warnf("keepalive: unlock failed: %v", err)
				}
			}
			ok, err := r.leases.PingSessionIfUserAndTime(ctx, serial, user, start, time.Now())
			if err != nil {
				util.WithBoard(serial).Warnf("keepalive: ping failed: %v", err)
				continue
			}
			if !ok {
				fmt.Fprintln(stderr, "\r\nyour lock has expired; another user has taken this board\r")
				sess.Close()
				return
			}
			r.accessLog.Ping("relay", user, class, serial)
		}
	}
}

func screenCommand(class, caption string) string {
	screenrc := fmt.Sprintf(
		`defhstatus "%s (VLAB)"\ncaption always\ncaption string "%s"`,
		class, caption,
	)
	return fmt.Sprintf(
		`echo -e '%s' > /vlab/vlabscreenrc; screen -c /vlab/vlabscreenrc -qdRR - /dev/ttyFPGA 115200; killall -q screen`,
		screenrc,
	)
}

func resetCommand() string {
	return "/opt/xsct/bin/xsdb /vlab/reset.tcl"
}

func atoiOr(s string, fallback int) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
