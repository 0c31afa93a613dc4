// vlab-relay is the per-connection session driver (C4). It is installed
// as the forced command for VLAB user SSH keys (sshd's ForceCommand or
// an authorized_keys "command=" entry): sshd authenticates the
// connecting user against the host's normal account database, then
// execs this binary as that OS user with the client's original command
// string in SSH_ORIGINAL_COMMAND.
//
//	vlab-relay
//
// reads:
//   - the invoking OS username, via os/user (sshd has already dropped
//     privileges to the VLAB user's account)
//   - SSH_ORIGINAL_COMMAND, the single argument described in spec.md §4.4
//     ("getport", "class:port", or "class:port:serial")
package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/relay"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/util"
	"github.com/rtsyork/vlab/pkg/vlabsettings"
)

const defaultKeyPath = "/vlab/keys/id_rsa"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	s, err := vlabsettings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("determine invoking user: %w", err)
	}

	cmd := os.Getenv("SSH_ORIGINAL_COMMAND")
	if cmd == "" {
		fmt.Fprintln(os.Stderr, "no command given; expected getport, class:port, or class:port:serial")
		return fmt.Errorf("%w: empty SSH_ORIGINAL_COMMAND", util.ErrValidationFailed)
	}

	addr := s.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	db, err := store.NewRedisStore(ctx, addr, 5, time.Second)
	if err != nil {
		return fmt.Errorf("connect to control store: %w", err)
	}
	defer db.Close()

	leases := lease.New(db)

	overlord, err := leases.IsOverlord(ctx, u.Username)
	if err != nil {
		return fmt.Errorf("check overlord status: %w", err)
	}
	known, err := leases.IsUser(ctx, u.Username)
	if err != nil {
		return fmt.Errorf("check user registration: %w", err)
	}
	if !known {
		fmt.Fprintf(os.Stderr, "user %s is not a VLAB user\n", u.Username)
		return fmt.Errorf("%w: %s", util.ErrUnauthorized, u.Username)
	}

	logWriter, err := accesslog.NewWriter(s.GetAccessLogPath(), accesslog.RotationConfig{
		MaxSizeBytes: int64(s.GetAccessLogMaxSizeMB()) * 1024 * 1024,
		MaxBackups:   s.GetAccessLogBackups(),
	})
	if err != nil {
		return fmt.Errorf("open access log: %w", err)
	}
	defer logWriter.Close()

	signers, err := loadSigners(defaultKeyPath)
	if err != nil {
		return fmt.Errorf("load relay key: %w", err)
	}

	cfg := relay.DefaultConfig()
	lo, hi := s.GetPortRange()
	cfg.PortLo, cfg.PortHi = int64(lo), int64(hi)
	cfg.MaxLockTime = s.GetMaxLockTime()
	cfg.PingInterval = s.GetPingInterval()
	cfg.SSHTimeout = s.GetSSHTimeout()

	hostAgent := relay.NewSSHHostAgent("root", signers, cfg.SSHTimeout)
	r := relay.New(leases, logWriter, hostAgent, signers, cfg)

	return r.Run(ctx, u.Username, cmd, overlord, os.Stdin, os.Stdout, os.Stderr)
}

func loadSigners(path string) ([]ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, err
	}
	return []ssh.Signer{signer}, nil
}
