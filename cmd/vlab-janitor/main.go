// vlab-janitor is the long-running daemon (C5) that repairs stale
// lock/session state, probes board reachability, runs hardware
// self-tests, and re-reads the configuration document on request. It
// unifies four independently-cron-scheduled scripts in the original
// implementation (checkboards.py's two sweeps, testboards.py,
// manage.py's reload path) onto one process, each sweep still isolated
// on its own ticker so a slow or failing sweep never blocks another.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rtsyork/vlab/pkg/janitor"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/util"
	"github.com/rtsyork/vlab/pkg/vlabsettings"
)

const (
	defaultKeyPath = "/vlab/keys/id_rsa"
	sweepInterval  = time.Minute
	hwtestInterval = time.Minute
	reloadInterval = 10 * time.Second
)

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

	addr := s.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewRedisStore(ctx, addr, 5, time.Second)
	if err != nil {
		return fmt.Errorf("connect to control store: %w", err)
	}
	defer db.Close()
	leases := lease.New(db)

	signers, err := loadSigners(defaultKeyPath)
	if err != nil {
		return fmt.Errorf("load janitor ssh key: %w", err)
	}

	ops := janitor.NewSSHHostOps(signers, s.GetSSHTimeout())
	tester := janitor.NewSSHBoardTester(signers, s.GetSSHTimeout(), 15*time.Second)

	lockSweeper := janitor.NewLockSweeper(leases, ops, s.GetPingTimeout(), s.GetMaxLockTime())
	prober := janitor.NewProber(leases, s.GetSSHTimeout())
	hwtest := janitor.NewHWTestRunner(leases, ops, tester, s.GetHWTestRunTTL(), s.GetHWTestTestingTTL())
	portLo, _ := s.GetPortRange()
	reloader := janitor.NewConfigReloader(leases, s.GetConfigPath(), int64(portLo))

	util.Infof("vlab-janitor starting against %s", addr)

	sched := janitor.NewScheduler()
	sched.Add(lockSweeper, sweepInterval)
	sched.Add(prober, sweepInterval)
	sched.Add(hwtest, hwtestInterval)
	sched.Add(reloader, reloadInterval)
	sched.Run(ctx)

	return nil
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
