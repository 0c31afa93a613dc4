package janitor

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/util"
)

// Prober confirms every registered board still accepts TCP connections
// on its announced server:port, giving each a single 3-second-delayed
// retry before giving up on it entirely. Grounded on
// relay/checkboards.py's checkSSHToBoards.
type Prober struct {
	leases     *lease.Leases
	dial       func(network, address string, timeout time.Duration) (net.Conn, error)
	timeout    time.Duration
	retryDelay time.Duration
}

// NewProber returns a Prober dialing with the real network stack.
func NewProber(leases *lease.Leases, timeout time.Duration) *Prober {
	return &Prober{leases: leases, dial: net.DialTimeout, timeout: timeout, retryDelay: 3 * time.Second}
}

func (p *Prober) Name() string { return "reachability" }

func (p *Prober) Run(ctx context.Context) error {
	classes, err := p.leases.BoardClasses(ctx)
	if err != nil {
		return err
	}
	for _, class := range classes {
		boards, err := p.leases.BoardsInClass(ctx, class)
		if err != nil {
			util.WithClass(class).Warnf("reachability: list boards: %v", err)
			continue
		}
		for _, serial := range boards {
			if err := p.probeBoard(ctx, class, serial); err != nil {
				util.WithBoard(serial).Warnf("reachability: %v", err)
			}
		}
	}
	return nil
}

func (p *Prober) probeBoard(ctx context.Context, class, serial string) error {
	info, err := p.leases.Snapshot(ctx, serial, class)
	if err != nil {
		return err
	}
	if info.Server == "" || info.Port == "" {
		return nil
	}
	addr := fmt.Sprintf("%s:%s", info.Server, info.Port)

	if p.tryDial(addr) == nil {
		return nil
	}
	time.Sleep(p.retryDelay)
	if p.tryDial(addr) == nil {
		return nil
	}

	util.WithBoard(serial).Warnf("unreachable at %s after retry, removing", addr)
	return p.leases.RemoveBoard(ctx, serial)
}

func (p *Prober) tryDial(addr string) error {
	conn, err := p.dial("tcp", addr, p.timeout)
	if err != nil {
		return err
	}
	return conn.Close()
}
