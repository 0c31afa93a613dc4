package janitor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rtsyork/vlab/pkg/tunnel"
)

// HostOps resets a board's FPGA and restarts its container, the two
// repair primitives every sweeper falls back on to return a board to a
// known-good state. Grounded on checkboards.py and testboards.py, which
// each SSH directly to the board's container (to reset) and to its
// board-host (to restart) rather than sharing a single client.
type HostOps interface {
	ResetBoard(ctx context.Context, server string, port int, serial string) error
	RestartContainer(ctx context.Context, server, serial string) error
}

type sshHostOps struct {
	containerUser string
	hostUser      string
	signers       []ssh.Signer
	timeout       time.Duration
}

// NewSSHHostOps returns a HostOps authenticating with signers.
func NewSSHHostOps(signers []ssh.Signer, timeout time.Duration) HostOps {
	return &sshHostOps{containerUser: "root", hostUser: "root", signers: signers, timeout: timeout}
}

func (h *sshHostOps) ResetBoard(ctx context.Context, server string, port int, serial string) error {
	t, err := tunnel.Dial(server, port, h.containerUser, h.signers, "", h.timeout)
	if err != nil {
		return fmt.Errorf("dial %s container for %s: %w", server, serial, err)
	}
	defer t.Close()
	if _, err := t.ExecCommand("/opt/xsct/bin/xsdb /vlab/reset.tcl"); err != nil {
		return fmt.Errorf("reset %s: %w", serial, err)
	}
	return nil
}

func (h *sshHostOps) RestartContainer(ctx context.Context, server, serial string) error {
	t, err := tunnel.Dial(server, 22, h.hostUser, h.signers, "", h.timeout)
	if err != nil {
		return fmt.Errorf("dial board-host %s: %w", server, err)
	}
	defer t.Close()
	if _, err := t.ExecCommand(fmt.Sprintf("vlab-hostagent restart %s", serial)); err != nil {
		return fmt.Errorf("restart %s on %s: %w", serial, server, err)
	}
	return nil
}
