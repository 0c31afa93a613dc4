package relay

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rtsyork/vlab/pkg/tunnel"
)

// HostAgent triggers a container restart on a board's host. The relay
// and the board-hosts are separate machines, so this runs over SSH
// exactly as relay/shell.py execs the host-agent scripts remotely
// rather than calling into the same process.
type HostAgent interface {
	Restart(ctx context.Context, host, serial string) error
}

// sshHostAgent execs "vlab-hostagent restart <serial>" on the target
// board-host. The host agent itself updates the control store with the
// container's new port; this type never parses that out of SSH output.
type sshHostAgent struct {
	user    string
	signers []ssh.Signer
	timeout time.Duration
}

// NewSSHHostAgent returns a HostAgent that reaches board-hosts over SSH
// as user, authenticating with signers.
func NewSSHHostAgent(user string, signers []ssh.Signer, timeout time.Duration) HostAgent {
	return &sshHostAgent{user: user, signers: signers, timeout: timeout}
}

func (h *sshHostAgent) Restart(ctx context.Context, host, serial string) error {
	t, err := tunnel.Dial(host, 22, h.user, h.signers, "", h.timeout)
	if err != nil {
		return fmt.Errorf("dial board-host %s: %w", host, err)
	}
	defer t.Close()

	if _, err := t.ExecCommand(fmt.Sprintf("vlab-hostagent restart %s", serial)); err != nil {
		return fmt.Errorf("restart %s on %s: %w", serial, host, err)
	}
	return nil
}
