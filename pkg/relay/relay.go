package relay

import (
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/lease"
)

// Config holds the timing/port knobs a Relay needs, sourced from
// pkg/vlabsettings.
type Config struct {
	PortLo, PortHi       int64
	MaxLockTime          time.Duration
	PingInterval         time.Duration
	SSHTimeout           time.Duration
	HWServerRemotePort   int // 3121, the container's hw-server port
	WebForwardRemotePort int // 9001, the container's fixed web-forward target
	ContainerUser        string
}

// DefaultConfig fills in the fixed container-side ports shared by every
// session, leaving the timing knobs to the caller (sourced from
// pkg/vlabsettings).
func DefaultConfig() Config {
	return Config{
		HWServerRemotePort:   3121,
		WebForwardRemotePort: 9001,
		ContainerUser:        "root",
	}
}

// Relay wires the control-store lease operations, the access log, the
// host-agent SSH trigger, and session config together to run the C4
// state machine for each connecting user.
type Relay struct {
	leases    *lease.Leases
	accessLog *accesslog.Writer
	hostAgent HostAgent
	signers   []ssh.Signer
	cfg       Config
}

// New returns a Relay. signers authenticate both the relay's outbound
// connection to board-host containers and its connection to the
// board-host machines themselves (the same key, as in the teacher's
// single-keypair device access model).
func New(leases *lease.Leases, log *accesslog.Writer, hostAgent HostAgent, signers []ssh.Signer, cfg Config) *Relay {
	return &Relay{leases: leases, accessLog: log, hostAgent: hostAgent, signers: signers, cfg: cfg}
}
