package boardhost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/util"
)

// DeviceSymlinkRetries bounds how many times Attach waits for udev's
// /dev/vlab/<serial>/{tty,jtag} symlinks to appear — boards can enumerate
// as several nodes in arbitrary order, so the symlinks may lag the first
// attach event by a few hundred milliseconds (spec §4.3).
const DeviceSymlinkRetries = 10

// DeviceSymlinkRetryDelay is the pause between symlink existence checks.
const DeviceSymlinkRetryDelay = 200 * time.Millisecond

// Agent implements the host-agent operations (Attach, Detach, Restart,
// Reassert) against a control store and a container engine.
type Agent struct {
	leases   *lease.Leases
	engine   ContainerEngine
	hostname string
	devRoot  string // base dir for udev symlinks, default "/dev/vlab"
	xsctDir  string // optional host dir to bind-mount as /opt/xsct

	mu      sync.Mutex
	serials map[string]*sync.Mutex
}

// NewAgent constructs an Agent. hostname identifies this board-host to
// the control store (vlab:board:<serial>:server).
func NewAgent(leases *lease.Leases, engine ContainerEngine, hostname string) *Agent {
	return &Agent{
		leases:   leases,
		engine:   engine,
		hostname: hostname,
		devRoot:  "/dev/vlab",
		serials:  make(map[string]*sync.Mutex),
	}
}

// WithDevRoot overrides the udev symlink root (for tests).
func (a *Agent) WithDevRoot(dir string) *Agent {
	a.devRoot = dir
	return a
}

// WithXSCTDir sets the host directory bind-mounted into containers as
// /opt/xsct (the Xilinx command-line tools), matching boardattach.py's
// optional "-v /opt/VLAB/xsct/:/opt/xsct" mapping.
func (a *Agent) WithXSCTDir(dir string) *Agent {
	a.xsctDir = dir
	return a
}

// serialLock returns the mutex serializing all operations on serial —
// concurrent udev events for the same board (it can enumerate as several
// device nodes) must not race to launch two containers.
func (a *Agent) serialLock(serial string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.serials[serial]
	if !ok {
		m = &sync.Mutex{}
		a.serials[serial] = m
	}
	return m
}

func (a *Agent) ttyNode(serial string) string  { return filepath.Join(a.devRoot, serial, "tty") }
func (a *Agent) jtagNode(serial string) string { return filepath.Join(a.devRoot, serial, "jtag") }

// waitForSymlink polls for path to exist as a symlink, bounded by
// DeviceSymlinkRetries, returning its resolved target.
func waitForSymlink(path string) (string, error) {
	var lastErr error
	for i := 0; i < DeviceSymlinkRetries; i++ {
		if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return filepath.EvalSymlinks(path)
		} else if err != nil {
			lastErr = err
		}
		time.Sleep(DeviceSymlinkRetryDelay)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%s is not a symlink", path)
	}
	return "", fmt.Errorf("%s did not appear: %w", path, lastErr)
}

// Attach is invoked by udev when a board is connected. It is grounded on
// boardattach.py: confirm the serial is known, wait for its device
// symlinks, launch (or replace) its container, set up the in-container
// re-registration cron via Exec, optionally reset the FPGA, and register
// the board's instance state.
func (a *Agent) Attach(ctx context.Context, serial string) error {
	lock := a.serialLock(serial)
	lock.Lock()
	defer lock.Unlock()

	known, ok, err := a.leases.KnownBoard(ctx, serial)
	if err != nil {
		return fmt.Errorf("attach %s: %w", serial, err)
	}
	if !ok {
		return fmt.Errorf("attach %s: %w", serial, util.ErrUnknownEntity)
	}

	jtagTarget, err := waitForSymlink(a.jtagNode(serial))
	if err != nil {
		return fmt.Errorf("attach %s: jtag device: %w", serial, err)
	}
	ttyTarget, err := waitForSymlink(a.ttyNode(serial))
	if err != nil {
		return fmt.Errorf("attach %s: tty device: %w", serial, err)
	}

	name := ContainerName(serial)
	if err := a.engine.EnsureAbsent(ctx, name); err != nil {
		return fmt.Errorf("attach %s: %w", serial, err)
	}

	spec := ContainerSpec{JTAGDevice: jtagTarget, TTYDevice: ttyTarget, XSCTHostDir: a.xsctDir}
	hostPort, err := a.engine.Run(ctx, name, spec)
	if err != nil {
		return fmt.Errorf("attach %s: %w", serial, err)
	}

	if _, err := a.engine.Exec(ctx, name, registerCronCommand(serial, a.hostname, hostPort)); err != nil {
		util.WithBoard(serial).Warnf("attach: failed to install registration cron: %v", err)
	}

	if known.Reset {
		if _, err := a.engine.Exec(ctx, name, resetCommand()); err != nil {
			util.WithBoard(serial).Warnf("attach: reset-on-connect failed: %v", err)
		}
	}

	if err := a.leases.Attach(ctx, serial, known.Class, a.hostname, hostPort); err != nil {
		return fmt.Errorf("attach %s: %w", serial, err)
	}

	util.WithBoard(serial).WithClass(known.Class).Infof("board connected and registered (port %d)", hostPort)
	return nil
}

// Detach is invoked by udev when a board is removed. Grounded on
// boarddetached.py: deregister the board's instance state and kill its
// container.
func (a *Agent) Detach(ctx context.Context, serial string) error {
	lock := a.serialLock(serial)
	lock.Lock()
	defer lock.Unlock()

	known, ok, err := a.leases.KnownBoard(ctx, serial)
	if err != nil {
		return fmt.Errorf("detach %s: %w", serial, err)
	}
	if !ok {
		return fmt.Errorf("detach %s: %w", serial, util.ErrUnknownEntity)
	}

	if err := a.leases.Deregister(ctx, serial, known.Class); err != nil {
		return fmt.Errorf("detach %s: %w", serial, err)
	}

	name := ContainerName(serial)
	if err := a.engine.Kill(ctx, name); err != nil {
		util.WithBoard(serial).Warnf("detach: kill container failed: %v", err)
	}

	util.WithBoard(serial).Info("board detached and deregistered")
	return nil
}

// Restart is invoked by the relay before handing a board to a new
// session. Grounded on boardrestart.py: restart the container, refresh
// the re-registration cron with its possibly-changed port, and persist
// the new port.
func (a *Agent) Restart(ctx context.Context, serial string) error {
	lock := a.serialLock(serial)
	lock.Lock()
	defer lock.Unlock()

	known, ok, err := a.leases.KnownBoard(ctx, serial)
	if err != nil {
		return fmt.Errorf("restart %s: %w", serial, err)
	}
	if !ok {
		return fmt.Errorf("restart %s: %w", serial, util.ErrUnknownEntity)
	}

	name := ContainerName(serial)
	hostPort, err := a.engine.Restart(ctx, name)
	if err != nil {
		return fmt.Errorf("restart %s: %w", serial, err)
	}

	if _, err := a.engine.Exec(ctx, name, registerCronCommand(serial, a.hostname, hostPort)); err != nil {
		util.WithBoard(serial).Warnf("restart: failed to refresh registration cron: %v", err)
	}

	if err := a.leases.UpdatePort(ctx, serial, hostPort); err != nil {
		return fmt.Errorf("restart %s: %w", serial, err)
	}

	_ = known.Class
	util.WithBoard(serial).Infof("board restarted (port %d)", hostPort)
	return nil
}

// Reassert is the periodic in-container cron job (boardserver/register.py):
// it re-announces the board's server/port without ever touching
// availability/lock pools; pool membership is left to Attach, the
// relay's release paths and the lock sweeper's orphan repair.
func (a *Agent) Reassert(ctx context.Context, serial string, hostPort int) error {
	known, ok, err := a.leases.KnownBoard(ctx, serial)
	if err != nil {
		return fmt.Errorf("reassert %s: %w", serial, err)
	}
	if !ok {
		return fmt.Errorf("reassert %s: %w", serial, util.ErrUnknownEntity)
	}
	return a.leases.ReRegister(ctx, serial, known.Class, a.hostname, hostPort)
}

func registerCronCommand(serial, hostname string, hostPort int) string {
	return fmt.Sprintf(
		`echo "* * * * * root /usr/bin/python3 /vlab/register.py %s %s %d" > /etc/cron.d/vlab-cron`,
		serial, hostname, hostPort,
	)
}

func resetCommand() string {
	return "/opt/xsct/bin/xsdb /vlab/reset.tcl"
}
