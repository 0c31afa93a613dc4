// Package boardhost implements the board-host agent (C3): it reacts to
// udev attach/detach events for FPGA boards plugged into a host machine,
// launches/tears down a per-board container, and periodically restarts
// a board's container on the relay's behalf when a new session begins.
//
// Grounded directly on original_source/host/opt/VLAB/boardattach.py,
// boarddetached.py, boardrestart.py, and boardserver/register.py.
package boardhost

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rtsyork/vlab/pkg/util"
)

// ContainerSpec describes how to launch a board's container.
type ContainerSpec struct {
	Image       string
	JTAGDevice  string // host device path to map in, e.g. realpath of the jtag symlink
	TTYDevice   string // host device path to map in as /dev/ttyFPGA
	XSCTHostDir string // optional host dir bind-mounted to /opt/xsct
}

// ContainerEngine abstracts the external container lifecycle so
// pkg/boardhost can be tested without a real docker daemon.
type ContainerEngine interface {
	// EnsureAbsent removes any existing container with the given name,
	// ignoring errors if it doesn't exist.
	EnsureAbsent(ctx context.Context, name string) error
	// Run launches a new container and returns the host port mapped to
	// its container port 22.
	Run(ctx context.Context, name string, spec ContainerSpec) (hostPort int, err error)
	// Restart restarts an existing container and returns its (possibly
	// changed) host port mapped to container port 22.
	Restart(ctx context.Context, name string) (hostPort int, err error)
	// Kill stops a running container, ignoring errors if it doesn't exist.
	Kill(ctx context.Context, name string) error
	// Exec runs cmd inside the named container via a shell and returns
	// its combined output.
	Exec(ctx context.Context, name, cmd string) (stdout string, err error)
}

// dockerEngine shells out to the docker CLI exactly as the Python
// scripts do (docker rm -f / run -d / port / exec / restart / kill).
type dockerEngine struct {
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewDockerEngine returns a ContainerEngine backed by the docker CLI.
func NewDockerEngine() ContainerEngine {
	return &dockerEngine{runCommand: runDocker}
}

func runDocker(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

func (e *dockerEngine) EnsureAbsent(ctx context.Context, name string) error {
	e.runCommand(ctx, "docker", "rm", "-f", name)
	return nil
}

func (e *dockerEngine) Run(ctx context.Context, name string, spec ContainerSpec) (int, error) {
	args := []string{"run", "-d", "--name", name, "-p", "22"}
	if spec.JTAGDevice != "" {
		args = append(args, "--device", spec.JTAGDevice)
	}
	if spec.TTYDevice != "" {
		args = append(args, "--device", fmt.Sprintf("%s:/dev/ttyFPGA", spec.TTYDevice))
	}
	if spec.XSCTHostDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/opt/xsct", spec.XSCTHostDir))
	}
	image := spec.Image
	if image == "" {
		image = "vlab/boardserver"
	}
	args = append(args, image)

	if out, err := e.runCommand(ctx, "docker", args...); err != nil {
		return 0, fmt.Errorf("%w: docker run %s: %s", util.ErrContainerFailure, name, string(out))
	}

	return e.hostPort(ctx, name)
}

func (e *dockerEngine) Restart(ctx context.Context, name string) (int, error) {
	if out, err := e.runCommand(ctx, "docker", "restart", name); err != nil {
		return 0, fmt.Errorf("%w: docker restart %s: %s", util.ErrContainerFailure, name, string(out))
	}
	return e.hostPort(ctx, name)
}

func (e *dockerEngine) Kill(ctx context.Context, name string) error {
	e.runCommand(ctx, "docker", "kill", name)
	return nil
}

func (e *dockerEngine) Exec(ctx context.Context, name, cmd string) (string, error) {
	out, err := e.runCommand(ctx, "docker", "exec", name, "/bin/sh", "-c", cmd)
	if err != nil {
		return string(out), fmt.Errorf("%w: docker exec %s %q: %s", util.ErrContainerFailure, name, cmd, string(out))
	}
	return string(out), nil
}

// hostPort parses "docker port <name> 22" output of the form
// "0.0.0.0:32768" into its port number.
func (e *dockerEngine) hostPort(ctx context.Context, name string) (int, error) {
	out, err := e.runCommand(ctx, "docker", "port", name, "22")
	if err != nil {
		return 0, fmt.Errorf("%w: docker port %s: %s", util.ErrContainerFailure, name, string(out))
	}
	s := strings.TrimSpace(string(out))
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return 0, fmt.Errorf("%w: unparseable docker port output %q", util.ErrContainerFailure, s)
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable docker port output %q: %v", util.ErrContainerFailure, s, err)
	}
	return port, nil
}

// ContainerName is the naming convention shared by every entry point:
// "cnt-<serial>".
func ContainerName(serial string) string {
	return fmt.Sprintf("cnt-%s", serial)
}
