// Package tunnel provides an SSH dial plus local-port-forward helper
// shared by the relay (forwarding into a board's container) and the
// client launcher (forwarding into the relay). Grounded on the teacher's
// pkg/device/tunnel.go, generalized from a single hardcoded remote port
// to an arbitrary remote host:port per forward.
package tunnel

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Forward forwards a local TCP port to a remote address through an SSH
// connection. One Forward can carry many concurrent local connections
// (e.g. JTAG plus a web-forward port use two Forwards over one Tunnel).
type Forward struct {
	localAddr  string
	remoteAddr string
	client     *ssh.Client
	listener   net.Listener
	done       chan struct{}
	wg         sync.WaitGroup
}

// Tunnel is a single SSH connection that can host any number of port
// Forwards and command executions.
type Tunnel struct {
	client *ssh.Client
}

// Dial opens an SSH connection to host:port. If port is 0, it defaults to
// 22. Auth tries, in order, any supplied signers then password (password
// may be empty to skip that method).
func Dial(host string, port int, user string, signers []ssh.Signer, password string, timeout time.Duration) (*Tunnel, error) {
	if port == 0 {
		port = 22
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var methods []ssh.AuthMethod
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if password != "" {
		methods = append(methods, ssh.Password(password))
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, classifyDialError(user, addr, err)
	}
	return &Tunnel{client: client}, nil
}

// Client returns the underlying ssh.Client for opening sessions directly
// (used for the interactive screen-over-UART command).
func (t *Tunnel) Client() *ssh.Client { return t.client }

// Close tears down the SSH connection. Forwards opened on it keep their
// local listeners until their own Close; connections they accept after
// this fail to reach the remote side and are closed.
func (t *Tunnel) Close() error {
	return t.client.Close()
}

// ForwardLocal opens a local listener on a random port (or on localPort
// if nonzero) and forwards every accepted connection to remoteAddr
// through the tunnel.
func (t *Tunnel) ForwardLocal(localPort int, remoteAddr string) (*Forward, error) {
	bind := "127.0.0.1:0"
	if localPort != 0 {
		bind = fmt.Sprintf("127.0.0.1:%d", localPort)
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("local listen: %w", err)
	}

	f := &Forward{
		localAddr:  listener.Addr().String(),
		remoteAddr: remoteAddr,
		client:     t.client,
		listener:   listener,
		done:       make(chan struct{}),
	}
	f.wg.Add(1)
	go f.acceptLoop()
	return f, nil
}

// LocalAddr returns the local address (e.g. "127.0.0.1:54321") that
// forwards into the tunnel's remote side.
func (f *Forward) LocalAddr() string { return f.localAddr }

// Close stops accepting new local connections and waits for in-flight
// copies to unwind. It does not close the underlying Tunnel, which may
// host other Forwards.
func (f *Forward) Close() error {
	close(f.done)
	f.listener.Close()
	f.wg.Wait()
	return nil
}

func (f *Forward) acceptLoop() {
	defer f.wg.Done()
	for {
		local, err := f.listener.Accept()
		if err != nil {
			select {
			case <-f.done:
				return
			default:
				continue
			}
		}
		f.wg.Add(1)
		go f.forward(local)
	}
}

func (f *Forward) forward(local net.Conn) {
	defer f.wg.Done()
	defer local.Close()

	remote, err := f.client.Dial("tcp", f.remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// ExecCommand runs a command on the remote host via a fresh SSH session
// and returns its combined output.
func (t *Tunnel) ExecCommand(cmd string) (string, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	output, err := session.CombinedOutput(cmd)
	if err != nil {
		return string(output), fmt.Errorf("ssh exec %q: %w", cmd, err)
	}
	return string(output), nil
}

// InteractiveSession opens a new SSH session wired to the given
// stdin/stdout/stderr, requests an xterm pseudo-terminal and starts cmd —
// used to drive "screen /dev/ttyUSBx 115200" over the tunnel for the
// UART pass-through. The caller is responsible for calling Wait.
func (t *Tunnel) InteractiveSession(cmd string, stdin io.Reader, stdout, stderr io.Writer) (*ssh.Session, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 115200,
		ssh.TTY_OP_OSPEED: 115200,
	}
	if err := session.RequestPty("xterm", 80, 40, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}
	return session, nil
}

// classifyDialError wraps a raw SSH dial error with an actionable hint
// based on known OpenSSH client-side failure substrings, so operators
// see "host key changed" or "connection refused" instead of an opaque
// wrapped net.OpError.
func classifyDialError(user, addr string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"):
		return fmt.Errorf("ssh auth failed for %s@%s (check key permissions/passphrase): %w", user, addr, err)
	case strings.Contains(msg, "no supported methods remain"):
		return fmt.Errorf("ssh auth failed for %s@%s (no usable credentials offered): %w", user, addr, err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("ssh connection to %s refused (sshd down or firewalled): %w", addr, err)
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("ssh dial %s timed out (check DNS/routing/firewall): %w", addr, err)
	case strings.Contains(msg, "no route to host"):
		return fmt.Errorf("ssh dial %s: no route to host: %w", addr, err)
	default:
		return fmt.Errorf("ssh dial %s@%s: %w", user, addr, err)
	}
}
