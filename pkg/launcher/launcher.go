// Package launcher implements the client side of the VLAB relay SSH
// protocol (spec.md §6): a two-step connect that first asks the relay
// which ephemeral port its allocated board is listening on, then opens
// a second, long-lived connection that both forwards that port (plus
// the observability dashboard's web port) to the local machine and
// drives the interactive UART session. Grounded on relay/shell.py from
// the server side — there is no standalone original client script, so
// this package is the Go-native rendering of the protocol spec.md §6
// describes the client must speak.
package launcher

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/rtsyork/vlab/pkg/tunnel"
	"github.com/rtsyork/vlab/pkg/util"
)

// Config holds the client launcher's CLI flags.
type Config struct {
	Relay     string
	Port      int
	LocalPort int
	WebPort   int
	KeyPath   string
	User      string
	Board     string
	Serial    string
	Verbose   bool
	Timeout   time.Duration
}

// webDashboardAddr is the fixed remote address the relay's observability
// dashboard listens on, matching pkg/vlabsettings.DefaultWebAddr.
const webDashboardAddr = "localhost:9001"

var vlabPortRE = regexp.MustCompile(`VLABPORT:(\d+)`)

// Run executes the full two-step connect and blocks until the
// interactive session ends (user disconnect) or an error occurs.
func Run(cfg Config) error {
	if err := checkPortFree(cfg.LocalPort); err != nil {
		return fmt.Errorf("local port %d: %w", cfg.LocalPort, err)
	}
	if err := checkPortFree(cfg.WebPort); err != nil {
		return fmt.Errorf("local web port %d: %w", cfg.WebPort, err)
	}

	signer, err := loadSigner(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key %s: %w", cfg.KeyPath, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	port, err := getPort(cfg, signer, timeout)
	if err != nil {
		return fmt.Errorf("getport: %w", err)
	}
	if cfg.Verbose {
		util.Infof("allocated remote port %d for %s", port, cfg.Board)
	}

	return runSession(cfg, signer, timeout, port)
}

// getPort opens a short-lived connection and sends the "getport"
// command, returning the allocated board port parsed from the
// relay's "VLABPORT:<n>" response line.
func getPort(cfg Config, signer ssh.Signer, timeout time.Duration) (int, error) {
	t, err := tunnel.Dial(cfg.Relay, cfg.Port, cfg.User, []ssh.Signer{signer}, "", timeout)
	if err != nil {
		return 0, err
	}
	defer t.Close()

	out, err := t.ExecCommand("getport")
	if err != nil {
		return 0, err
	}
	return parseVLABPort(out)
}

// parseVLABPort extracts the allocated port number from the relay's
// "VLABPORT:<n>" response line.
func parseVLABPort(out string) (int, error) {
	m := vlabPortRE.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected getport response: %q", strings.TrimSpace(out))
	}
	return strconv.Atoi(m[1])
}

// runSession opens the long-lived connection carrying both local port
// forwards and the interactive UART session, blocking until it ends.
func runSession(cfg Config, signer ssh.Signer, timeout time.Duration, remotePort int) error {
	t, err := tunnel.Dial(cfg.Relay, cfg.Port, cfg.User, []ssh.Signer{signer}, "", timeout)
	if err != nil {
		return err
	}
	defer t.Close()

	boardFwd, err := t.ForwardLocal(cfg.LocalPort, fmt.Sprintf("localhost:%d", remotePort))
	if err != nil {
		return fmt.Errorf("forward local port %d: %w", cfg.LocalPort, err)
	}
	defer boardFwd.Close()

	webFwd, err := t.ForwardLocal(cfg.WebPort, webDashboardAddr)
	if err != nil {
		return fmt.Errorf("forward web port %d: %w", cfg.WebPort, err)
	}
	defer webFwd.Close()

	cmd := fmt.Sprintf("%s:%d", cfg.Board, remotePort)
	if cfg.Serial != "" {
		cmd = fmt.Sprintf("%s:%d:%s", cfg.Board, remotePort, cfg.Serial)
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintf(os.Stderr, "connected — board %s on local port %d, dashboard on %d\n", cfg.Board, cfg.LocalPort, cfg.WebPort)
	}

	session, err := t.InteractiveSession(cmd, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	return session.Wait()
}

// checkPortFree reports an error if port is already bound on the local
// loopback interface.
func checkPortFree(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("port already in use: %w", err)
	}
	return ln.Close()
}

// loadSigner reads a private key from path, prompting for a passphrase
// on stderr (without echo) if the key is encrypted.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, err
	}

	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", path)
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return ssh.ParsePrivateKeyWithPassphrase(data, passphrase)
}

