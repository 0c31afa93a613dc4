// Command vlab-client is the user-facing end of the VLAB relay protocol
// (spec.md §6): it connects to the relay over SSH, obtains a tunnel
// port, and forwards both the board's hw-server (JTAG) port and the
// observability dashboard to the local machine while driving an
// interactive UART session.
//
// Usage:
//
//	vlab-client -relay HOST -port P -localport LP -webport WP -key KEYFILE -user U -board CLASS [-serial S] [-v]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rtsyork/vlab/pkg/launcher"
)

func main() {
	relay := flag.String("relay", "", "relay hostname (required)")
	port := flag.Int("port", 22, "relay SSH port")
	localPort := flag.Int("localport", 0, "local port to forward the board's hw-server (JTAG) port to (required)")
	webPort := flag.Int("webport", 0, "local port to forward the observability dashboard to (required)")
	keyPath := flag.String("key", "", "path to SSH private key (required)")
	user := flag.String("user", "", "relay SSH username (required)")
	board := flag.String("board", "", "board class to request (required)")
	serial := flag.String("serial", "", "specific board serial to request")
	verbose := flag.Bool("v", false, "verbose logging")
	timeout := flag.Duration("timeout", 30*time.Second, "SSH dial timeout")
	flag.Parse()

	if *relay == "" || *localPort == 0 || *webPort == 0 || *keyPath == "" || *user == "" || *board == "" {
		fmt.Fprintln(os.Stderr, "Usage: vlab-client -relay HOST -port P -localport LP -webport WP -key KEYFILE -user U -board CLASS [-serial S] [-v]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := launcher.Config{
		Relay:     *relay,
		Port:      *port,
		LocalPort: *localPort,
		WebPort:   *webPort,
		KeyPath:   *keyPath,
		User:      *user,
		Board:     *board,
		Serial:    *serial,
		Verbose:   *verbose,
		Timeout:   *timeout,
	}

	if err := launcher.Run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "vlab-client:", err)
		os.Exit(1)
	}
}
