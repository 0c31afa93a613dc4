// Package relay implements the per-connection session driver (C4): it
// authenticates the user, allocates a board via pkg/lease, drives a
// container restart on the board's host, stitches the user's SSH tunnel
// into the board's container, runs the keep-alive loop, and tears down
// cleanly on disconnect or preemption.
//
// Grounded on relay/shell.py.
package relay

import (
	"fmt"
	"strconv"
	"strings"
)

// Request is a parsed relay command argument: either a getport request
// or a class[:serial] board request with the client's chosen tunnel
// port.
type Request struct {
	GetPort    bool
	Class      string
	TunnelPort int
	Serial     string // empty unless a specific board was requested
}

// ParseRequest parses the single command-line argument the relay
// receives over SSH: "getport", "class:port", or "class:port:serial".
// The three-part form is only meaningful for overlords; that check
// happens in Allocate, not here, so parse errors stay purely syntactic.
func ParseRequest(arg string) (Request, error) {
	if arg == "getport" {
		return Request{GetPort: true}, nil
	}

	parts := strings.Split(arg, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Request{}, fmt.Errorf("malformed request %q: expected class:port or class:port:serial", arg)
	}

	class := parts[0]
	if class == "" {
		return Request{}, fmt.Errorf("malformed request %q: empty class", arg)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Request{}, fmt.Errorf("malformed request %q: invalid tunnel port: %w", arg, err)
	}

	req := Request{Class: class, TunnelPort: port}
	if len(parts) == 3 {
		req.Serial = parts[2]
	}
	return req, nil
}
