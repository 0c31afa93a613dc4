// vlab-hostagent reacts to udev events for FPGA boards plugged into a
// board-host machine, launching and tearing down the per-board
// containers that the relay tunnels into.
//
// It unifies the three original entry-point scripts into one binary:
//
//	vlab-hostagent attach <serial>
//	vlab-hostagent detach <serial>
//	vlab-hostagent restart <serial>
//	vlab-hostagent reassert <serial> <port>
//
// attach/detach are wired into udev rules; restart is invoked by the
// relay over SSH before handing a board to a new session; reassert is
// the in-container cron job checking back in with its host/port.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtsyork/vlab/pkg/boardhost"
	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/store"
	"github.com/rtsyork/vlab/pkg/util"
	"github.com/rtsyork/vlab/pkg/vlabsettings"
	"github.com/rtsyork/vlab/pkg/version"
)

var (
	redisAddr string
	hostname  string
	verbose   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vlab-hostagent",
	Short:   "Board-host agent for VLAB (attach/detach/restart/reassert)",
	Version: version.Info(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			util.SetLogLevel("debug")
		}
	},
}

func init() {
	s, _ := vlabsettings.Load()

	defaultHostname, _ := os.Hostname()

	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", s.RedisAddr, "redis control-store address")
	rootCmd.PersistentFlags().StringVar(&hostname, "hostname", defaultHostname, "this board-host's hostname, as registered in the control store")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(attachCmd, detachCmd, restartCmd, reassertCmd)
}

func newAgent(ctx context.Context) (*boardhost.Agent, error) {
	addr := redisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	db, err := store.NewRedisStore(ctx, addr, 5, time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to control store: %w", err)
	}
	leases := lease.New(db)
	engine := boardhost.NewDockerEngine()
	return boardhost.NewAgent(leases, engine, hostname), nil
}

var attachCmd = &cobra.Command{
	Use:   "attach <serial>",
	Short: "Launch a board's container and register it with the control store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agent, err := newAgent(ctx)
		if err != nil {
			return err
		}
		return agent.Attach(ctx, args[0])
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach <serial>",
	Short: "Tear down a board's container and deregister it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agent, err := newAgent(ctx)
		if err != nil {
			return err
		}
		return agent.Detach(ctx, args[0])
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <serial>",
	Short: "Restart a board's container ahead of a new session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		agent, err := newAgent(ctx)
		if err != nil {
			return err
		}
		return agent.Restart(ctx, args[0])
	},
}

var reassertCmd = &cobra.Command{
	Use:   "reassert <serial> <port>",
	Short: "Re-announce a board's server/port (the in-container cron check-in)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		ctx := cmd.Context()
		agent, err := newAgent(ctx)
		if err != nil {
			return err
		}
		return agent.Reassert(ctx, args[0], port)
	},
}
