package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtsyork/vlab/pkg/lease"
	"github.com/rtsyork/vlab/pkg/vlabcli"
)

// listCmd is a Go rewrite of manage.py's "list" mode, which shells out
// to "docker exec vlab_relay_1 python3 checkboards.py -v" to print the
// relay's view of every board. Since vlabctl already dials the control
// store directly (the same one checkboards.py read through redis-py),
// it renders the same per-board status table in-process instead of
// exec'ing into a container.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the currently known boards and their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		_, db, leases, err := app.connect(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		return runList(ctx, leases)
	},
}

func runList(ctx context.Context, leases *lease.Leases) error {
	classes, err := leases.BoardClasses(ctx)
	if err != nil {
		return fmt.Errorf("list board classes: %w", err)
	}
	sort.Strings(classes)

	now := time.Now()
	t := vlabcli.NewTable("CLASS", "SERIAL", "STATUS", "SERVER", "PORT", "USER", "SINCE")
	for _, class := range classes {
		serials, err := leases.BoardsInClass(ctx, class)
		if err != nil {
			return fmt.Errorf("list boards in %s: %w", class, err)
		}
		sort.Strings(serials)
		for _, serial := range serials {
			info, err := leases.Snapshot(ctx, serial, class)
			if err != nil {
				return fmt.Errorf("snapshot %s: %w", serial, err)
			}
			t.Row(class, serial, colorStatus(info.Status), info.Server, info.Port,
				holderOf(info), sinceOf(info, now))
		}
	}
	t.Flush()
	return nil
}

// colorStatus shades a board's status the way the web dashboard's
// status pill does: green when idle and ready, yellow when in use
// (locked or unlocked), red when failed.
func colorStatus(status lease.Status) string {
	switch status {
	case lease.StatusAvailable:
		return vlabcli.Green(status.String())
	case lease.StatusInUseLocked:
		return vlabcli.Yellow(status.String())
	case lease.StatusInUseUnlocked:
		return vlabcli.Yellow(status.String())
	case lease.StatusHWTestFailed:
		return vlabcli.Red(status.String())
	default:
		return vlabcli.Dim(status.String())
	}
}

func holderOf(info lease.BoardInfo) string {
	if info.SessionUser != "" {
		return info.SessionUser
	}
	return info.LockUser
}

func sinceOf(info lease.BoardInfo, now time.Time) string {
	switch {
	case !info.SessionStart.IsZero():
		return now.Sub(info.SessionStart).Round(time.Second).String()
	case !info.LockTime.IsZero():
		return now.Sub(info.LockTime).Round(time.Second).String()
	default:
		return ""
	}
}
