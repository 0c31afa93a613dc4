package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtsyork/vlab/pkg/accesslog"
	"github.com/rtsyork/vlab/pkg/vlabcli"
)

// statsCmd is a Go rewrite of manage.py's "stats" mode, which shells out
// to "docker exec vlab_relay_1 python3 logparse.py" to print usage
// stats parsed from the access log. vlabctl reads the same log file
// in-process via pkg/accesslog instead.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize usage stats from the access log",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app.loadSettings()
		if err != nil {
			return err
		}
		cache := accesslog.NewCache(s.GetAccessLogPath())
		summary, err := cache.Get()
		if err != nil {
			return fmt.Errorf("parse access log: %w", err)
		}
		return runStats(summary)
	},
}

func runStats(summary *accesslog.Summary) error {
	fmt.Println(vlabcli.Bold("Per-user session totals"))
	type userRow struct {
		user  string
		count int
		total float64
	}
	var users []userRow
	for user, count := range summary.UserTotals {
		users = append(users, userRow{user: user, count: count, total: summary.UserSeconds[user]})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].total > users[j].total })

	t := vlabcli.NewTable("USER", "SESSIONS", "TOTAL TIME", "AVG TIME")
	for _, u := range users {
		avg := 0.0
		if u.count > 0 {
			avg = u.total / float64(u.count)
		}
		t.Row(u.user, fmt.Sprintf("%d", u.count), formatSeconds(u.total), formatSeconds(avg))
	}
	t.Flush()

	fmt.Println()
	fmt.Println(vlabcli.Bold("Recent denials (no free boards)"))
	dt := vlabcli.NewTable("TIME", "USER", "CLASS")
	for _, d := range summary.Denials {
		dt.Row(d.Time.Format("2006-01-02 15:04:05"), d.User, d.Class)
	}
	dt.Flush()

	fmt.Println()
	fmt.Println(vlabcli.Bold("Hourly lock counts"))
	var hours []string
	for h := range summary.HourlyLocks {
		hours = append(hours, h)
	}
	sort.Strings(hours)
	ht := vlabcli.NewTable("HOUR", "LOCKS")
	for _, h := range hours {
		ht.Row(h, fmt.Sprintf("%d", summary.HourlyLocks[h]))
	}
	ht.Flush()

	return nil
}

func formatSeconds(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}
