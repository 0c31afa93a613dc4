// Command vlabctl is the operator's management CLI: rebuilding the VLAB
// container images, (re)starting the relay, generating SSH keypairs,
// listing live board status, and summarizing access-log usage stats — a
// Go rewrite of manage.py as a cobra command tree in the style of
// teacher's cmd/newtron.
//
// Usage:
//
//	vlabctl build [images...]
//	vlabctl start [-p PORT]
//	vlabctl generatekeys (-i | -a | -u USER)
//	vlabctl list
//	vlabctl stats
//	vlabctl config validate
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtsyork/vlab/pkg/version"
)

// App holds CLI state shared across commands.
type App struct {
	settingsPath string
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "vlabctl",
	Short:         "VLAB operator management tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `vlabctl manages a VLAB deployment: building container images,
starting the relay, generating SSH keypairs, and inspecting live board
status and usage stats.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&app.settingsPath, "settings", "", "operator settings file (default ~/.vlab/settings.yaml)")

	rootCmd.AddCommand(buildCmd, startCmd, generateKeysCmd, listCmd, statsCmd, configCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}
