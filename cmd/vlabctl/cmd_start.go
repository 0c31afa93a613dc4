package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// startCmd is a Go rewrite of manage.py's "start" mode: force-recreate
// the deployment's containers via docker-compose, passing the chosen
// SSH bind port through the environment the compose file interpolates
// it from.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "(Re)start the VLAB relay and web containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := cmd.Flags().GetString("port")
		if err != nil {
			return err
		}
		fmt.Printf("Restarting the VLAB relay and web on SSH port %s...\n", port)
		c := exec.Command("docker-compose", "up", "--force-recreate")
		c.Env = append(os.Environ(), "VLAB_SSH_PORT="+port)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	startCmd.Flags().StringP("port", "p", "2222", "the SSH port to bind the relay container to")
}
