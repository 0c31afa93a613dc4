package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rtsyork/vlab/pkg/vlabconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the VLAB configuration document",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and validate the configuration document",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app.loadSettings()
		if err != nil {
			return err
		}
		doc, err := vlabconfig.Load(s.GetConfigPath())
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid: %d users, %d boards\n", s.GetConfigPath(), len(doc.Users), len(doc.Boards))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
