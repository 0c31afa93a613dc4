package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// containerImages are the buildable VLAB images, matching manage.py's
// hardcoded container list.
var containerImages = []string{"vlabcommon", "boardserver", "relay", "web"}

var buildCmd = &cobra.Command{
	Use:   "build [images...]",
	Short: "Rebuild the VLAB container images",
	Long: `Rebuild the VLAB container images. With no arguments, every known
image is rebuilt; otherwise only the named images are built.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		images := args
		if len(images) == 0 {
			images = containerImages
		}

		fmt.Println("Rebuilding VLAB docker containers...")
		for _, im := range images {
			if !knownImage(im) {
				fmt.Printf("Unknown image specified: %s\n", im)
				fmt.Printf("Known images: %v\n", containerImages)
				continue
			}
			if err := buildImage(im); err != nil {
				return fmt.Errorf("building %s: %w", im, err)
			}
		}
		return nil
	},
}

func knownImage(name string) bool {
	for _, im := range containerImages {
		if im == name {
			return true
		}
	}
	return false
}

func buildImage(name string) error {
	fmt.Printf("Building vlab/%s...\n", name)
	c := exec.Command("docker", "build", "-t", "vlab/"+name, name+"/")
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
