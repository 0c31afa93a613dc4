package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rtsyork/vlab/pkg/vlabconfig"
)

// keysDir is where vlabctl reads and writes SSH keypairs, matching
// manage.py's relative "keys/" directory convention.
const keysDir = "keys"

var generateKeysCmd = &cobra.Command{
	Use:   "generatekeys",
	Short: "Regenerate SSH keypairs",
	Long: `Regenerate SSH keypairs: the relay's own internal keypair (--internal),
a keypair for every configured user who does not already have one
(--allnew), or a single named user's keypair (--user).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		internal, err := cmd.Flags().GetBool("internal")
		if err != nil {
			return err
		}
		allnew, err := cmd.Flags().GetBool("allnew")
		if err != nil {
			return err
		}
		user, err := cmd.Flags().GetString("user")
		if err != nil {
			return err
		}

		switch {
		case internal:
			return generateInternalKey()
		case allnew:
			return generateMissingUserKeys()
		case user != "":
			return generateUserKey(user, true)
		default:
			return fmt.Errorf("specify one of --internal, --allnew, or --user")
		}
	},
}

func init() {
	generateKeysCmd.Flags().BoolP("internal", "i", false, "regenerate the relay's internal keypair")
	generateKeysCmd.Flags().BoolP("allnew", "a", false, "generate keys for every configured user missing one")
	generateKeysCmd.Flags().StringP("user", "u", "", "generate a keypair for the named user")
}

func generateInternalKey() error {
	fmt.Println("Generating new internal key pair...")
	removeIfExists(filepath.Join(keysDir, "id_rsa"))
	removeIfExists(filepath.Join(keysDir, "id_rsa.pub"))
	if err := sshKeygen(filepath.Join(keysDir, "id_rsa")); err != nil {
		return err
	}
	cp := exec.Command("cp", filepath.Join(keysDir, "id_rsa.pub"), filepath.Join("boardserver", "authorized_keys"))
	cp.Stdout = os.Stdout
	cp.Stderr = os.Stderr
	if err := cp.Run(); err != nil {
		return fmt.Errorf("install internal public key: %w", err)
	}
	fmt.Println("Keys generated. Now run: vlabctl build")
	return nil
}

func generateMissingUserKeys() error {
	s, err := app.loadSettings()
	if err != nil {
		return err
	}
	doc, err := vlabconfig.Load(s.GetConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for user := range doc.Users {
		priv := filepath.Join(keysDir, user)
		pub := priv + ".pub"
		if fileExists(priv) && fileExists(pub) {
			continue
		}
		if err := generateUserKey(user, false); err != nil {
			return err
		}
	}
	return nil
}

func generateUserKey(user string, warnIfUnknown bool) error {
	if warnIfUnknown {
		s, err := app.loadSettings()
		if err == nil {
			if doc, err := vlabconfig.Load(s.GetConfigPath()); err == nil {
				if _, known := doc.Users[user]; !known {
					fmt.Printf("Warning: User %s is not currently in the config document.\n", user)
				}
			}
		}
	}
	fmt.Printf("Generating keypair for user %s...\n", user)
	removeIfExists(filepath.Join(keysDir, user))
	removeIfExists(filepath.Join(keysDir, user+".pub"))
	return sshKeygen(filepath.Join(keysDir, user))
}

func sshKeygen(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	c := exec.Command("ssh-keygen", "-q", "-N", "", "-f", path)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func removeIfExists(path string) {
	if fileExists(path) {
		_ = os.Remove(path)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
