package main

import (
	"errors"
	"fmt"
	"os"

	"zt-go/internal/app"
	"zt-go/internal/database"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := app.NewEncryptor(cfg)
		if err != nil {
			return err
		}
		if enc.IsConfigured() {
			return fmt.Errorf("keys already exist at %s", cfg.Encryption.PublicKeyPath)
		}

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := enc.Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		fmt.Println("Keep the passphrase safe: snapshots cannot be restored without it.")
		return nil
	},
}

var keysPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the private key passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		enc, err := app.NewEncryptor(cfg)
		if err != nil {
			return err
		}
		changer, ok := enc.(interface {
			ChangePassphrase(oldPassphrase, newPassphrase string) error
		})
		if !ok {
			return fmt.Errorf("encryption type %q does not support passphrase changes", cfg.Encryption.Type)
		}

		old, err := readPassphrase("Current passphrase: ")
		if err != nil {
			return err
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := changer.ChangePassphrase(old, passphrase); err != nil {
			return err
		}
		fmt.Println("Passphrase changed.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload an encrypted snapshot of the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		version, err := a.Backup()
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot version %d uploaded.\n", version)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Download and decrypt the latest store snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		dest, _ := cmd.Flags().GetString("to")

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if dest == "" {
			if cfg.Database.Type != "sqlite" {
				return fmt.Errorf("--to is required for a %s store", cfg.Database.Type)
			}
			dest = database.FilePath(cfg.Database, cfg.DeviceID)
		}
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		if _, err := os.Stat(dest); err == nil {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return fmt.Errorf("%s exists, pass --force to replace it", dest)
			}
			if err := os.Rename(dest, dest+".bak"); err != nil {
				return fmt.Errorf("moving existing store aside: %w", err)
			}
			fmt.Printf("Existing store moved to %s.bak\n", dest)
		}
		if err := app.RestoreSnapshot(cfg, dest, passphrase); err != nil {
			return err
		}
		fmt.Printf("Restored store to %s\n", dest)
		return nil
	},
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func readNewPassphrase() (string, error) {
	p1, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	if p1 == "" {
		return "", errors.New("passphrase must not be empty")
	}
	p2, err := readPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errors.New("passphrases do not match")
	}
	return p1, nil
}

func init() {
	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysPasswdCmd)

	restoreCmd.Flags().String("to", "", "Destination path, defaults to the configured store")
	restoreCmd.Flags().Bool("force", false, "Move an existing file at the destination to .bak first")

	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
