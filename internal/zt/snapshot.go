package zt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SnapshotName is the vault item holding the encrypted store.
const SnapshotName = "db"

// Vault stores encrypted store snapshots per device.
type Vault interface {
	// PutSnapshot stores a named item for a device. size is the number of
	// bytes that will be read from r. version is stored alongside the item.
	PutSnapshot(deviceID string, name string, r io.Reader, size int64, version int64) error

	// GetSnapshot retrieves a named item for a device and writes it to w.
	GetSnapshot(deviceID string, name string, w io.Writer) error

	// SnapshotVersion returns the version of a named item, or 0 if none
	// has been stored.
	SnapshotVersion(deviceID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup() error
}

// Encryptor encrypts snapshots with a public key and unlocks the private
// key with a passphrase for restores.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and the
	// private key encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Backup snapshots the store, encrypts it and uploads it to the vault. The
// snapshot is versioned by the job run recording the backup, so a device
// can tell whether its local store is behind the vault.
func (s *Service) Backup() (int64, error) {
	if s.vault == nil || s.encryptor == nil {
		return 0, fmt.Errorf("backup requires a vault and an encryptor")
	}
	if !s.encryptor.IsConfigured() {
		return 0, fmt.Errorf("encryption keys are not configured: run `zt keys init`")
	}

	runID, err := s.store.StartJobRun("backup", 1, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recording backup run: %w", err)
	}

	err = s.uploadSnapshot(runID)
	state, detail := "succeeded", ""
	if err != nil {
		state, detail = "failed", err.Error()
	}
	if ferr := s.store.FinishJobRun(runID, state, detail, s.clock.Now()); ferr != nil && err == nil {
		err = fmt.Errorf("finishing backup run: %w", ferr)
	}
	if err != nil {
		return 0, err
	}

	s.logger.Info("store snapshot uploaded", "version", runID)
	return runID, nil
}

func (s *Service) uploadSnapshot(version int64) error {
	dir, err := os.MkdirTemp("", "zt-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	plainPath := filepath.Join(dir, "store.db")
	if err := s.store.BackupTo(plainPath); err != nil {
		return fmt.Errorf("snapshotting store: %w", err)
	}

	plain, err := os.Open(plainPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer plain.Close()

	cipherPath := filepath.Join(dir, "store.db.age")
	cipher, err := os.Create(cipherPath)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	defer cipher.Close()

	if err := s.encryptor.Encrypt(plain, cipher); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}

	info, err := cipher.Stat()
	if err != nil {
		return fmt.Errorf("stat encrypted snapshot: %w", err)
	}
	if _, err := cipher.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding encrypted snapshot: %w", err)
	}

	if err := s.vault.PutSnapshot(s.deviceID, SnapshotName, cipher, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot to vault: %w", err)
	}
	return nil
}

// Restore downloads the latest snapshot for this device, decrypts it and
// writes it to destPath, which must not exist yet.
func (s *Service) Restore(destPath string, decryptCtx DecryptionContext) error {
	if s.vault == nil {
		return fmt.Errorf("restore requires a vault")
	}
	if decryptCtx == nil {
		return fmt.Errorf("snapshot is encrypted but no passphrase was provided")
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("output file already exists: %s", destPath)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := s.vault.GetSnapshot(s.deviceID, SnapshotName, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	decryptErr := decryptCtx.Decrypt(pr, f)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	if vaultErr != nil {
		os.Remove(destPath)
		return fmt.Errorf("retrieving snapshot from vault: %w", vaultErr)
	}
	if decryptErr != nil {
		os.Remove(destPath)
		return fmt.Errorf("decrypting snapshot: %w", decryptErr)
	}

	s.logger.Info("store snapshot restored", "path", destPath)
	return nil
}
