package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"zt-go/internal/zt"
)

// FileSystemVault stores snapshots as files:
//
//	<root>/
//	  snapshots/
//	    <deviceID>/
//	      <name>.age      (encrypted snapshot)
//	      <name>.version  (version marker)
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root, snapshotsDir: snapshotsDir}, nil
}

func (v *FileSystemVault) deviceDir(deviceID string) (string, error) {
	if deviceID == "" || strings.ContainsAny(deviceID, `/\`) || deviceID == "." || deviceID == ".." {
		return "", fmt.Errorf("invalid device id %q", deviceID)
	}
	return filepath.Join(v.snapshotsDir, deviceID), nil
}

// PutSnapshot writes the item and then its version marker.
func (v *FileSystemVault) PutSnapshot(deviceID string, name string, r io.Reader, size int64, version int64) error {
	dir, err := v.deviceDir(deviceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create device directory: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dir, name+".age"), r, size); err != nil {
		return err
	}
	versionData := strings.NewReader(strconv.FormatInt(version, 10))
	return writeFileAtomic(filepath.Join(dir, name+".version"), versionData, versionData.Size())
}

// GetSnapshot writes the stored item to w.
func (v *FileSystemVault) GetSnapshot(deviceID string, name string, w io.Writer) error {
	dir, err := v.deviceDir(deviceID)
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(dir, name+".age"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot %q not found for device: %s", name, deviceID)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns 0 if no version marker exists.
func (v *FileSystemVault) SnapshotVersion(deviceID string, name string) (int64, error) {
	dir, err := v.deviceDir(deviceID)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.snapshotsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFileAtomic writes r to destPath through a temp file and rename.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ zt.Vault = (*FileSystemVault)(nil)
