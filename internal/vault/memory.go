package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"zt-go/internal/zt"
)

type memoryItem struct {
	data    []byte
	version int64
}

// MemoryVault keeps snapshots in memory. It is useful for testing and is
// safe for concurrent use.
type MemoryVault struct {
	name  string
	items map[string]memoryItem // "deviceID/name" -> item
	mu    sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:  name,
		items: make(map[string]memoryItem),
	}
}

func itemKey(deviceID, name string) string {
	return deviceID + "/" + name
}

// PutSnapshot stores a named item for a device, replacing any previous one.
func (m *MemoryVault) PutSnapshot(deviceID string, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(deviceID, name)] = memoryItem{data: data, version: version}
	return nil
}

// GetSnapshot writes a stored item to w.
func (m *MemoryVault) GetSnapshot(deviceID string, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.items[itemKey(deviceID, name)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("snapshot %q not found for device: %s", name, deviceID)
	}

	if _, err := io.Copy(w, bytes.NewReader(item.data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns 0 if nothing has been stored for deviceID/name.
func (m *MemoryVault) SnapshotVersion(deviceID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[itemKey(deviceID, name)].version, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

var _ zt.Vault = (*MemoryVault)(nil)
