package vault

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestMemoryVault_PutAndGetSnapshot(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name    string
		device  string
		content string
	}{
		{name: "store and retrieve", device: "laptop", content: "ciphertext"},
		{name: "store empty", device: "phone", content: ""},
		{name: "store large", device: "tablet", content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := vault.PutSnapshot(tt.device, "db", strings.NewReader(tt.content), int64(len(tt.content)), 1); err != nil {
				t.Fatalf("PutSnapshot() error = %v", err)
			}

			var buf bytes.Buffer
			if err := vault.GetSnapshot(tt.device, "db", &buf); err != nil {
				t.Fatalf("GetSnapshot() error = %v", err)
			}
			if got := buf.String(); got != tt.content {
				t.Errorf("GetSnapshot() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryVault_Versions(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	v, err := vault.SnapshotVersion("laptop", "db")
	if err != nil {
		t.Fatalf("SnapshotVersion() error = %v", err)
	}
	if v != 0 {
		t.Errorf("SnapshotVersion() before put = %d, want 0", v)
	}

	for _, version := range []int64{3, 7} {
		if err := vault.PutSnapshot("laptop", "db", strings.NewReader("data"), 4, version); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
	}

	v, _ = vault.SnapshotVersion("laptop", "db")
	if v != 7 {
		t.Errorf("SnapshotVersion() = %d, want 7", v)
	}

	other, _ := vault.SnapshotVersion("phone", "db")
	if other != 0 {
		t.Errorf("SnapshotVersion(phone) = %d, want 0", other)
	}
}

func TestMemoryVault_SizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")
	if err := vault.PutSnapshot("laptop", "db", strings.NewReader("short"), 100, 1); err == nil {
		t.Error("PutSnapshot() expected error for size mismatch")
	}
	var buf bytes.Buffer
	if err := vault.GetSnapshot("laptop", "db", &buf); err == nil {
		t.Error("GetSnapshot() expected error after failed put")
	}
}

func TestMemoryVault_Concurrent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = vault.PutSnapshot("laptop", "db", strings.NewReader("data"), 4, int64(i))
			_, _ = vault.SnapshotVersion("laptop", "db")
		}(i)
	}
	wg.Wait()

	var buf bytes.Buffer
	if err := vault.GetSnapshot("laptop", "db", &buf); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
}
