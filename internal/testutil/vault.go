package testutil

import (
	"zt-go/internal/vault"
	"zt-go/internal/zt"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() zt.Vault {
	return vault.NewMemoryVault("test-vault")
}
