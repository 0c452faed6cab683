package testutil

import (
	"zt-go/internal/encryption"
	"zt-go/internal/zt"
)

// NewTestEncryptor creates a configured test encryptor that unlocks with an
// empty passphrase.
func NewTestEncryptor() zt.Encryptor {
	return encryption.NewTestEncryptor()
}
