package config

import (
	"crypto/rand"

	"github.com/cuemby/sessiond/pkg/security"
)

// deriveKey hashes an operator-supplied passphrase down to 32 bytes
// using the same construction pkg/security uses to turn a cluster id
// into an AES-256 key.
func deriveKey(passphrase string) []byte {
	return security.DeriveKeyFromClusterID(passphrase)
}

// randomKey generates a process-local AES-256 key when no
// SESSIOND_ENCRYPTION_KEY is configured.
func randomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
