// Package security provides the at-rest encryption sessiond needs for
// a session's env_snapshot: AES-256-GCM via SecretsManager, plus
// DeriveKeyFromClusterID to turn an operator-supplied passphrase into
// a 32-byte key. pkg/registry holds the one SecretsManager instance
// and calls EncryptSecret before storing a session's captured
// environment; nothing decrypts it again within this process.
package security
