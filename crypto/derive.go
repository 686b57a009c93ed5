package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// SharedSecretSize is the length of a group shared secret in bytes.
	SharedSecretSize = 20

	// SymmetricKeySize is the length of a derived AES-256 key in bytes.
	SymmetricKeySize = 32
)

// SharedSecret is the per-group confidential value issued by the group owner
// at creation time. It is 20 bytes, rendered address-style ("0x" + 40 hex
// characters), and is only ever obtained in cleartext through the disclosure
// service. It lives in memory for the duration of a session and is never
// persisted.
type SharedSecret []byte

// NewSharedSecret generates a fresh random group secret.
func NewSharedSecret() (SharedSecret, error) {
	secret := make([]byte, SharedSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate shared secret: %w", err)
	}
	return SharedSecret(secret), nil
}

// NewSharedSecretFromString parses the canonical "0x"-prefixed hex rendering
// of a secret. Parsing is case-insensitive; the canonical form is lowercase.
func NewSharedSecretFromString(s string) (SharedSecret, error) {
	trimmed := strings.TrimPrefix(strings.ToLower(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid shared secret encoding: %w", err)
	}
	if len(raw) != SharedSecretSize {
		return nil, fmt.Errorf("invalid shared secret length %d, expected %d", len(raw), SharedSecretSize)
	}
	return SharedSecret(raw), nil
}

// Bytes returns the raw secret bytes.
func (s SharedSecret) Bytes() []byte {
	return s
}

// String returns the canonical rendering: "0x" followed by 40 lowercase hex
// characters. This exact string (as UTF-8 bytes) is the key derivation input,
// so it must stay stable across implementations.
func (s SharedSecret) String() string {
	return "0x" + hex.EncodeToString(s)
}

// SymmetricKey is a 32-byte AES-256-GCM key derived from a group's shared
// secret. It is recomputed on demand and never transmitted or persisted.
type SymmetricKey []byte

// NewSymmetricKeyFromBytes creates a SymmetricKey from a byte slice.
// The input is copied to ensure immutability.
func NewSymmetricKeyFromBytes(data []byte) SymmetricKey {
	k := make([]byte, len(data))
	copy(k, data)
	return SymmetricKey(k)
}

// Bytes returns the key as a byte slice.
func (k SymmetricKey) Bytes() []byte {
	return k
}

// DeriveKey maps a shared secret to its symmetric encryption key:
// keccak256 of the UTF-8 bytes of the secret's canonical lowercase "0x"-hex
// rendering, used directly as the AES-256 key.
//
// The derivation is pure and deterministic and matches the browser client's
// deriveAesKeyFromAddress, so a secret revealed to any implementation yields
// the same key. Pinned vectors live in derive_test.go.
func DeriveKey(secret SharedSecret) (SymmetricKey, error) {
	if len(secret) != SharedSecretSize {
		return nil, errors.New("invalid shared secret size")
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(secret.String()))
	return SymmetricKey(h.Sum(nil)), nil
}
