package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// ErrAuthenticationFailed indicates a ciphertext failed its integrity check:
// wrong key, flipped bits, or a malformed blob. Decryption fails closed and
// never yields partial plaintext. Callers treat this as a per-message
// condition (the message renders redacted), not a fatal error.
var ErrAuthenticationFailed = errors.New("message authentication failed")

// CipherBlob is the serialized form of an encrypted message body as stored on
// the ledger. The JSON encoding is the interoperability surface shared with
// the browser client:
//
//	{"iv": "0x<24 hex chars>", "data": "<base64>"}
//
// The nonce travels hex-encoded with a 0x prefix, the ciphertext (including
// the GCM tag) base64-encoded. Unknown fields are ignored on decode so the
// format is forward-extensible.
type CipherBlob struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// Encrypt seals plaintext under key with AES-256-GCM and a fresh random
// nonce. Nonce reuse under the same key breaks authenticity, so the nonce is
// drawn from crypto/rand on every call and never derived from the message.
func Encrypt(key SymmetricKey, plaintext []byte) (*CipherBlob, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &CipherBlob{
		IV:   "0x" + hex.EncodeToString(nonce),
		Data: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens a CipherBlob with the given key. Any corruption of the nonce
// or ciphertext, any wrong key, and any malformed encoding yields
// ErrAuthenticationFailed.
func Decrypt(key SymmetricKey, blob *CipherBlob) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, err := hex.DecodeString(strings.TrimPrefix(blob.IV, "0x"))
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrAuthenticationFailed
	}

	ciphertext, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Marshal serializes the blob to its canonical JSON form.
func (b *CipherBlob) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// ParseCipherBlob deserializes a blob from JSON. Unknown fields are ignored;
// a blob missing either field is rejected here rather than surfacing later as
// a decryption failure with no context.
func ParseCipherBlob(data []byte) (*CipherBlob, error) {
	var blob CipherBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("malformed cipher blob: %w", err)
	}
	if blob.IV == "" || blob.Data == "" {
		return nil, errors.New("cipher blob missing iv or data")
	}
	return &blob, nil
}

func newAEAD(key SymmetricKey) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, errors.New("invalid symmetric key size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}
