package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// Pinned derivation vectors. These keys must match every other XChat
// implementation; if this test breaks, the protocol broke.
func TestDeriveKeyVectors(t *testing.T) {
	vectors := []struct {
		secret string
		key    string
	}{
		{"0x00112233445566778899aabbccddeeff00112233", "516179e071ecb6c799c32d50984eb7acd75d07458527f697b4dc9bcb074aa135"},
		{"0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", "3d7f32b5ced54d3273b37672278f40b384f8c289e55f89792db78467990a33a5"},
		{"0x0000000000000000000000000000000000000000", "918d5359431a7007dec0d4722530b0726c0e1010a959bd8b871a6a5d6337144a"},
		{"0xa1b2c3d4e5f60718293a4b5c6d7e8f9001122334", "a3df151c8ffb561cc04f640681d54324bda9ea53ea51a5c247575372bb05754d"},
	}

	for _, v := range vectors {
		secret, err := NewSharedSecretFromString(v.secret)
		require.NoError(t, err)

		key, err := DeriveKey(secret)
		require.NoError(t, err)
		require.Len(t, key.Bytes(), SymmetricKeySize)
		require.Equal(t, v.key, hex.EncodeToString(key.Bytes()), "vector %s", v.secret)
	}
}

func TestDeriveKeyCaseInsensitiveParsing(t *testing.T) {
	lower, err := NewSharedSecretFromString("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.NoError(t, err)
	upper, err := NewSharedSecretFromString("0xDEADBEEFDEADBEEFDEADBEEFDEADBEEFDEADBEEF")
	require.NoError(t, err)

	lowerKey, err := DeriveKey(lower)
	require.NoError(t, err)
	upperKey, err := DeriveKey(upper)
	require.NoError(t, err)
	require.Equal(t, lowerKey.Bytes(), upperKey.Bytes())
}

func TestDeriveKeyDeterministic(t *testing.T) {
	secret, err := NewSharedSecret()
	require.NoError(t, err)

	k1, err := DeriveKey(secret)
	require.NoError(t, err)
	k2, err := DeriveKey(secret)
	require.NoError(t, err)
	require.Equal(t, k1.Bytes(), k2.Bytes())

	reparsed, err := NewSharedSecretFromString(secret.String())
	require.NoError(t, err)
	k3, err := DeriveKey(reparsed)
	require.NoError(t, err)
	require.Equal(t, k1.Bytes(), k3.Bytes())
}

func TestSharedSecretString(t *testing.T) {
	secret, err := NewSharedSecretFromString("0xA1B2C3D4E5F60718293A4B5C6D7E8F9001122334")
	require.NoError(t, err)
	// Canonical rendering is lowercase.
	require.Equal(t, "0xa1b2c3d4e5f60718293a4b5c6d7e8f9001122334", secret.String())
}

func TestDeriveKeyRejectsBadSecrets(t *testing.T) {
	_, err := NewSharedSecretFromString("0x1234")
	require.Error(t, err)

	_, err = NewSharedSecretFromString("not-hex")
	require.Error(t, err)

	_, err = DeriveKey(SharedSecret([]byte("short")))
	require.Error(t, err)
}
