package crypto

import (
	"bytes"
	"testing"
)

func FuzzEncryptDecrypt(f *testing.F) {
	// Seed corpus
	f.Add([]byte{})
	f.Add([]byte("hi"))
	f.Add([]byte("hello world, this is a chat message"))
	f.Add(make([]byte, 1000))

	secret, err := NewSharedSecret()
	if err != nil {
		f.Fatalf("failed to generate secret: %v", err)
	}
	key, err := DeriveKey(secret)
	if err != nil {
		f.Fatalf("failed to derive key: %v", err)
	}

	f.Fuzz(func(t *testing.T, plaintext []byte) {
		blob, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("encryption failed: %v", err)
		}

		// Invariant 1: blob has the expected structure
		if blob == nil {
			t.Fatal("blob is nil")
		}
		if len(blob.IV) != 2+2*NonceSize {
			t.Errorf("iv wrong size: got %d, want %d", len(blob.IV), 2+2*NonceSize)
		}

		// Invariant 2: serialization round-trips
		raw, err := blob.Marshal()
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		parsed, err := ParseCipherBlob(raw)
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}

		// Invariant 3: decryption round-trips
		decrypted, err := Decrypt(key, parsed)
		if err != nil {
			t.Fatalf("decryption failed: %v", err)
		}
		if !bytes.Equal(plaintext, decrypted) {
			t.Errorf("round trip failed: got %v, want %v", decrypted, plaintext)
		}

		// Invariant 4: wrong key fails closed
		otherSecret, _ := NewSharedSecret()
		wrongKey, _ := DeriveKey(otherSecret)
		if _, err := Decrypt(wrongKey, parsed); err == nil {
			t.Error("decryption with wrong key should fail")
		}
	})
}

func FuzzParseCipherBlob(f *testing.F) {
	f.Add([]byte(``))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"iv":"0x000102030405060708090a0b","data":"3q2+7w=="}`))
	f.Add([]byte(`{"iv":"","data":""}`))
	f.Add([]byte(`[1,2,3]`))

	secret, _ := NewSharedSecret()
	key, _ := DeriveKey(secret)

	f.Fuzz(func(t *testing.T, data []byte) {
		blob, err := ParseCipherBlob(data)
		if err != nil {
			return
		}

		// Invariant 1: parsed blobs always carry both fields
		if blob.IV == "" || blob.Data == "" {
			t.Error("parse accepted blob with missing fields")
		}

		// Invariant 2: whatever parses must either decrypt or fail with the
		// typed authentication error, never panic or return garbage silently.
		if _, err := Decrypt(key, blob); err != nil && err != ErrAuthenticationFailed {
			t.Errorf("unexpected decrypt error class: %v", err)
		}
	})
}
