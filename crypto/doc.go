// Package crypto provides the cryptographic primitives for XChat: principal
// signing keys, per-group shared secrets, symmetric key derivation, and the
// authenticated message codec.
//
// Key derivation and the ciphertext wire format are compatibility-critical:
// independent implementations (including the browser client) must derive the
// same AES-256-GCM key from the same group secret and agree byte-for-byte on
// the serialized blob. Both surfaces are pinned by test vectors and must not
// change without a protocol version bump.
//
// The group secret is a 20-byte value rendered address-style ("0x" + 40 hex
// characters). The symmetric key is keccak256 of the UTF-8 bytes of that
// lowercased string. Messages are sealed with AES-256-GCM under a fresh
// random 96-bit nonce and serialized as a JSON object
// {"iv": "0x<hex>", "data": "<base64>"}; unknown fields are ignored on
// decode so the format can grow.
package crypto
