// Package sealing defines the Sealer abstraction the enclave uses to
// encrypt private key bytes for durable backup (spec §4.4, §6 "Persisted
// state layout"). KMSSealer wraps AWS KMS for production; AESSealer is a
// local/dev fallback using stdlib AES-256-GCM under a static key, matching
// the AWS KMS dependency of Caesar-Trade's KMS-backed key custody (where
// this package is grounded) while giving development and tests
// a path that needs no AWS credentials.
package sealing

// Sealer encrypts and decrypts opaque byte payloads for durable storage.
type Sealer interface {
	Seal(plaintext []byte) (sealed string, err error)
	Unseal(sealed string) (plaintext []byte, err error)
}
