// Package enclavesrv implements the enclave-side key store, nonce ledger,
// signer, and HTTP handlers (spec §4.3). It runs as a separate OS process
// from the API service, reachable only over the internal HTTP channel.
package enclavesrv

import (
	"sync"

	"github.com/awnumar/memguard"
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/keyvault-labs/custodian/internal/apierrors"
)

// keyRecord holds one identity's private key sealed in process memory,
// generalizing Caesar-Trade's single-session SessionManager to a
// per-identity map of sealed buffers guarded by per-identity locks.
type keyRecord struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	alg     string
	pubKey  *btcec.PublicKey
}

// KeyStore holds every identity's key currently resident in the enclave.
type KeyStore struct {
	mu      sync.RWMutex
	records map[string]*keyRecord
}

// NewKeyStore creates an empty in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{records: make(map[string]*keyRecord)}
}

// Generate creates a fresh secp256k1 keypair for identityID. Fails
// already-exists if a record is already present.
func (ks *KeyStore) Generate(identityID, alg string) (pubKeyCompressed []byte, err error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if _, ok := ks.records[identityID]; ok {
		return nil, apierrors.Conflict("already-exists", "identity key already exists")
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, apierrors.Internal("failed to generate private key", err)
	}
	keyBytes := priv.Serialize()
	pub := priv.PubKey()
	compressed := pub.SerializeCompressed()

	rec := &keyRecord{
		enclave: memguard.NewEnclave(keyBytes),
		alg:     alg,
		pubKey:  pub,
	}
	ks.records[identityID] = rec

	return compressed, nil
}

// Exists reports not-found if identityID has no resident key record,
// without opening it. Used by Sign to check key presence ahead of ticket
// verification (spec §4.3 step 3).
func (ks *KeyStore) Exists(identityID string) error {
	_, err := ks.get(identityID)
	return err
}

// get returns the record for identityID, or not-found.
func (ks *KeyStore) get(identityID string) (*keyRecord, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	rec, ok := ks.records[identityID]
	if !ok {
		return nil, apierrors.NotFound("identity key not found")
	}
	return rec, nil
}

// withPrivateKey opens identityID's enclave for the duration of fn and
// destroys the decrypted buffer immediately after, regardless of outcome.
func (ks *KeyStore) withPrivateKey(identityID string, fn func(priv *btcec.PrivateKey) error) error {
	rec, err := ks.get(identityID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	buf, err := rec.enclave.Open()
	if err != nil {
		return apierrors.Internal("failed to open key enclave", err)
	}
	defer buf.Destroy()

	priv, _ := btcec.PrivKeyFromBytes(buf.Bytes())
	return fn(priv)
}

// PublicKey returns the compressed public key for identityID.
func (ks *KeyStore) PublicKey(identityID string) ([]byte, error) {
	rec, err := ks.get(identityID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.pubKey.SerializeCompressed(), nil
}

// Destroy removes identityID's key record and drops the record's reference
// to its encrypted memguard enclave.
func (ks *KeyStore) Destroy(identityID string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	rec, ok := ks.records[identityID]
	if !ok {
		return apierrors.NotFound("identity key not found")
	}
	delete(ks.records, identityID)
	rec.enclave = nil
	return nil
}

// Export returns the raw 32-byte private key for identityID, for the caller
// to seal. The caller must not retain the returned slice longer than
// necessary and should overwrite it after use.
func (ks *KeyStore) Export(identityID string) (keyBytes []byte, alg string, err error) {
	rec, gerr := ks.get(identityID)
	if gerr != nil {
		return nil, "", gerr
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	buf, err := rec.enclave.Open()
	if err != nil {
		return nil, "", apierrors.Internal("failed to open key enclave", err)
	}
	defer buf.Destroy()

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, rec.alg, nil
}

// Import validates keyBytes as a secp256k1 scalar and inserts it under
// identityID, overwriting any existing record.
func (ks *KeyStore) Import(identityID, alg string, keyBytes []byte) (pubKeyCompressed []byte, err error) {
	if len(keyBytes) != 32 {
		return nil, apierrors.Validation("imported key must be 32 bytes")
	}

	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(keyBytes); overflow || scalar.IsZero() {
		return nil, apierrors.Validation("imported bytes are not a valid secp256k1 scalar")
	}
	_, pub := btcec.PrivKeyFromBytes(keyBytes)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.records[identityID] = &keyRecord{
		enclave: memguard.NewEnclave(keyBytes),
		alg:     alg,
		pubKey:  pub,
	}
	return pub.SerializeCompressed(), nil
}
