package enclavesrv

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/idutil"
	"github.com/keyvault-labs/custodian/internal/sealing"
	"github.com/keyvault-labs/custodian/internal/ticket"
)

func testDigest(t *testing.T, seed byte) (raw string, hash string) {
	t.Helper()
	sum := sha256.Sum256([]byte{seed})
	raw = hex.EncodeToString(sum[:])
	h, err := idutil.DigestHash(raw)
	if err != nil {
		t.Fatalf("DigestHash: %v", err)
	}
	return raw, h
}

func newSigner(t *testing.T) (*Signer, *KeyStore, *ticket.Issuer) {
	t.Helper()
	keys := NewKeyStore()
	nonces := NewNonceLedger()
	issuer := &ticket.Issuer{Secret: "ticket-secret", TTL: time.Minute}
	return &Signer{Keys: keys, Nonces: nonces, Tickets: issuer}, keys, issuer
}

func TestGenerateSignRoundTripSchnorr(t *testing.T) {
	signer, keys, issuer := newSigner(t)

	if _, err := keys.Generate("identity-1", AlgSchnorr); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	digest, digestHash := testDigest(t, 1)
	token, _, err := issuer.Mint(ticket.MintParams{
		JTI:        "jti-1",
		UserID:     "user-1",
		IdentityID: "identity-1",
		DigestHash: digestHash,
		Scope:      "sign",
		Nonce:      "nonce-1",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	sig, err := signer.Sign(SignParams{IdentityID: "identity-1", Digest: digest, TicketToken: token})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig.Signature) != 128 {
		t.Errorf("expected 64-byte (128 hex char) schnorr signature, got %d chars", len(sig.Signature))
	}
}

func TestSignRejectsNonceReplay(t *testing.T) {
	signer, keys, issuer := newSigner(t)
	if _, err := keys.Generate("identity-1", AlgSchnorr); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	digest, digestHash := testDigest(t, 2)
	token, _, err := issuer.Mint(ticket.MintParams{
		JTI:        "jti-2",
		UserID:     "user-1",
		IdentityID: "identity-1",
		DigestHash: digestHash,
		Scope:      "sign",
		Nonce:      "nonce-2",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := signer.Sign(SignParams{IdentityID: "identity-1", Digest: digest, TicketToken: token}); err != nil {
		t.Fatalf("first Sign: %v", err)
	}

	_, err = signer.Sign(SignParams{IdentityID: "identity-1", Digest: digest, TicketToken: token})
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindConflict {
		t.Fatalf("expected KindConflict replay on reused nonce, got %v", err)
	}
}

func TestSignRejectsDigestMismatch(t *testing.T) {
	signer, keys, issuer := newSigner(t)
	if _, err := keys.Generate("identity-1", AlgSchnorr); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	_, digestHashA := testDigest(t, 3)

	token, _, err := issuer.Mint(ticket.MintParams{
		JTI:        "jti-3",
		UserID:     "user-1",
		IdentityID: "identity-1",
		DigestHash: digestHashA,
		Scope:      "sign",
		Nonce:      "nonce-3",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	otherDigest, _ := testDigest(t, 4)
	_, err = signer.Sign(SignParams{IdentityID: "identity-1", Digest: otherDigest, TicketToken: token})
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindForbidden {
		t.Fatalf("expected KindForbidden on digest mismatch, got %v", err)
	}
}

func TestSignUnknownIdentityIsNotFound(t *testing.T) {
	signer, _, issuer := newSigner(t)

	digest, digestHash := testDigest(t, 5)
	token, _, err := issuer.Mint(ticket.MintParams{
		JTI:        "jti-4",
		UserID:     "user-1",
		IdentityID: "identity-missing",
		DigestHash: digestHash,
		Scope:      "sign",
		Nonce:      "nonce-4",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	_, err = signer.Sign(SignParams{IdentityID: "identity-missing", Digest: digest, TicketToken: token})
	se, ok := apierrors.As(err)
	if !ok || se.Kind != apierrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestGenerateExportDestroyImportSignRoundTrip(t *testing.T) {
	keys := NewKeyStore()
	nonces := NewNonceLedger()
	issuer := &ticket.Issuer{Secret: "ticket-secret", TTL: time.Minute}
	signer := &Signer{Keys: keys, Nonces: nonces, Tickets: issuer}

	sealer, err := sealing.NewAESSealer(bytes.Repeat([]byte{0x09}, 32))
	if err != nil {
		t.Fatalf("NewAESSealer: %v", err)
	}

	if _, err := keys.Generate("identity-1", AlgSchnorr); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	keyBytes, alg, err := keys.Export("identity-1")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	sealedKey, err := sealer.Seal(keyBytes)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := keys.Destroy("identity-1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := keys.PublicKey("identity-1"); err == nil {
		t.Fatalf("expected not-found after destroy")
	}

	restoredBytes, err := sealer.Unseal(sealedKey)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if _, err := keys.Import("identity-1", alg, restoredBytes); err != nil {
		t.Fatalf("Import: %v", err)
	}

	digest, digestHash := testDigest(t, 6)
	token, _, err := issuer.Mint(ticket.MintParams{
		JTI:        "jti-5",
		UserID:     "user-1",
		IdentityID: "identity-1",
		DigestHash: digestHash,
		Scope:      "sign",
		Nonce:      "nonce-5",
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := signer.Sign(SignParams{IdentityID: "identity-1", Digest: digest, TicketToken: token}); err != nil {
		t.Fatalf("Sign after restore: %v", err)
	}
}

func TestNonceLedgerPrunesExpiredEntries(t *testing.T) {
	ledger := NewNonceLedger()

	past := time.Now().Add(-time.Minute)
	if replay := ledger.CheckAndInsert("n1", past); replay {
		t.Fatalf("expected first insert to not be a replay")
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", ledger.Len())
	}

	// Pruning should drop n1 since its expiry is already in the past.
	ledger.Prune()
	if ledger.Len() != 0 {
		t.Fatalf("expected expired entry to be pruned, len=%d", ledger.Len())
	}

	if replay := ledger.CheckAndInsert("n2", time.Now().Add(time.Minute)); replay {
		t.Fatalf("expected second insert to not be a replay")
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected 1 entry after insert, len=%d", ledger.Len())
	}
}
