package enclavesrv

import (
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/idutil"
	"github.com/keyvault-labs/custodian/internal/ticket"
)

// Alg identifiers accepted at key generation and sign time.
const (
	AlgSchnorr = "schnorr"
	AlgECDSA   = "ecdsa"
)

// Signer produces signatures over attested tickets, grounded on
// Klingon-tech-klingdex's HTLCSession (btcec.PrivateKey, btcec/v2/ecdsa) for
// ECDSA and btcsuite's btcec/v2/schnorr for BIP-340.
type Signer struct {
	Keys   *KeyStore
	Nonces *NonceLedger
	// Tickets verifies the incoming ticket token against the ticket signing
	// secret, independently of the API's own ticket-row checks (spec §4.2
	// "a successful sign requires both API-side row check and enclave-side
	// nonce check to pass").
	Tickets *ticket.Issuer
}

// SignParams carries one sign request.
type SignParams struct {
	IdentityID  string
	Alg         string
	Digest      string // wire-format; Sign normalizes it
	TicketToken string
}

// Sign verifies ticketToken, checks the nonce ledger, and produces a
// signature over digest using identityID's key. Step order follows the
// enclave's sign contract precisely: prune, normalize, key-presence check,
// ticket verification, nonce check, then signing.
func (s *Signer) Sign(p SignParams) (domain.Signature, error) {
	s.Nonces.Prune()

	normalized, err := idutil.NormalizeDigest(p.Digest)
	if err != nil {
		return domain.Signature{}, err
	}
	digestHash, err := idutil.DigestHash(normalized)
	if err != nil {
		return domain.Signature{}, err
	}

	if err := s.Keys.Exists(p.IdentityID); err != nil {
		return domain.Signature{}, err
	}

	claims, err := s.Tickets.Verify(p.TicketToken)
	if err != nil {
		return domain.Signature{}, err
	}
	if claims.Scope != "sign" {
		return domain.Signature{}, apierrors.Forbidden("mismatch:scope", "ticket scope mismatch")
	}
	if claims.IdentityID != p.IdentityID {
		return domain.Signature{}, apierrors.Forbidden("mismatch:identity", "ticket identity mismatch")
	}
	if claims.DigestHash != digestHash {
		return domain.Signature{}, apierrors.Forbidden("mismatch:digest", "ticket digest mismatch")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	if s.Nonces.CheckAndInsert(claims.Nonce, expiresAt) {
		return domain.Signature{}, apierrors.Conflict("replay", "nonce already used")
	}

	digestBytes, err := idutil.DigestBytes(normalized)
	if err != nil {
		return domain.Signature{}, err
	}

	alg := p.Alg
	if alg == "" {
		alg = AlgSchnorr
	}

	var result domain.Signature
	err = s.Keys.withPrivateKey(p.IdentityID, func(priv *btcec.PrivateKey) error {
		switch alg {
		case AlgECDSA:
			sig, v, signErr := signECDSARecoverable(priv, digestBytes)
			if signErr != nil {
				return signErr
			}
			result = sig
			_ = v
		default:
			sig, signErr := signSchnorr(priv, digestBytes)
			if signErr != nil {
				return signErr
			}
			result = sig
		}
		return nil
	})
	if err != nil {
		return domain.Signature{}, err
	}
	return result, nil
}

func signSchnorr(priv *btcec.PrivateKey, digest []byte) (domain.Signature, error) {
	sig, err := schnorr.Sign(priv, digest)
	if err != nil {
		return domain.Signature{}, apierrors.Internal("schnorr signing failed", err)
	}
	return domain.Signature{Signature: hex.EncodeToString(sig.Serialize())}, nil
}

// signECDSARecoverable produces a low-S ECDSA signature with recovery
// parity, using the compact-signature encoding (spec §4.3 "low-S
// normalization ... together with (r, s, v) where v is the recovery
// parity").
func signECDSARecoverable(priv *btcec.PrivateKey, digest []byte) (domain.Signature, int, error) {
	compact := btcecdsa.SignCompact(priv, digest, true)
	if len(compact) != 65 {
		return domain.Signature{}, 0, apierrors.Internal("unexpected compact signature length", nil)
	}

	header := compact[0]
	recoveryID := int(header-27) & 0x3
	r := compact[1:33]
	sBytes := compact[33:65]

	v := recoveryID
	return domain.Signature{
		Signature: hex.EncodeToString(compact),
		R:         hex.EncodeToString(r),
		S:         hex.EncodeToString(sBytes),
		V:         &v,
	}, recoveryID, nil
}
