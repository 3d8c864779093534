// Package identity orchestrates the identity lifecycle operations that sit
// above the raw store and enclave client: create (generate/export/backup
// sequencing, spec §4.4), sign-intent issuance and sign consumption (spec
// §4.2), the internally-ticketed batch-sign path, and destroy (spec §4.4
// "Destroy flow"). Grounded on the teacher's internal/app service-struct
// idiom: one small struct per domain concern, composing the store and
// collaborator clients already wired by internal/app.Application.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/keyvault-labs/custodian/internal/apierrors"
	"github.com/keyvault-labs/custodian/internal/audit"
	"github.com/keyvault-labs/custodian/internal/domain"
	"github.com/keyvault-labs/custodian/internal/enclaveclient"
	"github.com/keyvault-labs/custodian/internal/idutil"
	"github.com/keyvault-labs/custodian/internal/store"
	"github.com/keyvault-labs/custodian/internal/ticket"
)

// DefaultAlg is the only curve this service supports (spec §3 "alg =
// secp256k1").
const DefaultAlg = "secp256k1"

// Service orchestrates identity creation, sign-intent/sign, sign-batch, and
// destroy.
type Service struct {
	Store   store.Store
	Enclave *enclaveclient.Restorer
	Tickets *ticket.Issuer
	Audit   *audit.Recorder
}

// Create performs the four-step create sequence (spec §4.4): generate in
// the enclave, export a sealed backup, persist the backup, then persist the
// identity row. A failure after generate attempts an enclave cleanup and
// records a best-effort audit event rather than leaving a dangling record.
func (s *Service) Create(ctx context.Context, userID, alg string) (domain.Identity, error) {
	if alg == "" {
		alg = DefaultAlg
	}
	if alg != DefaultAlg {
		return domain.Identity{}, apierrors.Validation("alg must be secp256k1")
	}

	identityID := uuid.NewString()

	pubKey, err := s.Enclave.Enclave.Generate(ctx, identityID, alg)
	if err != nil {
		return domain.Identity{}, err
	}

	backupAlg, sealedKey, err := s.Enclave.Enclave.Export(ctx, identityID)
	if err != nil {
		s.cleanupFailedCreate(ctx, userID, identityID, err)
		return domain.Identity{}, err
	}

	now := time.Now().UTC()
	if err := s.Store.Backups().Put(ctx, domain.KeyBackup{
		IdentityID: identityID,
		Alg:        backupAlg,
		SealedKey:  sealedKey,
	}); err != nil {
		s.cleanupFailedCreate(ctx, userID, identityID, err)
		return domain.Identity{}, apierrors.Internal("failed to persist key backup", err)
	}

	ident := domain.Identity{
		ID:        identityID,
		UserID:    userID,
		Alg:       alg,
		PublicKey: pubKey,
		Status:    domain.IdentityActive,
		CreatedAt: now,
	}
	if err := s.Store.Identities().Create(ctx, ident); err != nil {
		s.cleanupFailedCreate(ctx, userID, identityID, err)
		return domain.Identity{}, apierrors.Internal("failed to persist identity", err)
	}

	if err := s.Audit.Record(ctx, userID, identityID, domain.ActionIdentityCreate, nil); err != nil {
		return domain.Identity{}, apierrors.Internal("failed to append audit event", err)
	}

	return ident, nil
}

// cleanupFailedCreate attempts to remove the orphaned enclave key and any
// key backup already written after a failure downstream of generate, and
// records a best-effort
// identity.create_failed audit event so the failure is visible even though
// no identity row exists (spec §4.4 "surface a surfaced error but do not
// leave a dangling backup referring to a non-existent identity row").
func (s *Service) cleanupFailedCreate(ctx context.Context, userID, identityID string, cause error) {
	_ = s.Enclave.Enclave.Destroy(ctx, identityID)
	_ = s.Store.Backups().Delete(ctx, identityID)
	_ = s.Audit.Record(ctx, userID, identityID, domain.ActionIdentityCreateFailed, map[string]interface{}{
		"error": cause.Error(),
	})
}

// loadOwned loads identityID and verifies it belongs to userID, reporting
// not-found rather than forbidden when it does not, so cross-user probing
// cannot distinguish "doesn't exist" from "belongs to someone else".
func (s *Service) loadOwned(ctx context.Context, userID, identityID string) (domain.Identity, error) {
	ident, err := s.Store.Identities().Get(ctx, identityID)
	if err != nil {
		return domain.Identity{}, err
	}
	if ident.UserID != userID {
		return domain.Identity{}, apierrors.NotFound("identity not found")
	}
	return ident, nil
}

// IntentResult is the response shape for sign-intent.
type IntentResult struct {
	Ticket domain.Ticket
	Token  string
}

// SignIntent mints a fresh single-use ticket binding digestHex to
// identityID for userID (spec §4.2 "Issuance").
func (s *Service) SignIntent(ctx context.Context, userID, identityID, digestHex, scope string) (IntentResult, error) {
	if scope == "" {
		scope = "sign"
	}
	if scope != "sign" {
		return IntentResult{}, apierrors.Validation(`scope must be "sign"`)
	}

	ident, err := s.loadOwned(ctx, userID, identityID)
	if err != nil {
		return IntentResult{}, err
	}
	if ident.Status != domain.IdentityActive {
		return IntentResult{}, apierrors.Conflict("inactive", "identity is not active")
	}

	normalized, err := idutil.NormalizeDigest(digestHex)
	if err != nil {
		return IntentResult{}, err
	}
	digestHash, err := idutil.DigestHash(normalized)
	if err != nil {
		return IntentResult{}, err
	}

	jti := uuid.NewString()
	nonce, err := randomNonce()
	if err != nil {
		return IntentResult{}, err
	}

	token, expiresAt, err := s.Tickets.Mint(ticket.MintParams{
		JTI:        jti,
		UserID:     userID,
		IdentityID: identityID,
		DigestHash: digestHash,
		Scope:      scope,
		Nonce:      nonce,
	})
	if err != nil {
		return IntentResult{}, err
	}

	row := domain.Ticket{
		ID:         jti,
		IdentityID: identityID,
		DigestHash: digestHash,
		Scope:      scope,
		Nonce:      nonce,
		ExpiresAt:  expiresAt,
	}
	if err := s.Store.Tickets().Create(ctx, row); err != nil {
		return IntentResult{}, apierrors.Internal("failed to persist ticket", err)
	}

	return IntentResult{Ticket: row, Token: token}, nil
}

// Sign consumes a single-use ticket to produce a signature (spec §4.2
// "Consumption"). The five checks run in the order the spec lists them, each
// with its own distinct error.
func (s *Service) Sign(ctx context.Context, userID, identityID, digestHex, ticketToken string) (domain.Signature, error) {
	ident, err := s.loadOwned(ctx, userID, identityID)
	if err != nil {
		return domain.Signature{}, err
	}
	if ident.Status != domain.IdentityActive {
		return domain.Signature{}, apierrors.Conflict("inactive", "identity is not active")
	}

	normalized, err := idutil.NormalizeDigest(digestHex)
	if err != nil {
		return domain.Signature{}, err
	}
	digestHash, err := idutil.DigestHash(normalized)
	if err != nil {
		return domain.Signature{}, err
	}

	claims, err := s.Tickets.Verify(ticketToken)
	if err != nil {
		return domain.Signature{}, err
	}
	if claims.UserID != userID {
		return domain.Signature{}, apierrors.Forbidden("mismatch:sub", "ticket subject mismatch")
	}
	if claims.IdentityID != identityID {
		return domain.Signature{}, apierrors.Forbidden("mismatch:identity", "ticket identity mismatch")
	}
	if claims.Scope != "sign" {
		return domain.Signature{}, apierrors.Forbidden("mismatch:scope", "ticket scope mismatch")
	}
	if claims.DigestHash != digestHash {
		return domain.Signature{}, apierrors.Forbidden("mismatch:digest", "ticket digest mismatch")
	}

	row, err := s.Store.Tickets().Get(ctx, claims.ID)
	if err != nil {
		return domain.Signature{}, err
	}
	if row.UsedAt != nil {
		return domain.Signature{}, apierrors.Conflict("already-used", "ticket already used")
	}
	if !row.ExpiresAt.After(time.Now()) {
		return domain.Signature{}, apierrors.Gone("ticket expired")
	}

	sig, err := s.Enclave.Sign(ctx, identityID, normalized, ticketToken, "")
	if err != nil {
		return domain.Signature{}, err
	}

	if err := s.Store.Tickets().MarkUsed(ctx, claims.ID); err != nil {
		return domain.Signature{}, apierrors.Internal("failed to mark ticket used", err)
	}
	if err := s.Audit.Record(ctx, userID, identityID, domain.ActionIdentitySign, nil); err != nil {
		return domain.Signature{}, apierrors.Internal("failed to append audit event", err)
	}

	return sig, nil
}

// SignBatch signs every digest in digestsHex against identityID, minting and
// consuming one internal ticket per digest so each signature still passes
// through the enclave's nonce-ledger replay barrier (spec §4.2's "enclave
// independently re-verifies the ticket" applies uniformly, whether the
// ticket was handed to a client or minted and consumed within one request).
// Processing stops at the first failing digest (spec §6 "atomic per item,
// fails on first error").
func (s *Service) SignBatch(ctx context.Context, userID, identityID string, digestsHex []string) ([]domain.Signature, error) {
	ident, err := s.loadOwned(ctx, userID, identityID)
	if err != nil {
		return nil, err
	}
	if ident.Status != domain.IdentityActive {
		return nil, apierrors.Conflict("inactive", "identity is not active")
	}

	sigs := make([]domain.Signature, 0, len(digestsHex))
	for _, digestHex := range digestsHex {
		sig, err := s.signOneInternal(ctx, userID, identityID, digestHex)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// signOneInternal mints a single-use ticket, immediately consumes it, and
// records an audit event tagged as part of a batch. It mirrors SignIntent
// plus Sign without the intermediate store round trip a client would need.
func (s *Service) signOneInternal(ctx context.Context, userID, identityID, digestHex string) (domain.Signature, error) {
	normalized, err := idutil.NormalizeDigest(digestHex)
	if err != nil {
		return domain.Signature{}, err
	}
	digestHash, err := idutil.DigestHash(normalized)
	if err != nil {
		return domain.Signature{}, err
	}

	jti := uuid.NewString()
	nonce, err := randomNonce()
	if err != nil {
		return domain.Signature{}, err
	}

	token, _, err := s.Tickets.Mint(ticket.MintParams{
		JTI:        jti,
		UserID:     userID,
		IdentityID: identityID,
		DigestHash: digestHash,
		Scope:      "sign",
		Nonce:      nonce,
	})
	if err != nil {
		return domain.Signature{}, err
	}

	sig, err := s.Enclave.Sign(ctx, identityID, normalized, token, "")
	if err != nil {
		return domain.Signature{}, err
	}

	if err := s.Audit.Record(ctx, userID, identityID, domain.ActionIdentitySign, map[string]interface{}{"batch": true}); err != nil {
		return domain.Signature{}, apierrors.Internal("failed to append audit event", err)
	}
	return sig, nil
}

// Destroy removes identityID's key (restoring from backup first if the
// enclave has lost it, so a leaked in-memory copy is wiped too), marks the
// identity row destroyed, deletes its backup, and records the audit event
// (spec §4.4 "Destroy flow").
func (s *Service) Destroy(ctx context.Context, userID, identityID string) error {
	ident, err := s.loadOwned(ctx, userID, identityID)
	if err != nil {
		return err
	}
	if ident.Status != domain.IdentityActive {
		return apierrors.Conflict("inactive", "identity is already destroyed")
	}

	if err := s.Enclave.Destroy(ctx, identityID); err != nil {
		return err
	}
	if err := s.Store.Identities().MarkDestroyed(ctx, identityID); err != nil {
		return apierrors.Internal("failed to mark identity destroyed", err)
	}
	if err := s.Store.Backups().Delete(ctx, identityID); err != nil {
		return apierrors.Internal("failed to delete key backup", err)
	}
	if err := s.Audit.Record(ctx, userID, identityID, domain.ActionIdentityDestroy, map[string]interface{}{
		"reason": "user-request",
	}); err != nil {
		return apierrors.Internal("failed to append audit event", err)
	}
	return nil
}

// randomNonce generates a fresh opaque ticket nonce, grounded on the same
// crypto/rand source the enclave's key generation uses.
func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", apierrors.Internal("failed to generate nonce", err)
	}
	return hex.EncodeToString(b), nil
}
